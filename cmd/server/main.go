/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty engine server.
  Handles configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load loyalty.yml (viper) and build the logger
  3. Open the profile store (sqlite, bolt, or memory)
  4. Wire calculator, transactor, resolver, and handlers
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides config when set)
  -db      Database path (overrides config when set)
           Use ":memory:" with the sqlite driver for an in-memory database
  -driver  Store backend: sqlite, bolt, or memory (overrides config when set)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/loyalty.db"

  # Run with the bbolt backend
  ./server -driver=bolt -db="./data/loyalty.bolt"

  # Run on different port
  ./server -port=3000

ENVIRONMENT:
  Any config key can be overridden with a LOYALTY_-prefixed variable,
  e.g. LOYALTY_SERVER_PORT=9090. See config/config.go.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - config/config.go: File loading and hot reload
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/loyalty-engine/api"
	"github.com/warp/loyalty-engine/config"
	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/store"
	"github.com/warp/loyalty-engine/store/bolt"
	"github.com/warp/loyalty-engine/store/sqlite"
	"github.com/warp/loyalty-engine/token"
)

func main() {
	// Flags override the config file when explicitly set.
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "database path (overrides config)")
	driver := flag.String("driver", "", "store backend: sqlite, bolt, or memory (overrides config)")
	flag.Parse()

	holder, err := config.Load(nil)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := holder.Get()

	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}
	if *driver != "" {
		cfg.Server.DBDriver = *driver
	}

	logger, err := buildLogger(cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	st, closeStore, err := openStore(cfg.Server)
	if err != nil {
		logger.Fatal("failed to open store",
			zap.String("driver", cfg.Server.DBDriver),
			zap.String("path", cfg.Server.DBPath),
			zap.Error(err))
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := loyalty.NewMetrics(registry)

	codec := token.NewCodec(token.WithTTL(cfg.Engine.TokenTTL))
	calc := loyalty.NewCalculator(cfg.Tiers, cfg.Engine)
	transactor := loyalty.NewTransactor(st, calc, codec, cfg.Engine, logger, metrics)
	resolver := loyalty.NewResolver(st, codec, logger, metrics)

	handler := api.NewHandler(transactor, resolver, cfg.Tiers, logger)
	router := api.NewRouter(handler, logger, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Registry:       registry,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("driver", cfg.Server.DBDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// buildLogger returns a production zap logger at the configured level.
func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// openStore constructs the backend named by the config. The returned
// close func is a no-op for the memory backend.
func openStore(sc config.ServerConfig) (loyalty.Store, func(), error) {
	switch sc.DBDriver {
	case "sqlite":
		s, err := sqlite.New(sc.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "bolt":
		s, err := bolt.New(sc.DBPath, nil)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "memory":
		return store.NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", sc.DBDriver)
	}
}
