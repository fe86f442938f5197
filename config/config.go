/*
Package config loads the engine's tunables from file and environment.

PURPOSE:
  Every business constant (earning rate, thresholds, redemption caps, tier
  table, token TTL) is externally tunable per deployment. Configuration is
  read with viper from loyalty.yml, overridable via LOYALTY_* environment
  variables, with hot reload on file change so discount rules can be
  adjusted without a restart.

PRECEDENCE:
  defaults < config file < environment

SEE ALSO:
  - loyalty/config.go: the plain struct the engine consumes
  - loyalty/tiers.go: tier table validation applied on every (re)load
*/
package config

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/warp/loyalty-engine/loyalty"
)

// File is the loaded configuration: server settings plus the engine
// tunables and tier table.
type File struct {
	Server ServerConfig
	Engine loyalty.Config
	Tiers  *loyalty.TierTable
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int
	DBDriver       string // "sqlite", "bolt", or "memory"
	DBPath         string
	LogLevel       string
	AllowedOrigins []string
}

// raw mirrors the config file shape before validation.
type raw struct {
	Server struct {
		Port           int      `mapstructure:"port"`
		DBDriver       string   `mapstructure:"dbDriver"`
		DBPath         string   `mapstructure:"dbPath"`
		LogLevel       string   `mapstructure:"logLevel"`
		AllowedOrigins []string `mapstructure:"allowedOrigins"`
	} `mapstructure:"server"`
	Engine struct {
		PointsPerCurrencyUnit float64 `mapstructure:"pointsPerCurrencyUnit"`
		MinOrderAmount        float64 `mapstructure:"minOrderAmount"`
		RedemptionRate        float64 `mapstructure:"redemptionRate"`
		MinRedemption         int64   `mapstructure:"minRedemption"`
		MaxRedemptionPercent  float64 `mapstructure:"maxRedemptionPercent"`
		MaxRedemptionAmount   float64 `mapstructure:"maxRedemptionAmount"`
		FirstOrderMultiplier  float64 `mapstructure:"firstOrderMultiplier"`
		FestivalMultiplier    float64 `mapstructure:"festivalMultiplier"`
		BirthdayBonusPoints   int64   `mapstructure:"birthdayBonusPoints"`
		TokenTTLMinutes       int     `mapstructure:"tokenTTLMinutes"`
		ConflictRetries       int     `mapstructure:"conflictRetries"`
	} `mapstructure:"engine"`
	Tiers []struct {
		Tier                   string  `mapstructure:"tier"`
		MinPoints              int64   `mapstructure:"minPoints"`
		DiscountPercent        float64 `mapstructure:"discountPercent"`
		FlatDiscount           float64 `mapstructure:"flatDiscount"`
		FixedBonus             float64 `mapstructure:"fixedBonus"`
		MaxDiscountPerOrder    float64 `mapstructure:"maxDiscountPerOrder"`
		PointsRequiredToRedeem int64   `mapstructure:"pointsRequiredToRedeem"`
		EarningMultiplier      float64 `mapstructure:"earningMultiplier"`
	} `mapstructure:"tiers"`
}

// Holder exposes the current config and swaps it atomically on reload.
type Holder struct {
	current atomic.Value // holds File
}

// Get returns the config as of the last successful (re)load.
func (h *Holder) Get() File {
	return h.current.Load().(File)
}

// Load reads loyalty.yml (searching /etc/loyalty, the working directory),
// applies env overrides, validates, and starts watching for changes.
// An invalid reload is logged and ignored; the previous config stays live.
func Load(logger *zap.Logger) (*Holder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	v := viper.New()
	v.SetConfigName("loyalty")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/loyalty")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LOYALTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No file: defaults plus env is a valid deployment.
	}

	cfg, err := parse(v)
	if err != nil {
		return nil, err
	}

	holder := &Holder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := parse(v)
		if err != nil {
			logger.Warn("invalid config ignored on reload", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		logger.Info("config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func setDefaults(v *viper.Viper) {
	def := loyalty.DefaultConfig()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.dbDriver", "sqlite")
	v.SetDefault("server.dbPath", "loyalty.db")
	v.SetDefault("server.logLevel", "info")
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:5173", "http://localhost:8080"})

	v.SetDefault("engine.pointsPerCurrencyUnit", def.PointsPerCurrencyUnit.InexactFloat64())
	v.SetDefault("engine.minOrderAmount", def.MinOrderAmount.InexactFloat64())
	v.SetDefault("engine.redemptionRate", def.RedemptionRate.InexactFloat64())
	v.SetDefault("engine.minRedemption", def.MinRedemption)
	v.SetDefault("engine.maxRedemptionPercent", def.MaxRedemptionPercent.InexactFloat64())
	v.SetDefault("engine.maxRedemptionAmount", def.MaxRedemptionAmount.InexactFloat64())
	v.SetDefault("engine.firstOrderMultiplier", def.FirstOrderMultiplier.InexactFloat64())
	v.SetDefault("engine.festivalMultiplier", def.FestivalMultiplier.InexactFloat64())
	v.SetDefault("engine.birthdayBonusPoints", def.BirthdayBonusPoints)
	v.SetDefault("engine.tokenTTLMinutes", int(def.TokenTTL/time.Minute))
	v.SetDefault("engine.conflictRetries", def.ConflictRetries)
}

func parse(v *viper.Viper) (File, error) {
	var r raw
	if err := v.Unmarshal(&r); err != nil {
		return File{}, fmt.Errorf("unmarshal config: %w", err)
	}

	engine := loyalty.Config{
		PointsPerCurrencyUnit: decimal.NewFromFloat(r.Engine.PointsPerCurrencyUnit),
		MinOrderAmount:        decimal.NewFromFloat(r.Engine.MinOrderAmount),
		RedemptionRate:        decimal.NewFromFloat(r.Engine.RedemptionRate),
		MinRedemption:         r.Engine.MinRedemption,
		MaxRedemptionPercent:  decimal.NewFromFloat(r.Engine.MaxRedemptionPercent),
		MaxRedemptionAmount:   decimal.NewFromFloat(r.Engine.MaxRedemptionAmount),
		FirstOrderMultiplier:  decimal.NewFromFloat(r.Engine.FirstOrderMultiplier),
		FestivalMultiplier:    decimal.NewFromFloat(r.Engine.FestivalMultiplier),
		BirthdayBonusPoints:   r.Engine.BirthdayBonusPoints,
		TokenTTL:              time.Duration(r.Engine.TokenTTLMinutes) * time.Minute,
		ConflictRetries:       r.Engine.ConflictRetries,
	}
	if engine.TokenTTL <= 0 {
		return File{}, fmt.Errorf("tokenTTLMinutes must be positive")
	}
	if engine.PointsPerCurrencyUnit.IsNegative() {
		return File{}, fmt.Errorf("pointsPerCurrencyUnit must be non-negative")
	}
	// At a zero rate points cannot fund any discount.
	if !engine.RedemptionRate.IsPositive() {
		return File{}, fmt.Errorf("redemptionRate must be positive")
	}

	tiers := loyalty.DefaultTierTable()
	if len(r.Tiers) > 0 {
		rules := make([]loyalty.TierRule, 0, len(r.Tiers))
		for _, row := range r.Tiers {
			rules = append(rules, loyalty.TierRule{
				Tier:                   loyalty.Tier(row.Tier),
				MinPoints:              row.MinPoints,
				DiscountPercent:        decimal.NewFromFloat(row.DiscountPercent),
				FlatDiscount:           decimal.NewFromFloat(row.FlatDiscount),
				FixedBonus:             decimal.NewFromFloat(row.FixedBonus),
				MaxDiscountPerOrder:    decimal.NewFromFloat(row.MaxDiscountPerOrder),
				PointsRequiredToRedeem: row.PointsRequiredToRedeem,
				EarningMultiplier:      decimal.NewFromFloat(row.EarningMultiplier),
			})
		}
		var err error
		tiers, err = loyalty.NewTierTable(rules)
		if err != nil {
			return File{}, err
		}
	}

	return File{
		Server: ServerConfig{
			Port:           r.Server.Port,
			DBDriver:       strings.ToLower(r.Server.DBDriver),
			DBPath:         r.Server.DBPath,
			LogLevel:       r.Server.LogLevel,
			AllowedOrigins: r.Server.AllowedOrigins,
		},
		Engine: engine,
		Tiers:  tiers,
	}, nil
}
