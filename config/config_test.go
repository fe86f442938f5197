package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/config"
	"github.com/warp/loyalty-engine/loyalty"
)

// chdirTemp runs Load from an empty (or seeded) temp directory so tests
// never pick up a developer's local loyalty.yml.
func chdirTemp(t *testing.T, files map[string]string) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

// =============================================================================
// DEFAULTS
// =============================================================================

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	chdirTemp(t, nil)

	holder, err := config.Load(nil)
	require.NoError(t, err)
	cfg := holder.Get()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Server.DBDriver)
	assert.Equal(t, "info", cfg.Server.LogLevel)

	assert.True(t, cfg.Engine.PointsPerCurrencyUnit.Equal(decimal.NewFromFloat(0.1)))
	assert.True(t, cfg.Engine.MinOrderAmount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(50), cfg.Engine.MinRedemption)
	assert.Equal(t, 15*time.Minute, cfg.Engine.TokenTTL)
	assert.Equal(t, 3, cfg.Engine.ConflictRetries)

	require.NotNil(t, cfg.Tiers)
	assert.Equal(t, loyalty.TierGold, cfg.Tiers.TierFor(1200))
}

// =============================================================================
// FILE OVERRIDES
// =============================================================================

func TestLoad_FileOverridesDefaults(t *testing.T) {
	chdirTemp(t, map[string]string{"loyalty.yml": `
server:
  port: 9090
  dbDriver: Bolt
  dbPath: /var/lib/loyalty.bolt
  logLevel: debug
engine:
  minRedemption: 25
  tokenTTLMinutes: 5
`})

	holder, err := config.Load(nil)
	require.NoError(t, err)
	cfg := holder.Get()

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "bolt", cfg.Server.DBDriver, "driver is lowercased")
	assert.Equal(t, "/var/lib/loyalty.bolt", cfg.Server.DBPath)
	assert.Equal(t, int64(25), cfg.Engine.MinRedemption)
	assert.Equal(t, 5*time.Minute, cfg.Engine.TokenTTL)

	// Untouched keys keep their defaults.
	assert.True(t, cfg.Engine.PointsPerCurrencyUnit.Equal(decimal.NewFromFloat(0.1)))
}

func TestLoad_CustomTierTable(t *testing.T) {
	chdirTemp(t, map[string]string{"loyalty.yml": `
tiers:
  - tier: bronze
    minPoints: 0
    discountPercent: 1
    maxDiscountPerOrder: 30
    pointsRequiredToRedeem: 40
    earningMultiplier: 1
  - tier: gold
    minPoints: 800
    discountPercent: 8
    maxDiscountPerOrder: 120
    pointsRequiredToRedeem: 120
    earningMultiplier: 1.5
`})

	holder, err := config.Load(nil)
	require.NoError(t, err)
	cfg := holder.Get()

	assert.Equal(t, loyalty.TierBronze, cfg.Tiers.TierFor(799))
	assert.Equal(t, loyalty.TierGold, cfg.Tiers.TierFor(800))
	assert.Equal(t, int64(40), cfg.Tiers.RuleFor(loyalty.TierBronze).PointsRequiredToRedeem)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestLoad_RejectsNonPositiveTTL(t *testing.T) {
	chdirTemp(t, map[string]string{"loyalty.yml": `
engine:
  tokenTTLMinutes: 0
`})

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokenTTLMinutes")
}

func TestLoad_RejectsZeroRedemptionRate(t *testing.T) {
	chdirTemp(t, map[string]string{"loyalty.yml": `
engine:
  redemptionRate: 0
`})

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redemptionRate")
}

func TestLoad_RejectsInvalidTierTable(t *testing.T) {
	// Lowest tier not at zero points.
	chdirTemp(t, map[string]string{"loyalty.yml": `
tiers:
  - tier: silver
    minPoints: 500
    discountPercent: 5
    maxDiscountPerOrder: 100
    pointsRequiredToRedeem: 100
    earningMultiplier: 1
`})

	_, err := config.Load(nil)
	require.Error(t, err)
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

func TestLoad_EnvOverridesFile(t *testing.T) {
	chdirTemp(t, map[string]string{"loyalty.yml": `
server:
  port: 9090
`})
	t.Setenv("LOYALTY_SERVER_PORT", "7070")

	holder, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 7070, holder.Get().Server.Port)
}
