/*
config.go - Engine tunables

PURPOSE:
  All business constants in one struct so deployments can tune them without
  code changes. The config package loads these from file/env (viper); the
  engine itself only ever sees this plain struct.
*/
package loyalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the externally tunable constants of the engine.
type Config struct {
	// PointsPerCurrencyUnit converts order value to base points:
	// floor(amount * PointsPerCurrencyUnit * multiplier).
	PointsPerCurrencyUnit decimal.Decimal

	// MinOrderAmount is the order value below which no points are earned
	// and no discount is available.
	MinOrderAmount decimal.Decimal

	// RedemptionRate converts points to currency: floor(points * rate).
	RedemptionRate decimal.Decimal

	// MinRedemption is the smallest number of points a customer may spend
	// in one redemption.
	MinRedemption int64

	// MaxRedemptionPercent caps a points redemption at a percentage of the
	// order amount. MaxRedemptionAmount is the absolute cap; the lower of
	// the two wins.
	MaxRedemptionPercent decimal.Decimal
	MaxRedemptionAmount  decimal.Decimal

	// Earning bonuses. Multipliers compose by multiplication (tier rate,
	// then first order, then festival); the birthday bonus is a fixed
	// points add-on applied afterward.
	FirstOrderMultiplier decimal.Decimal
	FestivalMultiplier   decimal.Decimal
	BirthdayBonusPoints  int64

	// TokenTTL bounds redemption token validity. Enforced at validation
	// time, not by deletion.
	TokenTTL time.Duration

	// ConflictRetries bounds automatic retries of the atomic redeem path
	// when an optimistic write loses to a concurrent staff device.
	ConflictRetries int
}

// DefaultConfig returns the stock configuration: 1 point per 10 currency
// units, 1:1 redemption, 15 minute tokens.
func DefaultConfig() Config {
	return Config{
		PointsPerCurrencyUnit: decimal.NewFromFloat(0.1),
		MinOrderAmount:        decimal.NewFromInt(100),
		RedemptionRate:        decimal.NewFromInt(1),
		MinRedemption:         50,
		MaxRedemptionPercent:  decimal.NewFromInt(50),
		MaxRedemptionAmount:   decimal.NewFromInt(500),
		FirstOrderMultiplier:  decimal.NewFromInt(2),
		FestivalMultiplier:    decimal.NewFromFloat(1.5),
		BirthdayBonusPoints:   50,
		TokenTTL:              15 * time.Minute,
		ConflictRetries:       3,
	}
}
