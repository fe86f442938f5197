/*
tiers.go - Static tier table: thresholds and per-tier discount rules

PURPOSE:
  Maps point thresholds to membership tiers and per-tier discount rules.
  The table is immutable after construction; classification is a pure
  function of a point balance.

TIER LADDER (defaults):
  bronze:    0+ points, 2% or flat 10 (whichever is smaller), cap 50
  silver:  500+ points, 5%, cap 100
  gold:   1000+ points, 10%, cap 150
  platinum: 2500+ points, 15% + fixed bonus 25, cap 250

ELIGIBILITY FLOOR:
  Each tier carries PointsRequiredToRedeem, distinct from the redemption
  amount formula. A customer below that floor is ineligible even if their
  balance would mathematically justify a nonzero discount.

SEE ALSO:
  - calculator.go: applies these rules to order amounts
  - config/: table rows can be overridden per deployment
*/
package loyalty

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TIER RULE - One row per tier
// =============================================================================

// TierRule is the static configuration for one tier.
type TierRule struct {
	Tier      Tier
	MinPoints int64

	// Discount shape. Percent applies to the order amount; FlatDiscount,
	// where non-zero, competes with the percentage (smaller wins, bronze
	// only in the defaults). FixedBonus is added after the percentage
	// (platinum only in the defaults).
	DiscountPercent decimal.Decimal
	FlatDiscount    decimal.Decimal
	FixedBonus      decimal.Decimal

	// MaxDiscountPerOrder caps whatever the shape above produces.
	MaxDiscountPerOrder decimal.Decimal

	// PointsRequiredToRedeem is the eligibility floor for tier discounts.
	PointsRequiredToRedeem int64

	// EarningMultiplier scales points earned per order for this tier.
	EarningMultiplier decimal.Decimal
}

// =============================================================================
// TIER TABLE - Immutable lookup
// =============================================================================

// TierTable holds the tier rules sorted by ascending MinPoints.
type TierTable struct {
	rules []TierRule
}

// NewTierTable validates and builds a table. Rules must cover distinct
// tiers with strictly increasing point thresholds and discount caps, and
// the lowest tier must start at zero points.
func NewTierTable(rules []TierRule) (*TierTable, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("tier table: no rules")
	}
	sorted := make([]TierRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinPoints < sorted[j].MinPoints })

	if sorted[0].MinPoints != 0 {
		return nil, fmt.Errorf("tier table: lowest tier must start at 0 points, got %d", sorted[0].MinPoints)
	}
	seen := make(map[Tier]bool, len(sorted))
	for i, r := range sorted {
		if !r.Tier.Valid() {
			return nil, fmt.Errorf("tier table: unknown tier %q", r.Tier)
		}
		if seen[r.Tier] {
			return nil, fmt.Errorf("tier table: duplicate tier %q", r.Tier)
		}
		seen[r.Tier] = true
		if r.MaxDiscountPerOrder.IsNegative() || r.DiscountPercent.IsNegative() {
			return nil, fmt.Errorf("tier table: negative discount for tier %q", r.Tier)
		}
		if i > 0 {
			prev := sorted[i-1]
			if r.MinPoints == prev.MinPoints {
				return nil, fmt.Errorf("tier table: tiers %q and %q share threshold %d", prev.Tier, r.Tier, r.MinPoints)
			}
			if !r.MaxDiscountPerOrder.GreaterThan(prev.MaxDiscountPerOrder) {
				return nil, fmt.Errorf("tier table: discount cap must increase from %q to %q", prev.Tier, r.Tier)
			}
		}
	}
	return &TierTable{rules: sorted}, nil
}

// DefaultTierTable returns the standard four-tier ladder.
func DefaultTierTable() *TierTable {
	t, err := NewTierTable([]TierRule{
		{
			Tier:                   TierBronze,
			MinPoints:              0,
			DiscountPercent:        decimal.NewFromInt(2),
			FlatDiscount:           decimal.NewFromInt(10),
			MaxDiscountPerOrder:    decimal.NewFromInt(50),
			PointsRequiredToRedeem: 50,
			EarningMultiplier:      decimal.NewFromInt(1),
		},
		{
			Tier:                   TierSilver,
			MinPoints:              500,
			DiscountPercent:        decimal.NewFromInt(5),
			MaxDiscountPerOrder:    decimal.NewFromInt(100),
			PointsRequiredToRedeem: 100,
			EarningMultiplier:      decimal.NewFromFloat(1.25),
		},
		{
			Tier:                   TierGold,
			MinPoints:              1000,
			DiscountPercent:        decimal.NewFromInt(10),
			MaxDiscountPerOrder:    decimal.NewFromInt(150),
			PointsRequiredToRedeem: 150,
			EarningMultiplier:      decimal.NewFromFloat(1.5),
		},
		{
			Tier:                   TierPlatinum,
			MinPoints:              2500,
			DiscountPercent:        decimal.NewFromInt(15),
			FixedBonus:             decimal.NewFromInt(25),
			MaxDiscountPerOrder:    decimal.NewFromInt(250),
			PointsRequiredToRedeem: 200,
			EarningMultiplier:      decimal.NewFromInt(2),
		},
	})
	if err != nil {
		panic(err) // defaults are known-good
	}
	return t
}

// TierFor returns the highest tier whose MinPoints <= points, evaluated in
// descending threshold order, defaulting to the lowest tier. Pure function
// of points alone.
func (t *TierTable) TierFor(points int64) Tier {
	for i := len(t.rules) - 1; i >= 0; i-- {
		if points >= t.rules[i].MinPoints {
			return t.rules[i].Tier
		}
	}
	return t.rules[0].Tier
}

// RuleFor returns the rule for a tier. Unknown tiers fall back to the
// lowest rule so a corrupt profile still gets bronze treatment.
func (t *TierTable) RuleFor(tier Tier) TierRule {
	for _, r := range t.rules {
		if r.Tier == tier {
			return r
		}
	}
	return t.rules[0]
}

// Rules returns a copy of the rules in ascending threshold order.
func (t *TierTable) Rules() []TierRule {
	out := make([]TierRule, len(t.rules))
	copy(out, t.rules)
	return out
}
