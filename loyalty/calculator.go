/*
calculator.go - Points arithmetic and discount computation

PURPOSE:
  Pure calculation functions: points earned from an order amount, currency
  discount from a point balance, tier-rule discounts, and redemption
  validation. Nothing here touches storage; everything is deterministic in
  its inputs.

PROPAGATION POLICY:
  These functions return structured results with an Eligible/Valid flag and
  a human-readable Reason instead of errors. "Below minimum order" is an
  expected business outcome, not a failure.

EARNING FORMULA:
  earned = floor(amount * pointsPerCurrencyUnit
                 * tierMultiplier * firstOrderMultiplier * festivalMultiplier)
           + birthdayBonus
  Multipliers compose by multiplication, in that order. The birthday bonus
  is added afterward, never multiplied. Orders below MinOrderAmount earn 0.

SEE ALSO:
  - tiers.go: the per-tier rules applied here
  - transactor.go: re-runs these calculations against freshly read balances
*/
package loyalty

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Calculator performs all loyalty arithmetic against a tier table and the
// engine config.
type Calculator struct {
	Table  *TierTable
	Config Config
}

// NewCalculator builds a Calculator.
func NewCalculator(table *TierTable, cfg Config) *Calculator {
	return &Calculator{Table: table, Config: cfg}
}

// =============================================================================
// POINTS EARNED
// =============================================================================

// EarnOptions carries the per-order bonus context for PointsEarned.
type EarnOptions struct {
	Tier       Tier
	FirstOrder bool
	Festival   bool
	Birthday   bool
}

// PointsEarned computes the points accrued for an order. Returns 0 for
// orders below the minimum order threshold (the birthday bonus does not
// rescue a below-minimum order).
func (c *Calculator) PointsEarned(orderAmount decimal.Decimal, opts EarnOptions) int64 {
	if orderAmount.LessThan(c.Config.MinOrderAmount) {
		return 0
	}

	mult := c.Table.RuleFor(opts.Tier).EarningMultiplier
	if opts.FirstOrder {
		mult = mult.Mul(c.Config.FirstOrderMultiplier)
	}
	if opts.Festival {
		mult = mult.Mul(c.Config.FestivalMultiplier)
	}

	earned := orderAmount.Mul(c.Config.PointsPerCurrencyUnit).Mul(mult).Floor().IntPart()
	if opts.Birthday {
		earned += c.Config.BirthdayBonusPoints
	}
	return earned
}

// DiscountFromPoints converts a point balance to currency:
// floor(points * redemptionRate).
func (c *Calculator) DiscountFromPoints(points int64) decimal.Decimal {
	return decimal.NewFromInt(points).Mul(c.Config.RedemptionRate).Floor()
}

// PointsToFund is the inverse: the smallest point spend whose currency
// value covers amount, ceil(amount / redemptionRate). A non-positive rate
// values points at nothing, so no spend can fund a discount and the
// result is 0.
func (c *Calculator) PointsToFund(amount decimal.Decimal) int64 {
	if !c.Config.RedemptionRate.IsPositive() {
		return 0
	}
	return amount.Div(c.Config.RedemptionRate).Ceil().IntPart()
}

// =============================================================================
// TIER DISCOUNT
// =============================================================================

// DiscountType records which rule produced a tier discount.
type DiscountType string

const (
	DiscountFlat       DiscountType = "flat"
	DiscountPercentage DiscountType = "percentage"
	DiscountNone       DiscountType = "none"
)

// TierDiscountResult is the outcome of TierDiscount.
type TierDiscountResult struct {
	Amount   decimal.Decimal
	Type     DiscountType
	Eligible bool
	Reason   string
}

// TierDiscount computes the tier-rule discount for an order.
//
// Not eligible when the order is below the minimum order threshold or the
// customer's balance is below the tier's PointsRequiredToRedeem floor.
// The tier's cap bounds the result. Where a flat discount competes with the
// percentage (bronze), Type records whichever produced the smaller value.
func (c *Calculator) TierDiscount(orderAmount decimal.Decimal, tier Tier, availablePoints int64) TierDiscountResult {
	ineligible := func(reason string) TierDiscountResult {
		return TierDiscountResult{Amount: decimal.Zero, Type: DiscountNone, Eligible: false, Reason: reason}
	}

	if orderAmount.LessThan(c.Config.MinOrderAmount) {
		return ineligible(fmt.Sprintf("order amount below minimum %s", c.Config.MinOrderAmount))
	}
	rule := c.Table.RuleFor(tier)
	if availablePoints < rule.PointsRequiredToRedeem {
		return ineligible(fmt.Sprintf("need %d points for %s tier discount, have %d",
			rule.PointsRequiredToRedeem, tier, availablePoints))
	}

	percent := orderAmount.Mul(rule.DiscountPercent).Div(decimal.NewFromInt(100)).Floor()
	amount := percent
	dtype := DiscountPercentage

	if rule.FlatDiscount.IsPositive() && rule.FlatDiscount.LessThan(percent) {
		amount = rule.FlatDiscount
		dtype = DiscountFlat
	}
	if rule.FixedBonus.IsPositive() {
		amount = amount.Add(rule.FixedBonus)
	}
	if amount.GreaterThan(rule.MaxDiscountPerOrder) {
		amount = rule.MaxDiscountPerOrder
	}

	return TierDiscountResult{Amount: amount, Type: dtype, Eligible: true}
}

// =============================================================================
// POINTS REDEMPTION
// =============================================================================

// RedemptionQuote is the outcome of Redemption.
type RedemptionQuote struct {
	Discount   decimal.Decimal
	Remaining  decimal.Decimal
	PointsUsed int64
	Valid      bool
	Reason     string
}

// Redemption validates an explicit points spend against business limits and
// quotes the resulting discount. The discount is capped by both a
// percentage-of-order ceiling and an absolute ceiling; the lower wins.
func (c *Calculator) Redemption(pointsToRedeem, availablePoints int64, orderAmount decimal.Decimal) RedemptionQuote {
	invalid := func(reason string) RedemptionQuote {
		return RedemptionQuote{Discount: decimal.Zero, Remaining: orderAmount, Valid: false, Reason: reason}
	}

	if pointsToRedeem <= 0 {
		return invalid("points to redeem must be positive")
	}
	if pointsToRedeem > availablePoints {
		return invalid(fmt.Sprintf("insufficient points: have %d, want %d", availablePoints, pointsToRedeem))
	}
	if pointsToRedeem < c.Config.MinRedemption {
		return invalid(fmt.Sprintf("minimum redemption is %d points", c.Config.MinRedemption))
	}

	discount := c.DiscountFromPoints(pointsToRedeem)
	percentCap := orderAmount.Mul(c.Config.MaxRedemptionPercent).Div(decimal.NewFromInt(100)).Floor()
	if discount.GreaterThan(percentCap) {
		discount = percentCap
	}
	if discount.GreaterThan(c.Config.MaxRedemptionAmount) {
		discount = c.Config.MaxRedemptionAmount
	}

	remaining := orderAmount.Sub(discount)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return RedemptionQuote{
		Discount:   discount,
		Remaining:  remaining,
		PointsUsed: pointsToRedeem,
		Valid:      true,
	}
}

// =============================================================================
// BEST AVAILABLE DISCOUNT
// =============================================================================

// BestKind says which path BestDiscount recommends.
type BestKind string

const (
	BestTier   BestKind = "tier"
	BestPoints BestKind = "points"
	BestNone   BestKind = "none"
)

// BestDiscountResult is the outcome of BestDiscount.
type BestDiscountResult struct {
	Kind       BestKind
	Amount     decimal.Decimal
	PointsUsed int64
	Reason     string
}

// BestDiscount runs both the tier calculator and a full-balance points
// redemption and recommends whichever yields the larger discount. The tier
// path wins ties so the recommendation is deterministic. Returns BestNone
// when neither path is available.
//
// The points path quotes against the full balance, but PointsUsed is only
// the spend that funds the (possibly capped) discount: a customer whose
// discount is bounded by the percentage or absolute ceiling keeps the
// points the caps made unspendable.
func (c *Calculator) BestDiscount(orderAmount decimal.Decimal, tier Tier, availablePoints int64) BestDiscountResult {
	tierRes := c.TierDiscount(orderAmount, tier, availablePoints)
	pointsRes := c.Redemption(availablePoints, availablePoints, orderAmount)
	pointsNeeded := c.PointsToFund(pointsRes.Discount)

	switch {
	case !tierRes.Eligible && !pointsRes.Valid:
		return BestDiscountResult{Kind: BestNone, Amount: decimal.Zero, Reason: tierRes.Reason}
	case !pointsRes.Valid:
		return BestDiscountResult{Kind: BestTier, Amount: tierRes.Amount}
	case !tierRes.Eligible:
		return BestDiscountResult{Kind: BestPoints, Amount: pointsRes.Discount, PointsUsed: pointsNeeded}
	case pointsRes.Discount.GreaterThan(tierRes.Amount):
		return BestDiscountResult{Kind: BestPoints, Amount: pointsRes.Discount, PointsUsed: pointsNeeded}
	default:
		// Tier wins on equality.
		return BestDiscountResult{Kind: BestTier, Amount: tierRes.Amount}
	}
}
