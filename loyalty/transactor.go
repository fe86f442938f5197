/*
transactor.go - Atomic earn/redeem paths over the profile store

PURPOSE:
  The Transactor owns every mutation of a profile's points. It re-reads the
  profile inside the store's transaction, recomputes eligibility against
  the fresh balance (never a caller-supplied stale value), commits the new
  balance together with the ledger append, and retries automatically when
  an optimistic write loses to a concurrent staff device.

CRITICAL INVARIANTS:
  1. Points never go below zero. The clamp lives HERE, in applyDelta, and
     nowhere else.
  2. Every points mutation commits with its ledger record in one atomic
     unit (enforced by the ProfileStore.Update contract).
  3. Tier is recomputed from the table on every points change.
  4. Ineligibility is a result value; only exceptional conditions
     (missing profile, exhausted conflict retries) are errors.

CONCURRENCY:
  The profile read-modify-write is the sole critical section. Multiple
  staff devices may scan the same customer nearly simultaneously; given
  points sufficient for exactly one redemption, exactly one wins and the
  rest see "ineligible" (re-read found too few points) or, transiently,
  a conflict that is retried.

  Token issuance is NOT transactional. A reissue superseding a concurrent
  reissue is a benign race, so it goes through Save, not Update.

SEE ALSO:
  - calculator.go: the arithmetic re-run against fresh balances
  - store.go: the Update contract this leans on
  - audit.go: ledger-vs-profile reconciliation
*/
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/loyalty-engine/token"
)

// Transactor coordinates calculators, codec, and store. Construct with
// NewTransactor; the zero value is not usable.
type Transactor struct {
	store   Store
	calc    *Calculator
	codec   *token.Codec
	cfg     Config
	log     *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewTransactor wires a Transactor. logger and metrics may be nil.
func NewTransactor(store Store, calc *Calculator, codec *token.Codec, cfg Config, logger *zap.Logger, metrics *Metrics) *Transactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transactor{
		store:   store,
		calc:    calc,
		codec:   codec,
		cfg:     cfg,
		log:     logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Calculator exposes the arithmetic for read-only previews (API layer).
func (t *Transactor) Calculator() *Calculator { return t.calc }

// errIneligible aborts an Update without writing. Internal only: callers
// of the Transactor see an ineligible RedemptionResult, never this error.
var errIneligible = errors.New("redemption ineligible")

// =============================================================================
// RESULTS
// =============================================================================

// RedemptionResult is the outcome of a Redeem/RedeemPoints call.
type RedemptionResult struct {
	Eligible        bool
	Reason          string
	Kind            BestKind
	DiscountApplied decimal.Decimal
	PointsUsed      int64
	RemainingPoints int64
	RemainingAmount decimal.Decimal
}

// AwardResult is the outcome of an AwardPoints call.
type AwardResult struct {
	PointsEarned int64
	TotalPoints  int64
	Tier         Tier
	TierUpgraded bool
}

// TokenPair is a freshly issued QR token and barcode with their expiry.
type TokenPair struct {
	QRToken   string
	Barcode   string
	ExpiresAt time.Time
}

// =============================================================================
// PROFILE LIFECYCLE
// =============================================================================

// EnsureProfile returns the user's profile, lazily creating the zero-point
// record on first loyalty interaction. Profiles are never hard-deleted.
func (t *Transactor) EnsureProfile(ctx context.Context, userID string) (*Profile, error) {
	p, err := t.store.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrProfileNotFound) {
		return nil, err
	}

	fresh := NewProfile(userID, t.now())
	if err := t.store.Create(ctx, fresh); err != nil {
		// Lost a creation race: someone else made it first. Re-read.
		if errors.Is(err, ErrConcurrentConflict) {
			return t.store.Get(ctx, userID)
		}
		return nil, err
	}
	t.log.Info("created loyalty profile", zap.String("user_id", userID))
	return fresh, nil
}

// =============================================================================
// REDEEM - Best-available discount at checkout
// =============================================================================

// Redeem applies the best available discount (tier rules vs. full points
// redemption) for an order, atomically deducting points and appending the
// ledger record. Ineligibility comes back as a result, not an error.
func (t *Transactor) Redeem(ctx context.Context, userID string, orderAmount decimal.Decimal) (RedemptionResult, error) {
	var result RedemptionResult

	err := t.withRetry(ctx, userID, func(p *Profile) ([]Transaction, error) {
		best := t.calc.BestDiscount(orderAmount, p.Tier, p.Points)
		if best.Kind == BestNone {
			result = RedemptionResult{Eligible: false, Reason: best.Reason, Kind: BestNone,
				RemainingPoints: p.Points, RemainingAmount: orderAmount}
			return nil, errIneligible
		}

		pointsUsed := best.PointsUsed
		kind := TxRedeemed
		desc := fmt.Sprintf("Redeemed %d points against order", pointsUsed)
		if best.Kind == BestTier {
			// Tier discounts consume the point equivalent of the discount.
			pointsUsed = t.calc.PointsToFund(best.Amount)
			kind = TxTierDiscount
			desc = fmt.Sprintf("%s tier discount of %s", p.Tier, best.Amount)
		}

		tx := t.applyDelta(p, -pointsUsed, kind, desc, "")
		result = RedemptionResult{
			Eligible:        true,
			Kind:            best.Kind,
			DiscountApplied: best.Amount,
			PointsUsed:      pointsUsed,
			RemainingPoints: p.Points,
			RemainingAmount: orderAmount.Sub(best.Amount),
		}
		return []Transaction{tx}, nil
	})
	if err != nil {
		if errors.Is(err, errIneligible) {
			t.metrics.countRedemption("ineligible")
			return result, nil
		}
		t.metrics.countRedemption("error")
		return RedemptionResult{}, err
	}

	t.metrics.countRedemption("applied")
	t.log.Info("redemption applied",
		zap.String("user_id", userID),
		zap.String("kind", string(result.Kind)),
		zap.String("discount", result.DiscountApplied.String()),
		zap.Int64("points_used", result.PointsUsed))
	return result, nil
}

// RedeemPoints spends an explicit number of points against an order, with
// the same atomicity and freshness guarantees as Redeem.
func (t *Transactor) RedeemPoints(ctx context.Context, userID string, pointsToRedeem int64, orderAmount decimal.Decimal) (RedemptionResult, error) {
	var result RedemptionResult

	err := t.withRetry(ctx, userID, func(p *Profile) ([]Transaction, error) {
		quote := t.calc.Redemption(pointsToRedeem, p.Points, orderAmount)
		if !quote.Valid {
			result = RedemptionResult{Eligible: false, Reason: quote.Reason, Kind: BestNone,
				RemainingPoints: p.Points, RemainingAmount: orderAmount}
			return nil, errIneligible
		}

		tx := t.applyDelta(p, -quote.PointsUsed, TxRedeemed,
			fmt.Sprintf("Redeemed %d points for %s off", quote.PointsUsed, quote.Discount), "")
		result = RedemptionResult{
			Eligible:        true,
			Kind:            BestPoints,
			DiscountApplied: quote.Discount,
			PointsUsed:      quote.PointsUsed,
			RemainingPoints: p.Points,
			RemainingAmount: quote.Remaining,
		}
		return []Transaction{tx}, nil
	})
	if err != nil {
		if errors.Is(err, errIneligible) {
			t.metrics.countRedemption("ineligible")
			return result, nil
		}
		t.metrics.countRedemption("error")
		return RedemptionResult{}, err
	}

	t.metrics.countRedemption("applied")
	return result, nil
}

// =============================================================================
// AWARD - Earn path
// =============================================================================

// AwardPoints accrues points for a paid order. Never "ineligible": a
// below-minimum order simply earns zero points (and still counts toward
// order totals). A tier upgrade appends an extra zero-point bonus record
// documenting the promotion.
func (t *Transactor) AwardPoints(ctx context.Context, userID string, orderAmount decimal.Decimal, orderID string) (AwardResult, error) {
	if _, err := t.EnsureProfile(ctx, userID); err != nil {
		return AwardResult{}, err
	}

	var result AwardResult
	err := t.withRetry(ctx, userID, func(p *Profile) ([]Transaction, error) {
		earned := t.calc.PointsEarned(orderAmount, EarnOptions{
			Tier:       p.Tier,
			FirstOrder: p.TotalOrders == 0,
		})

		before := p.Tier
		var txs []Transaction
		if earned > 0 {
			desc := fmt.Sprintf("Earned %d points on order of %s", earned, orderAmount)
			txs = append(txs, t.applyDelta(p, earned, TxEarned, desc, orderID))
		} else {
			// Counters still advance; tier cannot change without points.
			p.UpdatedAt = t.now()
		}
		p.TotalOrders++
		p.TotalSpent = p.TotalSpent.Add(orderAmount)

		if p.Tier != before {
			txs = append(txs, Transaction{
				ID:          uuid.NewString(),
				UserID:      p.UserID,
				Points:      0,
				Kind:        TxBonus,
				Description: fmt.Sprintf("Tier upgraded: %s -> %s", before, p.Tier),
				OrderID:     orderID,
				CreatedAt:   t.now(),
			})
		}

		result = AwardResult{
			PointsEarned: earned,
			TotalPoints:  p.Points,
			Tier:         p.Tier,
			TierUpgraded: p.Tier != before,
		}
		return txs, nil
	})
	if err != nil {
		return AwardResult{}, err
	}

	if result.TierUpgraded {
		t.log.Info("tier upgraded", zap.String("user_id", userID), zap.String("tier", string(result.Tier)))
	}
	return result, nil
}

// Adjust applies a manual points adjustment (support/ops path). Negative
// deltas are clamped at zero like every other mutation.
func (t *Transactor) Adjust(ctx context.Context, userID string, delta int64, reason string) (*Profile, error) {
	if _, err := t.EnsureProfile(ctx, userID); err != nil {
		return nil, err
	}
	return t.store.Update(ctx, userID, func(p *Profile) ([]Transaction, error) {
		tx := t.applyDelta(p, delta, TxAdjustment, reason, "")
		return []Transaction{tx}, nil
	})
}

// =============================================================================
// TOKEN ISSUANCE
// =============================================================================

// IssueTokens issues a fresh QR token and barcode for a user, supersedes
// the ones on the profile, and records both in the issued-code log so the
// resolver can match codes rotated since the customer's last scan.
//
// Deliberately not transactional: see the concurrency note in the file
// header.
func (t *Transactor) IssueTokens(ctx context.Context, userID string) (TokenPair, error) {
	p, err := t.EnsureProfile(ctx, userID)
	if err != nil {
		return TokenPair{}, err
	}

	pair := TokenPair{
		QRToken:   t.codec.IssueQR(userID),
		Barcode:   t.codec.IssueBarcode(userID),
		ExpiresAt: t.codec.ExpiresAt(),
	}

	p.CurrentToken = pair.QRToken
	p.CurrentBarcode = pair.Barcode
	p.TokenExpiresAt = pair.ExpiresAt
	p.UpdatedAt = t.now()
	if err := t.store.Save(ctx, p); err != nil {
		return TokenPair{}, fmt.Errorf("save tokens: %w", err)
	}

	issued := t.codec.Now()
	for _, rec := range []IssuedCode{
		{Code: pair.QRToken, UserID: userID, Format: FormatQR, IssuedAt: issued, ExpiresAt: pair.ExpiresAt},
		{Code: pair.Barcode, UserID: userID, Format: FormatBarcode, IssuedAt: issued, ExpiresAt: pair.ExpiresAt},
	} {
		if err := t.store.Record(ctx, rec); err != nil {
			return TokenPair{}, fmt.Errorf("record issued code: %w", err)
		}
	}
	return pair, nil
}

// History returns the user's transaction log, newest first.
func (t *Transactor) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	return t.store.ListByUser(ctx, userID, limit)
}

// =============================================================================
// INTERNALS
// =============================================================================

// applyDelta is the single site that changes a profile's points. It clamps
// the balance at zero, recomputes the tier, and returns the paired ledger
// record. Callers hand the record back to Update for the atomic commit.
func (t *Transactor) applyDelta(p *Profile, delta int64, kind TxKind, description, orderID string) Transaction {
	next := p.Points + delta
	if next < 0 {
		// The calculators prevent overdraw; the clamp is the invariant's
		// last line of defense and the only clamp site in the codebase.
		t.log.Warn("clamping negative balance",
			zap.String("user_id", p.UserID), zap.Int64("points", p.Points), zap.Int64("delta", delta))
		delta = -p.Points
		next = 0
	}
	p.Points = next
	p.Tier = t.calc.Table.TierFor(p.Points)
	p.UpdatedAt = t.now()

	return Transaction{
		ID:          uuid.NewString(),
		UserID:      p.UserID,
		Points:      delta,
		Kind:        kind,
		Description: description,
		OrderID:     orderID,
		CreatedAt:   t.now(),
	}
}

// withRetry runs an Update, retrying from the read step on optimistic
// conflicts up to the configured bound, then surfaces a ConflictError
// distinguishable from "ineligible".
func (t *Transactor) withRetry(ctx context.Context, userID string, fn func(*Profile) ([]Transaction, error)) error {
	attempts := t.cfg.ConflictRetries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		_, err := t.store.Update(ctx, userID, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrentConflict) {
			return err
		}
		t.metrics.countConflict()
		t.log.Debug("optimistic conflict, retrying",
			zap.String("user_id", userID), zap.Int("attempt", i+1))
	}
	return &ConflictError{UserID: userID, Attempts: attempts}
}
