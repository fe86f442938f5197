/*
Package loyalty provides the core loyalty rewards engine.

PURPOSE:
  This package contains the domain types and algorithms for point accrual,
  tier classification, discount computation, and point redemption. The engine
  is storage-agnostic: all persistence goes through the ProfileStore,
  TransactionLog, and IssuedCodeLog interfaces defined in store.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - Tier: customer classification (bronze/silver/gold/platinum)
  - Profile: per-user loyalty state (points, tier, current tokens)
  - Transaction: an immutable ledger entry recording a points change
  - IssuedCode: a record of a token/barcode handed to a customer

DESIGN PRINCIPLES:
  1. Immutability: transactions are never modified once written
  2. Precision: decimal.Decimal for currency, int64 for points
  3. Single mutation path: points only change through the Transactor
  4. Auditability: every points change carries a kind and description

SEE ALSO:
  - tiers.go: tier thresholds and per-tier discount rules
  - calculator.go: discount and redemption arithmetic
  - transactor.go: the atomic earn/redeem paths
  - store.go: persistence interfaces
*/
package loyalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TIER - Customer classification
// =============================================================================

type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// Valid reports whether t is one of the four known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierBronze, TierSilver, TierGold, TierPlatinum:
		return true
	}
	return false
}

// =============================================================================
// PROFILE - Per-user loyalty state
// =============================================================================

// Profile is the loyalty state for a single user.
//
// INVARIANTS:
//   - Points never goes below zero. The Transactor is the only writer of
//     Points and enforces the floor in one place.
//   - Tier is derived from Points via the TierTable on every mutation.
//   - TotalOrders and TotalSpent are monotonically non-decreasing.
//
// CurrentToken/CurrentBarcode hold the most recently issued redemption
// codes; a reissue supersedes them rather than accumulating.
type Profile struct {
	UserID string
	Points int64
	Tier   Tier

	TotalOrders int64
	TotalSpent  decimal.Decimal

	// Identity fields used by the scan resolver's fallback strategies.
	CardNumber string
	Phone      string

	// Most recently issued redemption codes. Expiry is enforced at
	// validation time, not by deletion.
	CurrentToken   string
	CurrentBarcode string
	TokenExpiresAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	// Version is the optimistic-concurrency counter. Stores bump it on
	// every successful write and reject writes against a stale version.
	Version int64
}

// NewProfile returns the lazily created zero-points profile for a user.
func NewProfile(userID string, now time.Time) *Profile {
	return &Profile{
		UserID:     userID,
		Points:     0,
		Tier:       TierBronze,
		TotalSpent: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// =============================================================================
// TRANSACTION - Immutable points ledger entry
// =============================================================================

// TxKind classifies a points transaction.
type TxKind string

const (
	TxEarned       TxKind = "earned"
	TxRedeemed     TxKind = "redeemed"
	TxBonus        TxKind = "bonus"
	TxAdjustment   TxKind = "adjustment"
	TxTierDiscount TxKind = "tier_discount"
)

// Transaction records a single points-affecting event.
//
// INVARIANTS:
//   - Append-only: no update, no delete. Ever.
//   - Points is signed: positive = earned, negative = redeemed.
//   - The signed sum of a user's transactions reconciles with the
//     profile's current points (modulo the zero-floor clamp).
type Transaction struct {
	ID          string
	UserID      string
	Points      int64
	Kind        TxKind
	Description string
	OrderID     string
	CreatedAt   time.Time
}

// =============================================================================
// ISSUED CODE - Token issuance record
// =============================================================================

// CodeFormat identifies the presentation format of an issued code.
type CodeFormat string

const (
	FormatQR      CodeFormat = "qr"
	FormatBarcode CodeFormat = "barcode"
)

// IssuedCode records a redemption token or barcode handed to a customer.
// Kept append-only so the resolver can still match codes that were rotated
// on the profile since the customer rendered them on screen.
type IssuedCode struct {
	Code      string
	UserID    string
	Format    CodeFormat
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the code is past its expiry at the given time.
func (c IssuedCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
