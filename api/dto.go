/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing field
  renaming and version evolution without breaking the mobile client or the
  staff scanner app.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request: request body types from clients

MONEY:
  Currency amounts travel as JSON strings ("249.00"), not floats, so the
  client never sees binary-float artifacts. decimal.Decimal marshals that
  way natively.

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// PROFILE
// =============================================================================

// ProfileDTO represents a loyalty profile in API responses. Token fields
// are omitted: tokens are only handed out by the issue endpoint.
type ProfileDTO struct {
	UserID      string `json:"user_id"`
	Points      int64  `json:"points"`
	Tier        string `json:"tier"`
	TotalOrders int64  `json:"total_orders"`
	TotalSpent  string `json:"total_spent"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func toProfileDTO(p *loyalty.Profile) ProfileDTO {
	return ProfileDTO{
		UserID:      p.UserID,
		Points:      p.Points,
		Tier:        string(p.Tier),
		TotalOrders: p.TotalOrders,
		TotalSpent:  p.TotalSpent.String(),
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// EARN / REDEEM
// =============================================================================

// EarnRequest awards points for a paid order.
type EarnRequest struct {
	OrderAmount decimal.Decimal `json:"order_amount"`
	OrderID     string          `json:"order_id,omitempty"`
}

// EarnResponseDTO reports the accrual outcome.
type EarnResponseDTO struct {
	PointsEarned int64  `json:"points_earned"`
	TotalPoints  int64  `json:"total_points"`
	Tier         string `json:"tier"`
	TierUpgraded bool   `json:"tier_upgraded"`
}

// RedeemRequest applies the best available discount at checkout.
type RedeemRequest struct {
	OrderAmount decimal.Decimal `json:"order_amount"`
}

// RedeemPointsRequest spends an explicit number of points.
type RedeemPointsRequest struct {
	OrderAmount decimal.Decimal `json:"order_amount"`
	Points      int64           `json:"points"`
}

// RedemptionDTO reports a redemption outcome. Eligible=false is a normal
// business outcome delivered with HTTP 200.
type RedemptionDTO struct {
	Eligible         bool   `json:"eligible"`
	Reason           string `json:"reason,omitempty"`
	Kind             string `json:"kind"`
	DiscountApplied  string `json:"discount_applied"`
	PointsUsed       int64  `json:"points_used"`
	RemainingPoints  int64  `json:"remaining_points"`
	RemainingAmount  string `json:"remaining_amount"`
}

func toRedemptionDTO(r loyalty.RedemptionResult) RedemptionDTO {
	return RedemptionDTO{
		Eligible:        r.Eligible,
		Reason:          r.Reason,
		Kind:            string(r.Kind),
		DiscountApplied: r.DiscountApplied.String(),
		PointsUsed:      r.PointsUsed,
		RemainingPoints: r.RemainingPoints,
		RemainingAmount: r.RemainingAmount.String(),
	}
}

// DiscountPreviewDTO is the read-only best-discount preview.
type DiscountPreviewDTO struct {
	Kind       string `json:"kind"`
	Amount     string `json:"amount"`
	PointsUsed int64  `json:"points_used,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// =============================================================================
// TOKENS / SCAN
// =============================================================================

// TokenPairDTO carries freshly issued redemption codes.
type TokenPairDTO struct {
	QRToken   string `json:"qr_token"`
	Barcode   string `json:"barcode"`
	ExpiresAt string `json:"expires_at"`
}

// ScanRequest is a staff-device scan of a customer code.
type ScanRequest struct {
	Code string `json:"code"`
}

// ScanResponseDTO resolves a scan to a customer plus their best discount
// for the order being rung up.
type ScanResponseDTO struct {
	Strategy string              `json:"strategy"`
	Profile  ProfileDTO          `json:"profile"`
	Discount *DiscountPreviewDTO `json:"discount,omitempty"`
}

// =============================================================================
// TRANSACTIONS / TIERS / ADMIN
// =============================================================================

// TransactionDTO represents one ledger entry.
type TransactionDTO struct {
	ID          string `json:"id"`
	Points      int64  `json:"points"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	OrderID     string `json:"order_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toTransactionDTOs(txs []loyalty.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = TransactionDTO{
			ID:          tx.ID,
			Points:      tx.Points,
			Kind:        string(tx.Kind),
			Description: tx.Description,
			OrderID:     tx.OrderID,
			CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
		}
	}
	return dtos
}

// TierRuleDTO represents one tier table row.
type TierRuleDTO struct {
	Tier                   string `json:"tier"`
	MinPoints              int64  `json:"min_points"`
	DiscountPercent        string `json:"discount_percent"`
	FlatDiscount           string `json:"flat_discount,omitempty"`
	FixedBonus             string `json:"fixed_bonus,omitempty"`
	MaxDiscountPerOrder    string `json:"max_discount_per_order"`
	PointsRequiredToRedeem int64  `json:"points_required_to_redeem"`
	EarningMultiplier      string `json:"earning_multiplier"`
}

// AdjustRequest is a manual points adjustment (support/ops).
type AdjustRequest struct {
	Points int64  `json:"points"`
	Reason string `json:"reason"`
}

// ReconcileDTO reports a ledger-vs-profile audit.
type ReconcileDTO struct {
	UserID       string `json:"user_id"`
	LedgerPoints int64  `json:"ledger_points"`
	StoredPoints int64  `json:"stored_points"`
	Drift        int64  `json:"drift"`
	Transactions int    `json:"transactions"`
	InSync       bool   `json:"in_sync"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
