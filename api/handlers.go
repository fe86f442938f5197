/*
handlers.go - HTTP API handlers for the loyalty engine

PURPOSE:
  Exposes the loyalty engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the Transactor and Resolver.

ENDPOINTS:
  Customer side:
    GET    /api/users/{id}               Profile (lazy-created)
    GET    /api/users/{id}/transactions  Points history
    GET    /api/users/{id}/discounts     Best-discount preview
    POST   /api/users/{id}/earn          Award points for an order
    POST   /api/users/{id}/redeem        Best-available redemption
    POST   /api/users/{id}/redeem-points Explicit point spend
    POST   /api/users/{id}/tokens        Issue QR token + barcode

  Staff side:
    POST   /api/scan                     Resolve scanned code -> customer

  Admin:
    POST   /api/admin/users/{id}/adjust  Manual points adjustment
    GET    /api/admin/users/{id}/reconcile  Ledger-vs-profile audit
    GET    /api/tiers                    Tier table

ERROR MAPPING:
  Ineligible redemptions are HTTP 200 with eligible=false: a message the
  customer can act on, not a failure. Hard errors:
  - 404: profile not found, scan resolution failed
  - 409: optimistic conflict survived its retries ("please try again")
  - 422: expired/malformed token input
  - 400: body/parameter validation
  - 500: store failures

SECURITY NOTE:
  No authentication middleware here. Gateway-level auth fronts these
  routes in deployment; see the server setup.
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/token"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Transactor *loyalty.Transactor
	Resolver   *loyalty.Resolver
	Tiers      *loyalty.TierTable
	Log        *zap.Logger
}

// NewHandler creates a handler. logger may be nil.
func NewHandler(transactor *loyalty.Transactor, resolver *loyalty.Resolver, tiers *loyalty.TierTable, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Transactor: transactor, Resolver: resolver, Tiers: tiers, Log: logger}
}

// =============================================================================
// PROFILE HANDLERS
// =============================================================================

// GetProfile returns (lazily creating) the user's loyalty profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	p, err := h.Transactor.EnsureProfile(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load profile", err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(p))
}

// GetTransactions returns the user's points history, newest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	txs, err := h.Transactor.History(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetDiscountPreview quotes the best available discount without spending
// anything.
func (h *Handler) GetDiscountPreview(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	p, err := h.Transactor.EnsureProfile(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load profile", err)
		return
	}

	best := h.Transactor.Calculator().BestDiscount(amount, p.Tier, p.Points)
	writeJSON(w, http.StatusOK, DiscountPreviewDTO{
		Kind:       string(best.Kind),
		Amount:     best.Amount.String(),
		PointsUsed: best.PointsUsed,
		Reason:     best.Reason,
	})
}

// =============================================================================
// EARN / REDEEM HANDLERS
// =============================================================================

// Earn awards points for a paid order.
func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req EarnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OrderAmount.IsNegative() {
		writeError(w, http.StatusBadRequest, "Order amount cannot be negative", nil)
		return
	}

	result, err := h.Transactor.AwardPoints(r.Context(), userID, req.OrderAmount, req.OrderID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EarnResponseDTO{
		PointsEarned: result.PointsEarned,
		TotalPoints:  result.TotalPoints,
		Tier:         string(result.Tier),
		TierUpgraded: result.TierUpgraded,
	})
}

// Redeem applies the best available discount at checkout.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Transactor.Redeem(r.Context(), userID, req.OrderAmount)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(result))
}

// RedeemPoints spends an explicit number of points.
func (h *Handler) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req RedeemPointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Transactor.RedeemPoints(r.Context(), userID, req.Points, req.OrderAmount)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(result))
}

// =============================================================================
// TOKEN / SCAN HANDLERS
// =============================================================================

// IssueTokens issues a fresh QR token and barcode for the customer app to
// render. Supersedes any previously issued pair.
func (h *Handler) IssueTokens(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	pair, err := h.Transactor.IssueTokens(r.Context(), userID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenPairDTO{
		QRToken:   pair.QRToken,
		Barcode:   pair.Barcode,
		ExpiresAt: pair.ExpiresAt.Format(time.RFC3339),
	})
}

// Scan resolves a staff-scanned code to a customer and quotes their best
// discount when an order amount is supplied.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "Code is required", nil)
		return
	}

	res, err := h.Resolver.Resolve(r.Context(), req.Code)
	if err != nil {
		var resErr *loyalty.ResolutionError
		if errors.As(err, &resErr) {
			h.Log.Info("scan not resolved", zap.Strings("attempted", resErr.Attempted))
			writeError(w, http.StatusNotFound, "Customer not found for scanned code", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Scan failed", err)
		return
	}

	p, err := h.Transactor.EnsureProfile(r.Context(), res.UserID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	resp := ScanResponseDTO{Strategy: res.Strategy, Profile: toProfileDTO(p)}
	if raw := r.URL.Query().Get("amount"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount", err)
			return
		}
		best := h.Transactor.Calculator().BestDiscount(amount, p.Tier, p.Points)
		resp.Discount = &DiscountPreviewDTO{
			Kind:       string(best.Kind),
			Amount:     best.Amount.String(),
			PointsUsed: best.PointsUsed,
			Reason:     best.Reason,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Adjust applies a manual points adjustment.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "Reason is required for adjustments", nil)
		return
	}

	p, err := h.Transactor.Adjust(r.Context(), userID, req.Points, req.Reason)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(p))
}

// Reconcile audits a user's ledger against their stored balance.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	report, err := h.Transactor.Reconcile(r.Context(), userID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReconcileDTO{
		UserID:       report.UserID,
		LedgerPoints: report.LedgerPoints,
		StoredPoints: report.StoredPoints,
		Drift:        report.Drift(),
		Transactions: report.Transactions,
		InSync:       report.InSync,
	})
}

// ListTiers returns the active tier table.
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	rules := h.Tiers.Rules()
	dtos := make([]TierRuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = TierRuleDTO{
			Tier:                   string(rule.Tier),
			MinPoints:              rule.MinPoints,
			DiscountPercent:        rule.DiscountPercent.String(),
			MaxDiscountPerOrder:    rule.MaxDiscountPerOrder.String(),
			PointsRequiredToRedeem: rule.PointsRequiredToRedeem,
			EarningMultiplier:      rule.EarningMultiplier.String(),
		}
		if rule.FlatDiscount.IsPositive() {
			dtos[i].FlatDiscount = rule.FlatDiscount.String()
		}
		if rule.FixedBonus.IsPositive() {
			dtos[i].FixedBonus = rule.FixedBonus.String()
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// writeEngineError maps engine errors onto HTTP statuses. Business
// outcomes (ineligible) never reach here; they return as 200 results.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, loyalty.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "Loyalty profile not found", nil)
	case errors.Is(err, loyalty.ErrConcurrentConflict):
		writeError(w, http.StatusConflict, "Another redemption is in flight, please try again", nil)
	case errors.Is(err, token.ErrExpired):
		writeError(w, http.StatusUnprocessableEntity, "Token expired, please rescan", nil)
	case errors.Is(err, token.ErrMalformed):
		writeError(w, http.StatusUnprocessableEntity, "Token unreadable, please rescan", nil)
	default:
		h.Log.Error("engine error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
