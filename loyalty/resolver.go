/*
resolver.go - Multi-strategy resolution of scanned codes to users

PURPOSE:
  Staff devices hand us whatever their scanner produced: a QR token, an
  EAN-13 barcode with possibly mangled boundary digits, a UPC-E compressed
  code, a bare card number, or a phone number typed by hand. The resolver
  runs an ordered chain of lookup strategies and short-circuits on the
  first hit.

STRATEGY CHAIN (in priority order):
  1. current_token    exact match against the profile's current QR/barcode
  2. issued_codes     unexpired entry in the issued-code log (rotated codes)
  3. qr_payload       decode the QR payload directly (codec, then verify)
  4. ean13_variants   13-digit input: raw plus three digit-dropped variants
                      against stored card numbers (scanner boundary bugs)
  5. upce_expansion   8-digit input: UPC-E -> UPC-A expansion, then card
  6. card_number      unmodified input against card numbers
  7. phone            10-12 digit input: raw and common country-code forms

DESIGN:
  Strategies are plain values in a slice, each independently testable.
  A strategy that fails (error or panic) is treated as a non-match and the
  chain continues; resolution never dies halfway. When nothing matches,
  the attempted strategy names come back in a ResolutionError for
  diagnostics. The resolver NEVER guesses a user.
*/
package loyalty

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/loyalty-engine/token"
)

// =============================================================================
// STRATEGY
// =============================================================================

// Strategy is one step of the resolution chain. Returns ("", false, nil)
// for a clean non-match; errors are logged and treated the same.
type Strategy struct {
	Name string
	Fn   func(ctx context.Context, code string) (userID string, ok bool, err error)
}

// Resolution is a successful scan resolution.
type Resolution struct {
	UserID   string
	Strategy string
}

// =============================================================================
// RESOLVER
// =============================================================================

// ResolverStore is the slice of the store the resolver needs.
type ResolverStore interface {
	ProfileStore
	ProfileFinder
	IssuedCodeLog
}

// Resolver resolves scanned codes through its strategy chain.
type Resolver struct {
	store      ResolverStore
	codec      *token.Codec
	log        *zap.Logger
	metrics    *Metrics
	strategies []Strategy
}

// NewResolver builds the resolver with the standard chain. logger and
// metrics may be nil.
func NewResolver(store ResolverStore, codec *token.Codec, logger *zap.Logger, metrics *Metrics) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{store: store, codec: codec, log: logger, metrics: metrics}
	r.strategies = []Strategy{
		{Name: "current_token", Fn: r.byCurrentToken},
		{Name: "issued_codes", Fn: r.byIssuedCode},
		{Name: "qr_payload", Fn: r.byQRPayload},
		{Name: "ean13_variants", Fn: r.byEAN13Variants},
		{Name: "upce_expansion", Fn: r.byUPCEExpansion},
		{Name: "card_number", Fn: r.byCardNumber},
		{Name: "phone", Fn: r.byPhone},
	}
	return r
}

// Strategies returns the chain's strategy names in priority order.
func (r *Resolver) Strategies() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name
	}
	return names
}

// Resolve runs the chain against a scanned code, short-circuiting on the
// first hit. Returns a ResolutionError naming the attempted strategies
// when nothing matches.
//
// Resolve takes no QR/barcode format hint: each strategy gates itself on
// the code's shape (segment count, digit length), so a caller-supplied
// hint would only duplicate those checks. Scanner hardware frequently
// misreports the format anyway.
func (r *Resolver) Resolve(ctx context.Context, code string) (Resolution, error) {
	attempted := make([]string, 0, len(r.strategies))

	for _, s := range r.strategies {
		attempted = append(attempted, s.Name)
		userID, ok := r.tryStrategy(ctx, s, code)
		if !ok {
			continue
		}
		r.metrics.countResolution(s.Name)
		r.log.Info("scan resolved",
			zap.String("strategy", s.Name), zap.String("user_id", userID))
		return Resolution{UserID: userID, Strategy: s.Name}, nil
	}

	r.metrics.countResolution("none")
	r.log.Warn("scan resolution failed",
		zap.String("code", code), zap.Strings("attempted", attempted))
	return Resolution{}, &ResolutionError{Code: code, Attempted: attempted}
}

// tryStrategy shields the chain from a misbehaving strategy: errors and
// panics downgrade to a non-match.
func (r *Resolver) tryStrategy(ctx context.Context, s Strategy, code string) (userID string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("strategy panicked",
				zap.String("strategy", s.Name), zap.Any("panic", rec))
			userID, ok = "", false
		}
	}()

	userID, ok, err := s.Fn(ctx, code)
	if err != nil {
		r.log.Debug("strategy errored, continuing",
			zap.String("strategy", s.Name), zap.Error(err))
		return "", false
	}
	return userID, ok
}

// =============================================================================
// STRATEGIES
// =============================================================================

func (r *Resolver) byCurrentToken(ctx context.Context, code string) (string, bool, error) {
	p, err := r.store.FindByToken(ctx, code)
	if err != nil || p == nil {
		p, err = r.store.FindByBarcode(ctx, code)
	}
	if err != nil || p == nil {
		return "", false, err
	}
	// Current codes carry their expiry on the profile.
	if !p.TokenExpiresAt.IsZero() && r.codec.Now().After(p.TokenExpiresAt) {
		return "", false, fmt.Errorf("current token for %s expired: %w", p.UserID, token.ErrExpired)
	}
	return p.UserID, true, nil
}

func (r *Resolver) byIssuedCode(ctx context.Context, code string) (string, bool, error) {
	rec, err := r.store.FindCode(ctx, code)
	if err != nil || rec == nil {
		return "", false, err
	}
	if rec.Expired(r.codec.Now()) {
		return "", false, fmt.Errorf("issued code expired: %w", token.ErrExpired)
	}
	return rec.UserID, true, nil
}

func (r *Resolver) byQRPayload(ctx context.Context, code string) (string, bool, error) {
	userID, err := r.codec.DecodeQR(code)
	if err != nil {
		return "", false, err
	}
	// The payload is forgeable-by-design; only accept users that exist.
	if _, err := r.store.Get(ctx, userID); err != nil {
		return "", false, err
	}
	return userID, true, nil
}

func (r *Resolver) byEAN13Variants(ctx context.Context, code string) (string, bool, error) {
	if len(code) != 13 || !token.AllDigits(code) {
		return "", false, nil
	}
	for _, variant := range token.TrimVariants(code) {
		p, err := r.store.FindByCardNumber(ctx, variant)
		if err == nil && p != nil {
			return p.UserID, true, nil
		}
	}
	return "", false, nil
}

func (r *Resolver) byUPCEExpansion(ctx context.Context, code string) (string, bool, error) {
	if len(code) != 8 || !token.AllDigits(code) {
		return "", false, nil
	}
	expanded := token.ExpandUPCE(code)
	if expanded == "" {
		return "", false, nil
	}
	// Try the UPC-A form and its EAN-13 spelling (leading zero).
	for _, candidate := range []string{expanded, "0" + expanded} {
		p, err := r.store.FindByCardNumber(ctx, candidate)
		if err == nil && p != nil {
			return p.UserID, true, nil
		}
	}
	return "", false, nil
}

func (r *Resolver) byCardNumber(ctx context.Context, code string) (string, bool, error) {
	p, err := r.store.FindByCardNumber(ctx, code)
	if err != nil || p == nil {
		return "", false, err
	}
	return p.UserID, true, nil
}

func (r *Resolver) byPhone(ctx context.Context, code string) (string, bool, error) {
	if len(code) < 10 || len(code) > 12 || !token.AllDigits(code) {
		return "", false, nil
	}
	candidates := []string{code}
	if len(code) == 10 {
		// Common country-code spellings of a 10-digit local number.
		candidates = append(candidates, "91"+code, "+91"+code)
	}
	if len(code) == 12 && code[:2] == "91" {
		candidates = append(candidates, code[2:])
	}
	for _, candidate := range candidates {
		p, err := r.store.FindByPhone(ctx, candidate)
		if err == nil && p != nil {
			return p.UserID, true, nil
		}
	}
	return "", false, nil
}
