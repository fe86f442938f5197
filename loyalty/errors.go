/*
errors.go - Centralized error types for the loyalty engine

PURPOSE:
  All error types in one place for consistency and discoverability.

ERROR CATEGORIES:
  1. Store errors - missing profiles, conflicting concurrent writes
  2. Resolution errors - no scan strategy matched
  Token decode errors (expired, malformed) live in the token package.

NOT ERRORS:
  "Ineligible" and "invalid redemption" are expected business outcomes and
  are returned as result values with a Reason, never as errors. Callers must
  not conflate "ineligible" with "failed".

USAGE:
  if errors.Is(err, loyalty.ErrConcurrentConflict) {
      // surface "please try again" to the staff device
  }
*/
package loyalty

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrProfileNotFound is returned when a referenced profile doesn't exist.
	// This is a data-integrity failure, not a business outcome.
	ErrProfileNotFound = errors.New("loyalty profile not found")

	// ErrConcurrentConflict is returned when an optimistic write lost the
	// race against another writer. The Transactor retries a bounded number
	// of times before surfacing it.
	ErrConcurrentConflict = errors.New("concurrent modification detected")

	// ErrResolutionFailed is returned when no resolver strategy matched a
	// scanned code. Never silently defaults to a guessed user.
	ErrResolutionFailed = errors.New("could not resolve scanned code")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConflictError reports an optimistic-concurrency failure after the
// Transactor exhausted its retries.
type ConflictError struct {
	UserID   string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("redeem for user %s: %d attempts lost to concurrent writers", e.UserID, e.Attempts)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrentConflict }

// ResolutionError reports a scan that no strategy could resolve. The
// attempted strategy names are kept for diagnostics.
type ResolutionError struct {
	Code      string
	Attempted []string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("could not resolve code %q (tried: %s)", e.Code, strings.Join(e.Attempted, ", "))
}

func (e *ResolutionError) Unwrap() error { return ErrResolutionFailed }
