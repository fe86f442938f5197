/*
store.go - Persistence interfaces for profiles, the transaction log, and
issued codes

PURPOSE:
  Defines the interface between the engine and the database. Implementations
  exist for in-memory (tests/dev), SQLite, and bbolt; the same contract maps
  onto any transactional key-value or document store.

KEY INTERFACES:
  ProfileStore:  profile reads plus transactional read-modify-write
  TransactionLog: append-only points ledger
  IssuedCodeLog: append-only record of tokens handed to customers

OPTIMISTIC CONCURRENCY:
  Update() is the engine's only critical section. The store re-reads the
  profile inside its own transaction, applies the caller's mutation, and
  commits only if no concurrent writer got there first — otherwise it
  returns ErrConcurrentConflict and the Transactor retries from the read.
  Profiles are never locked pessimistically.

APPEND-ONLY CONTRACT:
  TransactionLog and IssuedCodeLog have no update or delete methods.
  Corrections to the points ledger are made via adjustment transactions.

SEE ALSO:
  - store/memory.go: in-memory implementation
  - store/sqlite: SQLite implementation (version-column CAS)
  - store/bolt: bbolt document-store implementation
*/
package loyalty

import "context"

// =============================================================================
// PROFILE STORE
// =============================================================================

// ProfileStore persists loyalty profiles.
type ProfileStore interface {
	// Get returns the profile for a user, or ErrProfileNotFound.
	Get(ctx context.Context, userID string) (*Profile, error)

	// Create persists a new profile. Used for lazy creation on first
	// loyalty interaction.
	Create(ctx context.Context, p *Profile) error

	// Update runs fn against the freshly read profile and commits the
	// mutated copy together with the transactions fn returns, all in one
	// atomic unit. A points mutation without its paired ledger append is a
	// correctness bug, so the store owns both writes. Returns
	// ErrConcurrentConflict if another writer committed between read and
	// write, ErrProfileNotFound if the profile does not exist. An error
	// from fn aborts without writing anything.
	Update(ctx context.Context, userID string, fn func(*Profile) ([]Transaction, error)) (*Profile, error)

	// Save writes the token and identity fields (card number, phone,
	// current token/barcode, token expiry) without conflict detection.
	// Token issuance is a benign race: a reissue superseding a concurrent
	// reissue is acceptable. Implementations must not write points or
	// counters from the caller's copy — balances change only through
	// Update, paired with their ledger records.
	Save(ctx context.Context, p *Profile) error
}

// ProfileFinder adds the lookup queries the scan resolver needs. Separate
// from ProfileStore so the Transactor cannot grow ad hoc query paths.
// Finders return (nil, nil) on a clean miss; errors are reserved for
// store failures.
type ProfileFinder interface {
	FindByToken(ctx context.Context, token string) (*Profile, error)
	FindByBarcode(ctx context.Context, barcode string) (*Profile, error)
	FindByCardNumber(ctx context.Context, cardNumber string) (*Profile, error)
	FindByPhone(ctx context.Context, phone string) (*Profile, error)
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

// TransactionLog is the append-only points ledger.
// IMPORTANT: append-only. No update, no delete. Ever.
type TransactionLog interface {
	// Append persists a transaction. The ONLY write operation.
	Append(ctx context.Context, tx Transaction) error

	// ListByUser returns a user's transactions ordered by time descending,
	// up to limit (limit <= 0 means no limit).
	ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error)
}

// =============================================================================
// ISSUED CODE LOG
// =============================================================================

// IssuedCodeLog records every token/barcode issued, so scans of codes that
// were rotated on the profile can still resolve. Append-only; expiry is
// enforced by readers, not by deletion.
type IssuedCodeLog interface {
	Record(ctx context.Context, code IssuedCode) error

	// FindCode returns the issuance record for a code, or nil if the code
	// was never issued.
	FindCode(ctx context.Context, code string) (*IssuedCode, error)
}

// Store bundles the three persistence contracts. All provided
// implementations satisfy it.
type Store interface {
	ProfileStore
	ProfileFinder
	TransactionLog
	IssuedCodeLog
}
