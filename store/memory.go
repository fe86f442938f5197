// Package store provides the in-memory loyalty.Store implementation,
// used for tests and dev mode. SQLite and bbolt backends live in the
// sqlite and bolt subpackages.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements loyalty.Store with maps behind a single RWMutex.
// Update holds the write lock across the mutation callback, so profile
// read-modify-writes are serialized rather than optimistic; the
// ErrConcurrentConflict path is exercised with stub stores in tests.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]loyalty.Profile
	txs      map[string][]loyalty.Transaction
	codes    map[string]loyalty.IssuedCode
}

func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[string]loyalty.Profile),
		txs:      make(map[string][]loyalty.Transaction),
		codes:    make(map[string]loyalty.IssuedCode),
	}
}

var _ loyalty.Store = (*Memory)(nil)

// -----------------------------------------------------------------------------
// ProfileStore
// -----------------------------------------------------------------------------

func (m *Memory) Get(_ context.Context, userID string) (*loyalty.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, loyalty.ErrProfileNotFound
	}
	return &p, nil
}

func (m *Memory) Create(_ context.Context, p *loyalty.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.profiles[p.UserID]; exists {
		return loyalty.ErrConcurrentConflict
	}
	stored := *p
	stored.Version = 1
	m.profiles[p.UserID] = stored
	p.Version = stored.Version
	return nil
}

func (m *Memory) Update(_ context.Context, userID string, fn func(*loyalty.Profile) ([]loyalty.Transaction, error)) (*loyalty.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.profiles[userID]
	if !ok {
		return nil, loyalty.ErrProfileNotFound
	}

	working := stored
	txs, err := fn(&working)
	if err != nil {
		return nil, err
	}

	// Profile write and ledger appends commit under the same lock.
	working.Version = stored.Version + 1
	m.profiles[userID] = working
	for _, tx := range txs {
		m.txs[tx.UserID] = append(m.txs[tx.UserID], tx)
	}
	result := working
	return &result, nil
}

func (m *Memory) Save(_ context.Context, p *loyalty.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.profiles[p.UserID]
	if !ok {
		return loyalty.ErrProfileNotFound
	}
	// Merge token and identity fields only. Points and counters belong to
	// Update, where every mutation commits with its ledger record; writing
	// the caller's whole copy here would let a stale snapshot resurrect
	// spent points.
	stored.CardNumber = p.CardNumber
	stored.Phone = p.Phone
	stored.CurrentToken = p.CurrentToken
	stored.CurrentBarcode = p.CurrentBarcode
	stored.TokenExpiresAt = p.TokenExpiresAt
	stored.UpdatedAt = p.UpdatedAt
	stored.Version++
	m.profiles[p.UserID] = stored
	p.Version = stored.Version
	return nil
}

// -----------------------------------------------------------------------------
// ProfileFinder
// -----------------------------------------------------------------------------

func (m *Memory) FindByToken(_ context.Context, tok string) (*loyalty.Profile, error) {
	return m.findBy(func(p loyalty.Profile) bool { return p.CurrentToken != "" && p.CurrentToken == tok })
}

func (m *Memory) FindByBarcode(_ context.Context, barcode string) (*loyalty.Profile, error) {
	return m.findBy(func(p loyalty.Profile) bool { return p.CurrentBarcode != "" && p.CurrentBarcode == barcode })
}

func (m *Memory) FindByCardNumber(_ context.Context, card string) (*loyalty.Profile, error) {
	return m.findBy(func(p loyalty.Profile) bool { return p.CardNumber != "" && p.CardNumber == card })
}

func (m *Memory) FindByPhone(_ context.Context, phone string) (*loyalty.Profile, error) {
	return m.findBy(func(p loyalty.Profile) bool { return p.Phone != "" && p.Phone == phone })
}

func (m *Memory) findBy(match func(loyalty.Profile) bool) (*loyalty.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.profiles {
		if match(p) {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

// -----------------------------------------------------------------------------
// TransactionLog (append-only)
// -----------------------------------------------------------------------------

func (m *Memory) Append(_ context.Context, tx loyalty.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.UserID] = append(m.txs[tx.UserID], tx)
	return nil
}

func (m *Memory) ListByUser(_ context.Context, userID string, limit int) ([]loyalty.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txs := make([]loyalty.Transaction, len(m.txs[userID]))
	copy(txs, m.txs[userID])
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].CreatedAt.After(txs[j].CreatedAt) })
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

// -----------------------------------------------------------------------------
// IssuedCodeLog (append-only)
// -----------------------------------------------------------------------------

func (m *Memory) Record(_ context.Context, code loyalty.IssuedCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// First issuance wins, matching the sqlite and bolt backends.
	if _, exists := m.codes[code.Code]; !exists {
		m.codes[code.Code] = code
	}
	return nil
}

func (m *Memory) FindCode(_ context.Context, code string) (*loyalty.IssuedCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.codes[code]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}
