package bolt_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/store/bolt"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *bolt.Store {
	t.Helper()
	s, err := bolt.New(filepath.Join(t.TempDir(), "loyalty.bolt"), nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newProfile(userID string) *loyalty.Profile {
	return loyalty.NewProfile(userID, time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
}

func record(userID string, points int64, at time.Time) loyalty.Transaction {
	return loyalty.Transaction{
		ID:          userID + "-" + at.Format(time.RFC3339Nano),
		UserID:      userID,
		Points:      points,
		Kind:        loyalty.TxEarned,
		Description: "test",
		CreatedAt:   at,
	}
}

// =============================================================================
// PROFILE ROUND TRIP
// =============================================================================

func TestBolt_CreateAndGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newProfile("user-1")
	p.CardNumber = "CARD-1"
	p.Phone = "9876543210"
	p.TotalSpent = decimal.NewFromInt(1250)
	require.NoError(t, s.Create(ctx, p))

	got, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, loyalty.TierBronze, got.Tier)
	assert.Equal(t, "CARD-1", got.CardNumber)
	assert.True(t, got.TotalSpent.Equal(decimal.NewFromInt(1250)))
	assert.Equal(t, int64(1), got.Version)
}

func TestBolt_GetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nobody")
	assert.True(t, errors.Is(err, loyalty.ErrProfileNotFound))
}

func TestBolt_CreateDuplicateConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newProfile("user-1")))
	err := s.Create(ctx, newProfile("user-1"))
	assert.True(t, errors.Is(err, loyalty.ErrConcurrentConflict))
}

// =============================================================================
// UPDATE
// =============================================================================

func TestBolt_UpdateCommitsProfileAndLedgerTogether(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newProfile("user-1")))

	now := time.Now().UTC()
	updated, err := s.Update(ctx, "user-1", func(p *loyalty.Profile) ([]loyalty.Transaction, error) {
		p.Points += 250
		p.UpdatedAt = now
		return []loyalty.Transaction{record("user-1", 250, now)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(250), updated.Points)
	assert.Equal(t, int64(2), updated.Version)

	txs, err := s.ListByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(250), txs[0].Points)
}

func TestBolt_UpdateErrorAbortsWithoutWriting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newProfile("user-1")))

	boom := errors.New("boom")
	_, err := s.Update(ctx, "user-1", func(p *loyalty.Profile) ([]loyalty.Transaction, error) {
		p.Points = 9999
		return []loyalty.Transaction{record("user-1", 9999, time.Now())}, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Points)

	txs, err := s.ListByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestBolt_UpdateMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Update(context.Background(), "nobody", func(p *loyalty.Profile) ([]loyalty.Transaction, error) {
		return nil, nil
	})
	assert.True(t, errors.Is(err, loyalty.ErrProfileNotFound))
}

// =============================================================================
// SAVE
// =============================================================================

func TestBolt_SavePersistsTokenFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newProfile("user-1")
	require.NoError(t, s.Create(ctx, p))

	expiry := time.Date(2026, time.March, 1, 12, 15, 0, 0, time.UTC)
	p.CurrentToken = "tok-1"
	p.CurrentBarcode = "4006381333931"
	p.TokenExpiresAt = expiry
	require.NoError(t, s.Save(ctx, p))

	got, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got.CurrentToken)
	assert.True(t, got.TokenExpiresAt.Equal(expiry))
	assert.Equal(t, int64(2), got.Version)
}

func TestBolt_SaveLeavesBalanceUntouched(t *testing.T) {
	// GIVEN: 100 points spent through Update, and a copy of the profile
	//        read before the redemption
	s := newTestStore(t)
	ctx := context.Background()

	p := newProfile("user-1")
	p.Points = 100
	require.NoError(t, s.Create(ctx, p))
	stale, err := s.Get(ctx, "user-1")
	require.NoError(t, err)

	_, err = s.Update(ctx, "user-1", func(p *loyalty.Profile) ([]loyalty.Transaction, error) {
		p.Points = 0
		return []loyalty.Transaction{record("user-1", -100, time.Now().UTC())}, nil
	})
	require.NoError(t, err)

	// WHEN: the stale copy carries fresh token fields into Save
	stale.CurrentToken = "tok-rotated"
	require.NoError(t, s.Save(ctx, stale))

	// THEN: the token lands but the spent points stay spent
	got, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-rotated", got.CurrentToken)
	assert.Equal(t, int64(0), got.Points, "a stale save must not resurrect spent points")
}

func TestBolt_SaveMissing(t *testing.T) {
	s := newTestStore(t)
	err := s.Save(context.Background(), newProfile("ghost"))
	assert.True(t, errors.Is(err, loyalty.ErrProfileNotFound))
}

// =============================================================================
// FINDERS
// =============================================================================

func TestBolt_Finders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newProfile("user-1")
	p.CardNumber = "CARD-1"
	p.Phone = "9876543210"
	p.CurrentToken = "tok-1"
	p.CurrentBarcode = "4006381333931"
	require.NoError(t, s.Create(ctx, p))

	byCard, err := s.FindByCardNumber(ctx, "CARD-1")
	require.NoError(t, err)
	require.NotNil(t, byCard)
	assert.Equal(t, "user-1", byCard.UserID)

	byPhone, err := s.FindByPhone(ctx, "9876543210")
	require.NoError(t, err)
	require.NotNil(t, byPhone)

	byToken, err := s.FindByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, byToken)

	byBarcode, err := s.FindByBarcode(ctx, "4006381333931")
	require.NoError(t, err)
	require.NotNil(t, byBarcode)
}

func TestBolt_FinderCleanMissIsNilNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.FindByCardNumber(context.Background(), "CARD-404")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

func TestBolt_ListByUserNewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, record("user-1", int64(i), base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, s.Append(ctx, record("user-2", 99, base)))

	txs, err := s.ListByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 5)
	assert.Equal(t, int64(4), txs[0].Points, "newest first")
	assert.Equal(t, int64(0), txs[4].Points)

	limited, err := s.ListByUser(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, int64(4), limited[0].Points)
}

// =============================================================================
// ISSUED CODE LOG
// =============================================================================

func TestBolt_RecordFirstIssuanceWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Record(ctx, loyalty.IssuedCode{
		Code: "tok-1", UserID: "user-1", Format: loyalty.FormatQR, IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, s.Record(ctx, loyalty.IssuedCode{
		Code: "tok-1", UserID: "user-2", Format: loyalty.FormatQR, IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	rec, err := s.FindCode(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "user-1", rec.UserID)
}

func TestBolt_FindCodeMissIsNilNil(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.FindCode(context.Background(), "never-issued")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

// =============================================================================
// DURABILITY
// =============================================================================

func TestBolt_SurvivesReopen(t *testing.T) {
	// GIVEN: A store written to and closed
	// WHEN: Reopening the same file
	// THEN: Profiles and ledger records are still there

	dir := t.TempDir()
	path := filepath.Join(dir, "loyalty.bolt")
	ctx := context.Background()

	s, err := bolt.New(path, nil)
	require.NoError(t, err)

	p := newProfile("user-1")
	require.NoError(t, s.Create(ctx, p))
	_, err = s.Update(ctx, "user-1", func(p *loyalty.Profile) ([]loyalty.Transaction, error) {
		p.Points = 300
		return []loyalty.Transaction{record("user-1", 300, time.Now().UTC())}, nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := bolt.New(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	got, err := reopened.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.Points)

	txs, err := reopened.ListByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}
