package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/store"
)

func newProfile(userID string) *loyalty.Profile {
	return loyalty.NewProfile(userID, time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
}

func tx(userID string, points int64, at time.Time) loyalty.Transaction {
	return loyalty.Transaction{
		ID:          userID + at.String(),
		UserID:      userID,
		Points:      points,
		Kind:        loyalty.TxEarned,
		Description: "test",
		CreatedAt:   at,
	}
}

// =============================================================================
// PROFILE STORE
// =============================================================================

func TestMemory_GetMissing(t *testing.T) {
	m := store.NewMemory()

	_, err := m.Get(context.Background(), "nobody")
	assert.True(t, errors.Is(err, loyalty.ErrProfileNotFound))
}

func TestMemory_CreateAndGet(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	p := newProfile("user-1")
	p.CardNumber = "CARD-1"
	require.NoError(t, m.Create(ctx, p))
	assert.Equal(t, int64(1), p.Version, "create assigns version 1")

	got, err := m.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "CARD-1", got.CardNumber)
	assert.Equal(t, int64(0), got.Points)
}

func TestMemory_CreateDuplicateConflicts(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, newProfile("user-1")))
	err := m.Create(ctx, newProfile("user-1"))
	assert.True(t, errors.Is(err, loyalty.ErrConcurrentConflict))
}

func TestMemory_UpdateCommitsProfileAndLedgerTogether(t *testing.T) {
	// GIVEN: An update that changes points and returns a ledger record
	// THEN: Both are visible afterward and the version advanced

	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Create(ctx, newProfile("user-1")))

	now := time.Now()
	updated, err := m.Update(ctx, "user-1", func(p *loyalty.Profile) ([]loyalty.Transaction, error) {
		p.Points += 100
		return []loyalty.Transaction{tx("user-1", 100, now)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), updated.Points)
	assert.Equal(t, int64(2), updated.Version)

	txs, err := m.ListByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(100), txs[0].Points)
}

func TestMemory_UpdateErrorAbortsWithoutWriting(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Create(ctx, newProfile("user-1")))

	boom := errors.New("boom")
	_, err := m.Update(ctx, "user-1", func(p *loyalty.Profile) ([]loyalty.Transaction, error) {
		p.Points = 9999
		return []loyalty.Transaction{tx("user-1", 9999, time.Now())}, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Points, "aborted mutation must not leak")

	txs, err := m.ListByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestMemory_UpdateMissing(t *testing.T) {
	m := store.NewMemory()

	_, err := m.Update(context.Background(), "nobody", func(p *loyalty.Profile) ([]loyalty.Transaction, error) {
		return nil, nil
	})
	assert.True(t, errors.Is(err, loyalty.ErrProfileNotFound))
}

func TestMemory_SaveOverwritesTokenFields(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	p := newProfile("user-1")
	require.NoError(t, m.Create(ctx, p))

	p.CurrentToken = "tok-1"
	p.CurrentBarcode = "4006381333931"
	require.NoError(t, m.Save(ctx, p))
	assert.Equal(t, int64(2), p.Version)

	got, err := m.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got.CurrentToken)
}

func TestMemory_SaveLeavesBalanceUntouched(t *testing.T) {
	// GIVEN: 100 points spent through Update, and a copy of the profile
	//        read before the redemption
	m := store.NewMemory()
	ctx := context.Background()

	p := newProfile("user-1")
	p.Points = 100
	require.NoError(t, m.Create(ctx, p))
	stale, err := m.Get(ctx, "user-1")
	require.NoError(t, err)

	_, err = m.Update(ctx, "user-1", func(p *loyalty.Profile) ([]loyalty.Transaction, error) {
		p.Points = 0
		return []loyalty.Transaction{tx("user-1", -100, time.Now())}, nil
	})
	require.NoError(t, err)

	// WHEN: the stale copy carries fresh token fields into Save
	stale.CurrentToken = "tok-rotated"
	require.NoError(t, m.Save(ctx, stale))

	// THEN: the token lands but the spent points stay spent
	got, err := m.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-rotated", got.CurrentToken)
	assert.Equal(t, int64(0), got.Points, "a stale save must not resurrect spent points")
}

func TestMemory_SaveMissing(t *testing.T) {
	m := store.NewMemory()
	err := m.Save(context.Background(), newProfile("ghost"))
	assert.True(t, errors.Is(err, loyalty.ErrProfileNotFound))
}

// =============================================================================
// FINDERS
// =============================================================================

func TestMemory_Finders(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	p := newProfile("user-1")
	p.CardNumber = "CARD-1"
	p.Phone = "9876543210"
	p.CurrentToken = "tok-1"
	p.CurrentBarcode = "4006381333931"
	require.NoError(t, m.Create(ctx, p))

	byCard, err := m.FindByCardNumber(ctx, "CARD-1")
	require.NoError(t, err)
	require.NotNil(t, byCard)
	assert.Equal(t, "user-1", byCard.UserID)

	byPhone, err := m.FindByPhone(ctx, "9876543210")
	require.NoError(t, err)
	require.NotNil(t, byPhone)

	byToken, err := m.FindByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, byToken)

	byBarcode, err := m.FindByBarcode(ctx, "4006381333931")
	require.NoError(t, err)
	require.NotNil(t, byBarcode)
}

func TestMemory_FinderCleanMissIsNilNil(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	p, err := m.FindByCardNumber(ctx, "CARD-404")
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestMemory_FinderIgnoresEmptyFields(t *testing.T) {
	// A profile without a card number must not match an empty-string probe.
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Create(ctx, newProfile("user-1")))

	p, err := m.FindByCardNumber(ctx, "")
	assert.NoError(t, err)
	assert.Nil(t, p)
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

func TestMemory_ListByUserNewestFirstWithLimit(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Append(ctx, tx("user-1", int64(i), base.Add(time.Duration(i)*time.Minute))))
	}

	txs, err := m.ListByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 5)
	assert.Equal(t, int64(4), txs[0].Points, "newest first")
	assert.Equal(t, int64(0), txs[4].Points)

	limited, err := m.ListByUser(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, int64(4), limited[0].Points)
	assert.Equal(t, int64(3), limited[1].Points)
}

func TestMemory_ListByUserIsolatesUsers(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, tx("user-1", 10, time.Now())))
	require.NoError(t, m.Append(ctx, tx("user-2", 20, time.Now())))

	txs, err := m.ListByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(10), txs[0].Points)
}

// =============================================================================
// ISSUED CODE LOG
// =============================================================================

func TestMemory_RecordFirstIssuanceWins(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.Record(ctx, loyalty.IssuedCode{
		Code: "tok-1", UserID: "user-1", Format: loyalty.FormatQR, IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, m.Record(ctx, loyalty.IssuedCode{
		Code: "tok-1", UserID: "user-2", Format: loyalty.FormatQR, IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	rec, err := m.FindCode(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "user-1", rec.UserID)
}

func TestMemory_FindCodeMissIsNilNil(t *testing.T) {
	m := store.NewMemory()

	rec, err := m.FindCode(context.Background(), "never-issued")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}
