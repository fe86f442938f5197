/*
Package bolt provides a bbolt-backed implementation of loyalty.Store.

PURPOSE:
  Embedded document-store persistence: profiles, the points ledger, and
  issued codes live as JSON documents in bbolt buckets. Demonstrates that
  the engine's store contract maps onto any transactional key-value or
  document store, not just SQL.

TRANSACTIONAL MODEL:
  bbolt serializes writers, so a db.Update block IS the atomic
  read-modify-write the Update contract asks for: the profile re-read,
  the mutation, and the ledger appends all commit or roll back together.
  Version counters are still maintained so profiles moved between
  backends keep their concurrency metadata.

LAYOUT:
  profiles:      userID -> profile JSON
  transactions:  per-user nested bucket, big-endian sequence -> tx JSON
  issued_codes:  code -> issuance record JSON
*/
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/warp/loyalty-engine/loyalty"
)

var (
	bucketProfiles     = []byte("profiles")
	bucketTransactions = []byte("transactions")
	bucketIssuedCodes  = []byte("issued_codes")
)

// Store implements loyalty.Store on bbolt.
type Store struct {
	db *bolt.DB
}

var _ loyalty.Store = (*Store)(nil)

// New opens (and initialises) the bbolt-backed store.
func New(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketProfiles, bucketTransactions, bucketIssuedCodes} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// =============================================================================
// PROFILE STORE
// =============================================================================

func (s *Store) Get(_ context.Context, userID string) (*loyalty.Profile, error) {
	var p *loyalty.Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketProfiles).Get([]byte(userID))
		if raw == nil {
			return loyalty.ErrProfileNotFound
		}
		var rec loyalty.Profile
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode profile %s: %w", userID, err)
		}
		p = &rec
		return nil
	})
	return p, err
}

func (s *Store) Create(_ context.Context, p *loyalty.Profile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketProfiles)
		if bucket.Get([]byte(p.UserID)) != nil {
			return loyalty.ErrConcurrentConflict
		}
		p.Version = 1
		return putJSON(bucket, []byte(p.UserID), p)
	})
}

func (s *Store) Update(_ context.Context, userID string, fn func(*loyalty.Profile) ([]loyalty.Transaction, error)) (*loyalty.Profile, error) {
	var result *loyalty.Profile
	err := s.db.Update(func(btx *bolt.Tx) error {
		bucket := btx.Bucket(bucketProfiles)
		raw := bucket.Get([]byte(userID))
		if raw == nil {
			return loyalty.ErrProfileNotFound
		}
		var p loyalty.Profile
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode profile %s: %w", userID, err)
		}

		txs, err := fn(&p)
		if err != nil {
			return err
		}
		p.Version++
		if err := putJSON(bucket, []byte(userID), &p); err != nil {
			return err
		}
		for _, rec := range txs {
			if err := appendTx(btx, rec); err != nil {
				return err
			}
		}
		result = &p
		return nil
	})
	return result, err
}

func (s *Store) Save(_ context.Context, p *loyalty.Profile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketProfiles)
		raw := bucket.Get([]byte(p.UserID))
		if raw == nil {
			return loyalty.ErrProfileNotFound
		}
		var stored loyalty.Profile
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("decode profile %s: %w", p.UserID, err)
		}
		// Merge token and identity fields only. Points and counters belong
		// to Update, where every mutation commits with its ledger record;
		// writing the caller's whole copy here would let a stale snapshot
		// resurrect spent points.
		stored.CardNumber = p.CardNumber
		stored.Phone = p.Phone
		stored.CurrentToken = p.CurrentToken
		stored.CurrentBarcode = p.CurrentBarcode
		stored.TokenExpiresAt = p.TokenExpiresAt
		stored.UpdatedAt = p.UpdatedAt
		stored.Version++
		p.Version = stored.Version
		return putJSON(bucket, []byte(p.UserID), &stored)
	})
}

// =============================================================================
// PROFILE FINDER
// =============================================================================

func (s *Store) FindByToken(ctx context.Context, token string) (*loyalty.Profile, error) {
	return s.findBy(func(p *loyalty.Profile) bool { return p.CurrentToken != "" && p.CurrentToken == token })
}

func (s *Store) FindByBarcode(ctx context.Context, barcode string) (*loyalty.Profile, error) {
	return s.findBy(func(p *loyalty.Profile) bool { return p.CurrentBarcode != "" && p.CurrentBarcode == barcode })
}

func (s *Store) FindByCardNumber(ctx context.Context, card string) (*loyalty.Profile, error) {
	return s.findBy(func(p *loyalty.Profile) bool { return p.CardNumber != "" && p.CardNumber == card })
}

func (s *Store) FindByPhone(ctx context.Context, phone string) (*loyalty.Profile, error) {
	return s.findBy(func(p *loyalty.Profile) bool { return p.Phone != "" && p.Phone == phone })
}

// findBy scans the profiles bucket. Profile counts here are small-tenant
// scale; a real multi-tenant deployment would maintain index buckets.
func (s *Store) findBy(match func(*loyalty.Profile) bool) (*loyalty.Profile, error) {
	var found *loyalty.Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProfiles).ForEach(func(_, raw []byte) error {
			if found != nil {
				return nil
			}
			var p loyalty.Profile
			if err := json.Unmarshal(raw, &p); err != nil {
				return err
			}
			if match(&p) {
				found = &p
			}
			return nil
		})
	})
	return found, err
}

// =============================================================================
// TRANSACTION LOG (append-only)
// =============================================================================

func (s *Store) Append(_ context.Context, rec loyalty.Transaction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return appendTx(tx, rec)
	})
}

func appendTx(tx *bolt.Tx, rec loyalty.Transaction) error {
	user, err := tx.Bucket(bucketTransactions).CreateBucketIfNotExists([]byte(rec.UserID))
	if err != nil {
		return err
	}
	seq, err := user.NextSequence()
	if err != nil {
		return err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return user.Put(key, raw)
}

func (s *Store) ListByUser(_ context.Context, userID string, limit int) ([]loyalty.Transaction, error) {
	var txs []loyalty.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		user := tx.Bucket(bucketTransactions).Bucket([]byte(userID))
		if user == nil {
			return nil
		}
		// Sequence keys are append-ordered; walk backwards for newest-first.
		c := user.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(txs) >= limit {
				break
			}
			var rec loyalty.Transaction
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			txs = append(txs, rec)
		}
		return nil
	})
	return txs, err
}

// =============================================================================
// ISSUED CODE LOG (append-only)
// =============================================================================

func (s *Store) Record(_ context.Context, code loyalty.IssuedCode) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIssuedCodes)
		// First issuance wins; a code never changes owner.
		if bucket.Get([]byte(code.Code)) != nil {
			return nil
		}
		return putJSON(bucket, []byte(code.Code), code)
	})
}

func (s *Store) FindCode(_ context.Context, code string) (*loyalty.IssuedCode, error) {
	var found *loyalty.IssuedCode
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketIssuedCodes).Get([]byte(code))
		if raw == nil {
			return nil
		}
		var rec loyalty.IssuedCode
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		found = &rec
		return nil
	})
	return found, err
}

func putJSON(bucket *bolt.Bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return bucket.Put(key, raw)
}
