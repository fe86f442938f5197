/*
Package sqlite provides the SQLite-backed implementation of loyalty.Store.

PURPOSE:
  Production single-node persistence. The same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

OPTIMISTIC CONCURRENCY:
  Profiles carry a version column. Update() reads the row, applies the
  mutation callback, and commits with
      UPDATE ... SET version = version + 1 WHERE user_id = ? AND version = ?
  A zero row count means another writer got there first; the transaction
  rolls back and loyalty.ErrConcurrentConflict surfaces for the
  Transactor's retry loop. Profiles are never locked pessimistically.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for loyalty_transactions or
  issued_codes. The ledger append happens inside the same SQL transaction
  as the profile write.

WAL MODE:
  The database opens with WAL so staff-device reads don't block the writer.

SEE ALSO:
  - loyalty/store.go: interface contracts
  - store/memory.go: in-memory implementation for tests
  - store/bolt: document-store implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/loyalty"
)

// Store implements loyalty.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ loyalty.Store = (*Store)(nil)

// New opens (and migrates) a SQLite store. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Loyalty profiles (one row per user, version column for optimistic CAS)
	CREATE TABLE IF NOT EXISTS profiles (
		user_id          TEXT PRIMARY KEY,
		points           INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
		tier             TEXT NOT NULL,
		total_orders     INTEGER NOT NULL DEFAULT 0,
		total_spent      TEXT NOT NULL DEFAULT '0',
		card_number      TEXT,
		phone            TEXT,
		current_token    TEXT,
		current_barcode  TEXT,
		token_expires_at TEXT,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL,
		version          INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_profiles_card_number ON profiles(card_number) WHERE card_number IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_profiles_phone ON profiles(phone) WHERE phone IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_profiles_current_token ON profiles(current_token) WHERE current_token IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_profiles_current_barcode ON profiles(current_barcode) WHERE current_barcode IS NOT NULL;

	-- Points ledger (append-only; no UPDATE/DELETE anywhere in this package)
	CREATE TABLE IF NOT EXISTS loyalty_transactions (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		points      INTEGER NOT NULL,
		kind        TEXT NOT NULL,
		description TEXT,
		order_id    TEXT,
		created_at  TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user_created
		ON loyalty_transactions(user_id, created_at DESC);

	-- Issued redemption codes (append-only; expiry enforced by readers)
	CREATE TABLE IF NOT EXISTS issued_codes (
		code       TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		format     TEXT NOT NULL,
		issued_at  TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PROFILE STORE
// =============================================================================

const profileColumns = `user_id, points, tier, total_orders, total_spent,
	card_number, phone, current_token, current_barcode, token_expires_at,
	created_at, updated_at, version`

func (s *Store) Get(ctx context.Context, userID string) (*loyalty.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID)
	return scanProfile(row)
}

func (s *Store) Create(ctx context.Context, p *loyalty.Profile) error {
	p.Version = 1
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		profileArgs(p)...)
	if err != nil {
		if isConstraintViolation(err) {
			return loyalty.ErrConcurrentConflict
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, userID string, fn func(*loyalty.Profile) ([]loyalty.Transaction, error)) (*loyalty.Profile, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer dbTx.Rollback()

	row := dbTx.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID)
	p, err := scanProfile(row)
	if err != nil {
		return nil, err
	}
	readVersion := p.Version

	txs, err := fn(p)
	if err != nil {
		return nil, err
	}

	res, err := dbTx.ExecContext(ctx, `
		UPDATE profiles SET
			points = ?, tier = ?, total_orders = ?, total_spent = ?,
			card_number = ?, phone = ?, current_token = ?, current_barcode = ?,
			token_expires_at = ?, updated_at = ?, version = version + 1
		WHERE user_id = ? AND version = ?`,
		p.Points, string(p.Tier), p.TotalOrders, p.TotalSpent.String(),
		nullable(p.CardNumber), nullable(p.Phone),
		nullable(p.CurrentToken), nullable(p.CurrentBarcode),
		nullableTime(p.TokenExpiresAt), formatTime(p.UpdatedAt),
		userID, readVersion)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, loyalty.ErrConcurrentConflict
	}

	// Ledger appends ride the same SQL transaction as the profile write.
	for _, tx := range txs {
		if err := appendTx(ctx, dbTx, tx); err != nil {
			return nil, err
		}
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	p.Version = readVersion + 1
	return p, nil
}

func (s *Store) Save(ctx context.Context, p *loyalty.Profile) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET
			card_number = ?, phone = ?, current_token = ?, current_barcode = ?,
			token_expires_at = ?, updated_at = ?, version = version + 1
		WHERE user_id = ?`,
		nullable(p.CardNumber), nullable(p.Phone),
		nullable(p.CurrentToken), nullable(p.CurrentBarcode),
		nullableTime(p.TokenExpiresAt), formatTime(p.UpdatedAt), p.UserID)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return loyalty.ErrProfileNotFound
	}
	return nil
}

// =============================================================================
// PROFILE FINDER
// =============================================================================

func (s *Store) FindByToken(ctx context.Context, token string) (*loyalty.Profile, error) {
	return s.findBy(ctx, "current_token", token)
}

func (s *Store) FindByBarcode(ctx context.Context, barcode string) (*loyalty.Profile, error) {
	return s.findBy(ctx, "current_barcode", barcode)
}

func (s *Store) FindByCardNumber(ctx context.Context, card string) (*loyalty.Profile, error) {
	return s.findBy(ctx, "card_number", card)
}

func (s *Store) FindByPhone(ctx context.Context, phone string) (*loyalty.Profile, error) {
	return s.findBy(ctx, "phone", phone)
}

func (s *Store) findBy(ctx context.Context, column, value string) (*loyalty.Profile, error) {
	if value == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE `+column+` = ? LIMIT 1`, value)
	p, err := scanProfile(row)
	if errors.Is(err, loyalty.ErrProfileNotFound) {
		return nil, nil
	}
	return p, err
}

// =============================================================================
// TRANSACTION LOG (append-only)
// =============================================================================

func (s *Store) Append(ctx context.Context, tx loyalty.Transaction) error {
	return appendTx(ctx, s.db, tx)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func appendTx(ctx context.Context, db execer, tx loyalty.Transaction) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO loyalty_transactions (id, user_id, points, kind, description, order_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Points, string(tx.Kind), tx.Description,
		nullable(tx.OrderID), formatTime(tx.CreatedAt))
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]loyalty.Transaction, error) {
	query := `
		SELECT id, user_id, points, kind, description, order_id, created_at
		FROM loyalty_transactions WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []loyalty.Transaction
	for rows.Next() {
		var tx loyalty.Transaction
		var desc, orderID sql.NullString
		var created string
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Points, (*string)(&tx.Kind), &desc, &orderID, &created); err != nil {
			return nil, err
		}
		tx.Description = desc.String
		tx.OrderID = orderID.String
		tx.CreatedAt = parseTime(created)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// ISSUED CODE LOG (append-only)
// =============================================================================

func (s *Store) Record(ctx context.Context, code loyalty.IssuedCode) error {
	// INSERT OR IGNORE: reissuing cannot rewrite an existing code's owner.
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO issued_codes (code, user_id, format, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		code.Code, code.UserID, string(code.Format),
		formatTime(code.IssuedAt), formatTime(code.ExpiresAt))
	if err != nil {
		return fmt.Errorf("record issued code: %w", err)
	}
	return nil
}

func (s *Store) FindCode(ctx context.Context, code string) (*loyalty.IssuedCode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT code, user_id, format, issued_at, expires_at
		FROM issued_codes WHERE code = ?`, code)

	var rec loyalty.IssuedCode
	var issued, expires string
	err := row.Scan(&rec.Code, &rec.UserID, (*string)(&rec.Format), &issued, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find issued code: %w", err)
	}
	rec.IssuedAt = parseTime(issued)
	rec.ExpiresAt = parseTime(expires)
	return &rec, nil
}

// =============================================================================
// ROW HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*loyalty.Profile, error) {
	var p loyalty.Profile
	var spent, created, updated string
	var card, phone, tok, barcode, tokenExp sql.NullString

	err := row.Scan(&p.UserID, &p.Points, (*string)(&p.Tier), &p.TotalOrders, &spent,
		&card, &phone, &tok, &barcode, &tokenExp, &created, &updated, &p.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, loyalty.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}

	p.TotalSpent, err = decimal.NewFromString(spent)
	if err != nil {
		return nil, fmt.Errorf("total_spent %q: %w", spent, err)
	}
	p.CardNumber = card.String
	p.Phone = phone.String
	p.CurrentToken = tok.String
	p.CurrentBarcode = barcode.String
	if tokenExp.Valid {
		p.TokenExpiresAt = parseTime(tokenExp.String)
	}
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

func profileArgs(p *loyalty.Profile) []any {
	return []any{
		p.UserID, p.Points, string(p.Tier), p.TotalOrders, p.TotalSpent.String(),
		nullable(p.CardNumber), nullable(p.Phone),
		nullable(p.CurrentToken), nullable(p.CurrentBarcode),
		nullableTime(p.TokenExpiresAt),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt), p.Version,
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isConstraintViolation(err error) bool {
	// mattn/go-sqlite3 reports constraint violations in the error text;
	// matching the message avoids depending on the driver's error types.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
