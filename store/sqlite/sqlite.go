/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Durable persistence for balances, transactions, timer sessions and the
  notification delivery log. The memory store in ledger/store mirrors the
  same contract for tests.

INTERFACES IMPLEMENTED:
  ledger.TxStore: Balances and transactions with atomic units of work
  timer.Store:    Timer sessions
  notify.Outbox:  Delivery log of outgoing notifications

OPTIMISTIC CONCURRENCY:
  Balance writes are compare-and-swap on the version column:

    UPDATE balances SET ..., version = version + 1
    WHERE id = ? AND version = ?

  Zero affected rows means either the row is gone (ErrNotFound) or another
  writer got there first (ErrConcurrentModification).

IMMUTABLE COLUMNS:
  kind, initial_amount, created_at and created_by on balances, and
  balance_id, customer_id, created_by and created_at on transactions, are
  never part of an UPDATE.

KEY TABLES:
  balances:        One row per prepaid balance
  transactions:    Debits; rows survive deletion of their balance
  timer_sessions:  Start/stop work intervals
  notifications:   Every dispatched notification with its delivery status

TIMESTAMPS:
  Stored as fixed-width UTC text (timeLayout) so lexical order equals
  chronological order in ORDER BY.

CONCURRENCY:
  Uses sync.RWMutex plus a single pooled connection. Every statement inside
  WithTx runs on the *sql.Tx, so the lock is never re-entered.

USAGE:
  st, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  svc := ledger.NewService(st)

SEE ALSO:
  - ledger/store.go:        Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/ticktalk/balance-engine/ledger"
	"github.com/ticktalk/balance-engine/notify"
	"github.com/ticktalk/balance-engine/timer"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ ledger.TxStore = (*Store)(nil)
	_ timer.Store    = (*Store)(nil)
	_ notify.Outbox  = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and SQLite
	// admits a single writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS balances (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('hours', 'credits')),
		initial_amount TEXT NOT NULL,
		current_amount TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('active', 'inactive')),
		expiry_date TEXT,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		created_by TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_balances_customer ON balances(customer_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_balances_expiry ON balances(status, expiry_date);

	-- No foreign key to balances: history outlives a deleted balance.
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		balance_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		title TEXT NOT NULL,
		category TEXT NOT NULL,
		amount TEXT NOT NULL,
		service_date TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		feature_id TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		corrected INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_balance_date ON transactions(balance_id, service_date);

	CREATE TABLE IF NOT EXISTS timer_sessions (
		id TEXT PRIMARY KEY,
		feature_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL CHECK (status IN ('running', 'completed')),
		notes TEXT NOT NULL DEFAULT '',
		corrected INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_timer_sessions_user ON timer_sessions(user_id, start_time);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_timer_sessions_running ON timer_sessions(user_id) WHERE status = 'running';

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		recipient TEXT NOT NULL,
		template TEXT NOT NULL,
		subject TEXT NOT NULL,
		data_json TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// QUERIES - shared by Store and txStore
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements ledger.Store against any querier.
type queries struct {
	q querier
}

const balanceColumns = `id, customer_id, kind, initial_amount, current_amount, status,
	expiry_date, notes, created_at, created_by, updated_at, version`

func (r queries) BalanceExists(ctx context.Context, id ledger.BalanceID) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM balances WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check balance: %w", err)
	}
	return n > 0, nil
}

func (r queries) GetBalance(ctx context.Context, id ledger.BalanceID) (*ledger.Balance, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+balanceColumns+` FROM balances WHERE id = ?`, id)
	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

func (r queries) ListBalances(ctx context.Context, f ledger.BalanceFilter) ([]ledger.Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM balances WHERE 1=1`
	var args []any
	if f.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, f.CustomerID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.ExpiringBefore != nil {
		query += ` AND expiry_date IS NOT NULL AND expiry_date <= ?`
		args = append(args, formatTime(*f.ExpiringBefore))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.Balance, 0)
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r queries) InsertBalance(ctx context.Context, b ledger.Balance) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO balances (`+balanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.CustomerID,
		b.Kind,
		b.InitialAmount.String(),
		b.CurrentAmount.String(),
		b.Status,
		nullTime(b.ExpiryDate),
		b.Notes,
		formatTime(b.CreatedAt),
		b.CreatedBy,
		formatTime(b.UpdatedAt),
		b.Version,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateID
		}
		return fmt.Errorf("failed to insert balance: %w", err)
	}
	return nil
}

func (r queries) UpdateBalance(ctx context.Context, b ledger.Balance) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE balances
		SET customer_id = ?, current_amount = ?, status = ?, expiry_date = ?,
		    notes = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		b.CustomerID,
		b.CurrentAmount.String(),
		b.Status,
		nullTime(b.ExpiryDate),
		b.Notes,
		formatTime(b.UpdatedAt),
		b.ID,
		b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n == 1 {
		return nil
	}

	exists, err := r.BalanceExists(ctx, b.ID)
	if err != nil {
		return err
	}
	if !exists {
		return ledger.ErrNotFound
	}
	return ledger.ErrConcurrentModification
}

func (r queries) DeleteBalance(ctx context.Context, id ledger.BalanceID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM balances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

const transactionColumns = `id, balance_id, customer_id, title, category, amount, service_date,
	notes, feature_id, created_by, created_at, updated_at, corrected`

func (r queries) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

func (r queries) ListTransactions(ctx context.Context, balanceID ledger.BalanceID) ([]ledger.Transaction, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE balance_id = ?
		ORDER BY service_date DESC, created_at DESC`, balanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

func (r queries) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.BalanceID,
		tx.CustomerID,
		tx.Title,
		tx.Category,
		tx.Amount.String(),
		formatTime(tx.ServiceDate),
		tx.Notes,
		nullString(tx.FeatureID),
		tx.CreatedBy,
		formatTime(tx.CreatedAt),
		formatTime(tx.UpdatedAt),
		tx.Corrected,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateID
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (r queries) UpdateTransaction(ctx context.Context, tx ledger.Transaction) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE transactions
		SET title = ?, category = ?, amount = ?, service_date = ?, notes = ?,
		    feature_id = ?, updated_at = ?, corrected = ?
		WHERE id = ?`,
		tx.Title,
		tx.Category,
		tx.Amount.String(),
		formatTime(tx.ServiceDate),
		tx.Notes,
		nullString(tx.FeatureID),
		formatTime(tx.UpdatedAt),
		tx.Corrected,
		tx.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

func (s *Store) read() queries { return queries{q: s.db} }

func (s *Store) BalanceExists(ctx context.Context, id ledger.BalanceID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().BalanceExists(ctx, id)
}

func (s *Store) GetBalance(ctx context.Context, id ledger.BalanceID) (*ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetBalance(ctx, id)
}

func (s *Store) ListBalances(ctx context.Context, f ledger.BalanceFilter) ([]ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListBalances(ctx, f)
}

func (s *Store) InsertBalance(ctx context.Context, b ledger.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertBalance(ctx, b)
}

func (s *Store) UpdateBalance(ctx context.Context, b ledger.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateBalance(ctx, b)
}

func (s *Store) DeleteBalance(ctx context.Context, id ledger.BalanceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().DeleteBalance(ctx, id)
}

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetTransaction(ctx, id)
}

func (s *Store) ListTransactions(ctx context.Context, balanceID ledger.BalanceID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListTransactions(ctx, balanceID)
}

func (s *Store) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertTransaction(ctx, tx)
}

func (s *Store) UpdateTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateTransaction(ctx, tx)
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// TIMER SESSIONS (timer.Store interface)
// =============================================================================

const sessionColumns = `id, feature_id, user_id, start_time, end_time, duration_seconds, status, notes, corrected`

func (s *Store) InsertSession(ctx context.Context, sess timer.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timer_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.FeatureID,
		sess.UserID,
		formatTime(sess.StartTime),
		nullTime(sess.EndTime),
		sess.DurationSeconds,
		sess.Status,
		sess.Notes,
		sess.Corrected,
	)
	if err != nil {
		// idx_timer_sessions_running reports as a plain UNIQUE violation.
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("user %s: %w", sess.UserID, timer.ErrAlreadyRunning)
		}
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateID
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*timer.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM timer_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess timer.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE timer_sessions
		SET feature_id = ?, end_time = ?, duration_seconds = ?, status = ?, notes = ?, corrected = ?
		WHERE id = ?`,
		sess.FeatureID,
		nullTime(sess.EndTime),
		sess.DurationSeconds,
		sess.Status,
		sess.Notes,
		sess.Corrected,
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]timer.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM timer_sessions
		WHERE user_id = ?
		ORDER BY start_time DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]timer.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// =============================================================================
// NOTIFICATION OUTBOX (notify.Outbox interface)
// =============================================================================

func (s *Store) SaveDelivery(ctx context.Context, d notify.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dataJSON, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("failed to encode notification data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient, template, subject, data_json, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, error = excluded.error`,
		d.ID,
		d.Recipient,
		d.Template,
		d.Subject,
		string(dataJSON),
		d.Status,
		nullString(d.Error),
		formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

// ListDeliveries returns the newest deliveries first. An empty recipient
// lists every recipient.
func (s *Store) ListDeliveries(ctx context.Context, recipient string, limit int) ([]notify.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, recipient, template, subject, data_json, status, error, created_at FROM notifications`
	var args []any
	if recipient != "" {
		query += ` WHERE recipient = ?`
		args = append(args, recipient)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]notify.Delivery, 0)
	for rows.Next() {
		var (
			d                   notify.Delivery
			dataJSON, createdAt string
			errText             sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.Recipient, &d.Template, &d.Subject, &dataJSON, &d.Status, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &d.Data); err != nil {
			return nil, fmt.Errorf("failed to decode notification data: %w", err)
		}
		d.Error = errText.String
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanBalance(row scanner) (*ledger.Balance, error) {
	var (
		b                    ledger.Balance
		initial, current     string
		expiry               sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&b.ID, &b.CustomerID, &b.Kind, &initial, &current, &b.Status,
		&expiry, &b.Notes, &createdAt, &b.CreatedBy, &updatedAt, &b.Version)
	if err != nil {
		return nil, err
	}
	if b.InitialAmount, err = decimal.NewFromString(initial); err != nil {
		return nil, fmt.Errorf("initial_amount: %w", err)
	}
	if b.CurrentAmount, err = decimal.NewFromString(current); err != nil {
		return nil, fmt.Errorf("current_amount: %w", err)
	}
	if b.ExpiryDate, err = parseNullTime(expiry); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanTransaction(row scanner) (*ledger.Transaction, error) {
	var (
		tx                            ledger.Transaction
		amount                        string
		serviceDate, createdAt, updAt string
		featureID                     sql.NullString
	)
	err := row.Scan(&tx.ID, &tx.BalanceID, &tx.CustomerID, &tx.Title, &tx.Category, &amount,
		&serviceDate, &tx.Notes, &featureID, &tx.CreatedBy, &createdAt, &updAt, &tx.Corrected)
	if err != nil {
		return nil, err
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	tx.FeatureID = featureID.String
	if tx.ServiceDate, err = parseTime(serviceDate); err != nil {
		return nil, err
	}
	if tx.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if tx.UpdatedAt, err = parseTime(updAt); err != nil {
		return nil, err
	}
	return &tx, nil
}

func scanSession(row scanner) (*timer.Session, error) {
	var (
		sess  timer.Session
		start string
		end   sql.NullString
	)
	err := row.Scan(&sess.ID, &sess.FeatureID, &sess.UserID, &start, &end,
		&sess.DurationSeconds, &sess.Status, &sess.Notes, &sess.Corrected)
	if err != nil {
		return nil, err
	}
	if sess.StartTime, err = parseTime(start); err != nil {
		return nil, err
	}
	if sess.EndTime, err = parseNullTime(end); err != nil {
		return nil, err
	}
	return &sess, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}
