package storage

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound = errors.New("not found")
)

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id INTEGER PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			wallet_address TEXT NOT NULL DEFAULT '',
			plan TEXT NOT NULL DEFAULT '',
			expires_at INTEGER,
			reminder_sent INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_expires_at ON accounts(expires_at)`,

		`CREATE TABLE IF NOT EXISTS pending_intents (
			user_id INTEGER PRIMARY KEY,
			wallet_address TEXT NOT NULL,
			plan TEXT NOT NULL,
			expected_lamports INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_wallet ON pending_intents(wallet_address COLLATE NOCASE)`,

		`CREATE TABLE IF NOT EXISTS payments (
			signature TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			lamports INTEGER NOT NULL,
			sender_address TEXT NOT NULL,
			received_at INTEGER NOT NULL
		)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// --- Accounts / wallet directory ---

// UpsertWallet registers (or re-registers) a user's declared wallet address,
// creating the account row lazily on first contact. The subscription fields
// and any in-flight intent snapshot are untouched.
func (s *Storage) UpsertWallet(userID int64, username, address string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(
		`INSERT INTO accounts (user_id, username, wallet_address, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			wallet_address = excluded.wallet_address`,
		userID, username, address, now,
	)
	return err
}

// GetAccount returns the account for a user.
func (s *Storage) GetAccount(userID int64) (*Account, error) {
	var a Account
	var expiresAt sql.NullInt64
	var reminderSent int
	var createdAt int64

	err := s.db.QueryRow(
		`SELECT user_id, username, wallet_address, plan, expires_at, reminder_sent, created_at
		 FROM accounts WHERE user_id = ?`,
		userID,
	).Scan(&a.UserID, &a.Username, &a.WalletAddress, &a.Plan, &expiresAt, &reminderSent, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0)
		a.ExpiresAt = &t
	}
	a.ReminderSent = reminderSent != 0
	a.CreatedAt = time.Unix(createdAt, 0)

	return &a, nil
}

// LookupWallet returns the declared wallet address for a user.
// ErrNotFound means the user has not registered a wallet.
func (s *Storage) LookupWallet(userID int64) (string, error) {
	var addr string
	err := s.db.QueryRow(
		"SELECT wallet_address FROM accounts WHERE user_id = ?",
		userID,
	).Scan(&addr)

	if err == sql.ErrNoRows || (err == nil && addr == "") {
		return "", ErrNotFound
	}
	return addr, err
}

// --- Pending intents ---

// CreateIntent records a user's intent to pay for a plan. Any prior intent
// for the user is overwritten: last chosen plan wins.
func (s *Storage) CreateIntent(userID int64, walletAddress, plan string, expectedLamports int64) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO pending_intents (user_id, wallet_address, plan, expected_lamports, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		userID, walletAddress, plan, expectedLamports, now,
	)
	return err
}

// GetIntent returns the pending intent for a user.
func (s *Storage) GetIntent(userID int64) (*PendingIntent, error) {
	var in PendingIntent
	var createdAt int64

	err := s.db.QueryRow(
		`SELECT user_id, wallet_address, plan, expected_lamports, created_at
		 FROM pending_intents WHERE user_id = ?`,
		userID,
	).Scan(&in.UserID, &in.WalletAddress, &in.Plan, &in.ExpectedLamports, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	in.CreatedAt = time.Unix(createdAt, 0)
	return &in, nil
}

// FindIntentsByWallet returns all pending intents whose wallet snapshot
// matches the given address, case-insensitively. Ordered oldest-first
// (then by user id) so that callers tie-break deterministically.
func (s *Storage) FindIntentsByWallet(address string) ([]PendingIntent, error) {
	rows, err := s.db.Query(
		`SELECT user_id, wallet_address, plan, expected_lamports, created_at
		 FROM pending_intents
		 WHERE wallet_address = ? COLLATE NOCASE
		 ORDER BY created_at ASC, user_id ASC`,
		address,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []PendingIntent
	for rows.Next() {
		var in PendingIntent
		var createdAt int64

		if err := rows.Scan(&in.UserID, &in.WalletAddress, &in.Plan, &in.ExpectedLamports, &createdAt); err != nil {
			return nil, err
		}

		in.CreatedAt = time.Unix(createdAt, 0)
		intents = append(intents, in)
	}

	return intents, rows.Err()
}

// RemoveIntent deletes a user's pending intent. Idempotent.
func (s *Storage) RemoveIntent(userID int64) error {
	_, err := s.db.Exec("DELETE FROM pending_intents WHERE user_id = ?", userID)
	return err
}

// DeleteIntentsBefore removes pending intents created before the cutoff,
// returning how many were removed.
func (s *Storage) DeleteIntentsBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(
		"DELETE FROM pending_intents WHERE created_at < ?",
		cutoff.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- Subscriptions ---

// ConsumeIntentAndGrant atomically deletes the user's pending intent,
// records the payment that satisfied it, and activates the subscription.
// Returns false without writing anything when no intent existed or the
// payment signature was credited before: a concurrent duplicate delivery
// loses one of the two gates and leaves no trace. Because the signature
// insert commits together with the grant, a grant that fails midway leaves
// the payment unrecorded and a retried delivery can still complete it.
func (s *Storage) ConsumeIntentAndGrant(p Payment, plan string, expiresAt *time.Time) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.Exec("DELETE FROM pending_intents WHERE user_id = ?", p.UserID)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	if p.Signature != "" {
		res, err := tx.Exec(
			`INSERT OR IGNORE INTO payments (signature, user_id, lamports, sender_address, received_at)
			 VALUES (?, ?, ?, ?, ?)`,
			p.Signature, p.UserID, p.Lamports, p.SenderAddress, time.Now().Unix(),
		)
		if err != nil {
			return false, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, nil
		}
	}

	if err := grantTx(tx, p.UserID, plan, expiresAt); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// Grant sets a user's plan and expiry and resets the reminder flag.
func (s *Storage) Grant(userID int64, plan string, expiresAt *time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := grantTx(tx, userID, plan, expiresAt); err != nil {
		return err
	}
	return tx.Commit()
}

func grantTx(tx *sql.Tx, userID int64, plan string, expiresAt *time.Time) error {
	var expires sql.NullInt64
	if expiresAt != nil {
		expires = sql.NullInt64{Int64: expiresAt.Unix(), Valid: true}
	}

	now := time.Now().Unix()
	_, err := tx.Exec(
		`INSERT INTO accounts (user_id, plan, expires_at, reminder_sent, created_at)
		 VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			plan = excluded.plan,
			expires_at = excluded.expires_at,
			reminder_sent = 0`,
		userID, plan, expires, now,
	)
	return err
}

// Revoke clears a user's subscription. The account row persists for
// history and wallet continuity. Idempotent.
func (s *Storage) Revoke(userID int64) error {
	_, err := s.db.Exec(
		`UPDATE accounts SET plan = '', expires_at = NULL, reminder_sent = 0
		 WHERE user_id = ?`,
		userID,
	)
	return err
}

// ListExpired returns users whose day-bounded subscription has lapsed.
// Lifetime subscriptions (expires_at NULL) are never returned.
func (s *Storage) ListExpired(now time.Time) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT user_id FROM accounts
		 WHERE plan != '' AND expires_at IS NOT NULL AND expires_at < ?`,
		now.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, id)
	}

	return userIDs, rows.Err()
}

// ListExpiringWithin returns not-yet-reminded subscriptions whose expiry
// falls in [now, now+window].
func (s *Storage) ListExpiringWithin(now time.Time, window time.Duration) ([]ExpiringSubscription, error) {
	rows, err := s.db.Query(
		`SELECT user_id, expires_at FROM accounts
		 WHERE plan != '' AND expires_at IS NOT NULL AND reminder_sent = 0
		   AND expires_at >= ? AND expires_at <= ?`,
		now.Unix(), now.Add(window).Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expiring []ExpiringSubscription
	for rows.Next() {
		var e ExpiringSubscription
		var expiresAt int64
		if err := rows.Scan(&e.UserID, &expiresAt); err != nil {
			return nil, err
		}
		e.ExpiresAt = time.Unix(expiresAt, 0)
		expiring = append(expiring, e)
	}

	return expiring, rows.Err()
}

// MarkReminded sets the reminder flag so a user is reminded at most once
// per subscription period.
func (s *Storage) MarkReminded(userID int64) error {
	_, err := s.db.Exec(
		"UPDATE accounts SET reminder_sent = 1 WHERE user_id = ?",
		userID,
	)
	return err
}

// --- Payments ---

// RecordPayment records a transfer keyed by its signature without touching
// intents or subscriptions, returning true if it was new. Used to seed
// pre-existing transfers as already seen.
func (s *Storage) RecordPayment(p Payment) (bool, error) {
	now := time.Now().Unix()
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO payments (signature, user_id, lamports, sender_address, received_at)
		 VALUES (?, ?, ?, ?, ?)`,
		p.Signature, p.UserID, p.Lamports, p.SenderAddress, now,
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// LastPayment returns the most recent accepted payment credited to a user.
func (s *Storage) LastPayment(userID int64) (*Payment, error) {
	var p Payment
	var receivedAt int64

	err := s.db.QueryRow(
		`SELECT signature, user_id, lamports, sender_address, received_at
		 FROM payments WHERE user_id = ?
		 ORDER BY received_at DESC, rowid DESC LIMIT 1`,
		userID,
	).Scan(&p.Signature, &p.UserID, &p.Lamports, &p.SenderAddress, &receivedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.ReceivedAt = time.Unix(receivedAt, 0)
	return &p, nil
}
