// Package testutil provides a real transactional ledger store for tests,
// backed by SQLite, plus a miniredis-backed Redis client.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const schema = `
CREATE TABLE accounts (
	id         INTEGER PRIMARY KEY,
	balance    NUMERIC(19,2) NOT NULL CHECK (balance >= 0),
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE transfers (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	reference       TEXT NOT NULL UNIQUE,
	from_account_id INTEGER NOT NULL,
	to_account_id   INTEGER NOT NULL,
	amount          NUMERIC(19,2) NOT NULL CHECK (amount > 0),
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// NewLedgerDB opens a fresh single-connection SQLite ledger seeded with the
// given account balances.
func NewLedgerDB(t *testing.T, balances map[int64]string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ledgerDSN(t, "_busy_timeout=5000"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	seedLedger(t, db, balances)
	return db
}

// NewConcurrentLedgerDB opens a SQLite ledger that hands out up to conns
// connections at once. It runs in WAL mode and every transaction begins
// IMMEDIATE, so writers queue on the database lock instead of failing with
// SQLITE_BUSY when they upgrade a read lock.
func NewConcurrentLedgerDB(t *testing.T, balances map[int64]string, conns int) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ledgerDSN(t, "_busy_timeout=20000&_journal_mode=WAL&_txlock=immediate"))
	require.NoError(t, err)
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	t.Cleanup(func() { _ = db.Close() })

	seedLedger(t, db, balances)
	return db
}

func ledgerDSN(t *testing.T, params string) string {
	return "file:" + filepath.Join(t.TempDir(), "ledger.db") + "?" + params
}

func seedLedger(t *testing.T, db *sql.DB, balances map[int64]string) {
	t.Helper()

	_, err := db.Exec(schema)
	require.NoError(t, err)

	for id, balance := range balances {
		_, err := db.Exec(`INSERT INTO accounts (id, balance) VALUES ($1, $2)`, id, decimal.RequireFromString(balance))
		require.NoError(t, err)
	}
}

// FailCreditsTo makes every balance increase on accountID fail inside the store.
func FailCreditsTo(t *testing.T, db *sql.DB, accountID int64) {
	t.Helper()
	_, err := db.Exec(`
		CREATE TRIGGER reject_credit BEFORE UPDATE OF balance ON accounts
		WHEN NEW.id = ` + strconv.FormatInt(accountID, 10) + ` AND NEW.balance > OLD.balance
		BEGIN SELECT RAISE(ABORT, 'credit rejected'); END;
	`)
	require.NoError(t, err)
}

// FailTransferInserts makes every audit insert fail inside the store.
func FailTransferInserts(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`
		CREATE TRIGGER reject_transfer BEFORE INSERT ON transfers
		BEGIN SELECT RAISE(ABORT, 'audit log unavailable'); END;
	`)
	require.NoError(t, err)
}

// Balance reads an account balance directly from the store.
func Balance(t *testing.T, db *sql.DB, id int64) decimal.Decimal {
	t.Helper()
	var balance decimal.Decimal
	require.NoError(t, db.QueryRow(`SELECT balance FROM accounts WHERE id = $1`, id).Scan(&balance))
	return balance
}

// TransferCount returns the number of rows in the audit log.
func TransferCount(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM transfers`).Scan(&n))
	return n
}

// RequireReleased fails the test if any pooled connection is still checked out.
func RequireReleased(t *testing.T, db *sql.DB) {
	t.Helper()
	require.Zero(t, db.Stats().InUse, "ledger connection was not released")
}

// NewRedis starts a miniredis server and returns a client connected to it.
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return mr, client
}
