package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"
	"testing"

	"github.com/mattn/go-sqlite3"
)

// Faults makes the driver report commit or rollback failures. The underlying
// SQLite transaction is always rolled back, so a failed commit applies nothing.
type Faults struct {
	mu          sync.Mutex
	commitErr   error
	rollbackErr error
}

// FailCommit makes every following commit return err.
func (f *Faults) FailCommit(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitErr = err
}

// FailRollback makes every following rollback return err.
func (f *Faults) FailRollback(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbackErr = err
}

func (f *Faults) errors() (commitErr, rollbackErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commitErr, f.rollbackErr
}

// NewFaultyLedgerDB is NewLedgerDB behind a driver whose commit and rollback
// can be made to fail through the returned Faults.
func NewFaultyLedgerDB(t *testing.T, balances map[int64]string) (*sql.DB, *Faults) {
	t.Helper()

	faults := &Faults{}
	db := sql.OpenDB(&faultConnector{
		dsn:    ledgerDSN(t, "_busy_timeout=5000"),
		driver: &sqlite3.SQLiteDriver{},
		faults: faults,
	})
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	seedLedger(t, db, balances)
	return db, faults
}

type faultConnector struct {
	dsn    string
	driver *sqlite3.SQLiteDriver
	faults *Faults
}

func (c *faultConnector) Connect(context.Context) (driver.Conn, error) {
	conn, err := c.driver.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	sqliteConn, ok := conn.(*sqlite3.SQLiteConn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected sqlite connection type %T", conn)
	}
	return &faultConn{conn: sqliteConn, faults: c.faults}, nil
}

func (c *faultConnector) Driver() driver.Driver { return c.driver }

type faultConn struct {
	conn   *sqlite3.SQLiteConn
	faults *Faults
}

func (c *faultConn) Prepare(query string) (driver.Stmt, error) { return c.conn.Prepare(query) }

func (c *faultConn) Close() error { return c.conn.Close() }

func (c *faultConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *faultConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	tx, err := c.conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &faultTx{tx: tx, faults: c.faults}, nil
}

func (c *faultConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	return c.conn.ExecContext(ctx, query, args)
}

func (c *faultConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	return c.conn.QueryContext(ctx, query, args)
}

type faultTx struct {
	tx     driver.Tx
	faults *Faults
}

func (t *faultTx) Commit() error {
	if commitErr, _ := t.faults.errors(); commitErr != nil {
		_ = t.tx.Rollback()
		return commitErr
	}
	return t.tx.Commit()
}

func (t *faultTx) Rollback() error {
	err := t.tx.Rollback()
	if _, rollbackErr := t.faults.errors(); rollbackErr != nil {
		return rollbackErr
	}
	return err
}
