package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/transfer-service/internal/ledger"
	"github.com/eaglebank/transfer-service/shared/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultTxTimeout = 10 * time.Second

// PostgreSQL aborts one side of a deadlock or a serialization conflict with
// these SQLSTATEs. The transaction is rolled back and may be retried.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

const (
	selectBalanceSQL = `SELECT balance FROM accounts WHERE id = $1`

	debitIfSufficientSQL = `
		UPDATE accounts
		SET balance = balance - $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND balance >= $1
	`

	creditSQL = `
		UPDATE accounts
		SET balance = balance + $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`

	insertTransferSQL = `
		INSERT INTO transfers (reference, from_account_id, to_account_id, amount, created_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		RETURNING id, created_at
	`
)

type LedgerOptions struct {
	Isolation sql.IsolationLevel
	// TxTimeout bounds an open transaction once it no longer follows the
	// caller's context.
	TxTimeout time.Duration
}

// LedgerRepository is the transactional write store for balances and the
// transfer audit log. It operates exclusively against the relational store.
type LedgerRepository struct {
	db      *sql.DB
	logger  *zap.Logger
	opts    LedgerOptions
	acquire func(ctx context.Context) (ledgerConn, error)
}

// ledgerConn is the pinned connection a transaction runs on.
type ledgerConn interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

func NewLedgerRepository(db *sql.DB, logger *zap.Logger, opts LedgerOptions) *LedgerRepository {
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = defaultTxTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &LedgerRepository{db: db, logger: logger, opts: opts}
	r.acquire = r.conn
	return r
}

func (r *LedgerRepository) conn(ctx context.Context) (ledgerConn, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// WithinTransaction pins one pooled connection, opens a transaction on it and
// runs fn. A nil return from fn commits; an error or a panic rolls back.
// Whatever happens, the transaction is finished before the connection goes
// back to the pool, so the pool only ever holds connections in autocommit mode.
//
// ctx governs acquiring the connection and BEGIN only. The open transaction
// runs detached from caller cancellation, bounded by TxTimeout, so it always
// ends in a commit or a rollback.
func (r *LedgerRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx *LedgerTx) error) error {
	conn, err := r.acquire(ctx)
	if err != nil {
		return ledger.NewStoreError("acquire connection", err)
	}
	defer r.release(conn)

	if err := ctx.Err(); err != nil {
		return ledger.NewStoreError("begin", err)
	}

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.TxTimeout)
	defer cancel()

	tx, err := conn.BeginTx(txCtx, &sql.TxOptions{Isolation: r.opts.Isolation})
	if err != nil {
		return ledger.NewStoreError("begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = r.rollback(tx, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	if err := fn(txCtx, &LedgerTx{tx: tx}); err != nil {
		return r.rollback(tx, err)
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit", err)
	}
	return nil
}

// rollback aborts tx and returns cause, or a RollbackError wrapping cause if
// the abort itself failed.
func (r *LedgerRepository) rollback(tx *sql.Tx, cause error) error {
	rbErr := tx.Rollback()
	if rbErr == nil || errors.Is(rbErr, sql.ErrTxDone) {
		return cause
	}
	r.logger.Error("transaction rollback failed", zap.NamedError("cause", cause), zap.Error(rbErr))
	return &ledger.RollbackError{Err: cause, RollbackErr: rbErr}
}

func (r *LedgerRepository) release(conn ledgerConn) {
	if err := conn.Close(); err != nil {
		r.logger.Warn("failed to release ledger connection", zap.Error(err))
	}
}

// LedgerTx exposes the ledger statements bound to one open transaction.
// It is only valid inside the WithinTransaction callback that received it.
type LedgerTx struct {
	tx *sql.Tx
}

// Balance reads an account balance. found is false when the account does not exist.
// The value is a snapshot; DebitIfSufficient stays the authoritative check.
func (t *LedgerTx) Balance(ctx context.Context, accountID int64) (balance decimal.Decimal, found bool, err error) {
	err = t.tx.QueryRowContext(ctx, selectBalanceSQL, accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, storeError("read balance", err)
	}
	return balance, true, nil
}

// DebitIfSufficient subtracts amount from the account in a single guarded
// update. It reports false when the account is missing or its balance is
// below amount; the two cases cannot be told apart here.
func (t *LedgerTx) DebitIfSufficient(ctx context.Context, accountID int64, amount decimal.Decimal) (bool, error) {
	n, err := t.exec(ctx, "debit", debitIfSufficientSQL, amount, accountID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Credit adds amount to the account and reports whether the account exists.
func (t *LedgerTx) Credit(ctx context.Context, accountID int64, amount decimal.Decimal) (bool, error) {
	n, err := t.exec(ctx, "credit", creditSQL, amount, accountID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AppendTransfer inserts the audit row and fills in the store-assigned ID and timestamp.
func (t *LedgerTx) AppendTransfer(ctx context.Context, rec *models.TransferRecord) error {
	var createdAt dbTime
	err := t.tx.QueryRowContext(ctx, insertTransferSQL,
		rec.Reference, rec.FromAccountID, rec.ToAccountID, rec.Amount,
	).Scan(&rec.ID, &createdAt)
	if err != nil {
		return storeError("insert transfer", err)
	}
	rec.CreatedAt = createdAt.Time
	return nil
}

func (t *LedgerTx) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storeError(op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, storeError(op+": rows affected", err)
	}
	return rows, nil
}

// storeError wraps a failed statement. Deadlock and serialization aborts also
// match ledger.ErrTransactionConflict.
func storeError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected) {
		err = fmt.Errorf("%w: %w", ledger.ErrTransactionConflict, err)
	}
	return ledger.NewStoreError(op, err)
}
