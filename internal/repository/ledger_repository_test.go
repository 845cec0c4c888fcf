package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/eaglebank/transfer-service/internal/ledger"
	"github.com/eaglebank/transfer-service/internal/testutil"
	"github.com/eaglebank/transfer-service/shared/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestWithinTransaction_CommitsOnNilError(t *testing.T) {
	db := testutil.NewLedgerDB(t, map[int64]string{1: "500", 2: "100"})
	repo := NewLedgerRepository(db, nil, LedgerOptions{})

	rec := &models.TransferRecord{Reference: "trf-commit0001", FromAccountID: 1, ToAccountID: 2, Amount: dec("200")}
	err := repo.WithinTransaction(context.Background(), func(ctx context.Context, tx *LedgerTx) error {
		ok, err := tx.DebitIfSufficient(ctx, 1, dec("200"))
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = tx.Credit(ctx, 2, dec("200"))
		require.NoError(t, err)
		require.True(t, ok)
		return tx.AppendTransfer(ctx, rec)
	})

	require.NoError(t, err)
	assert.Positive(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.True(t, dec("300").Equal(testutil.Balance(t, db, 1)))
	assert.True(t, dec("300").Equal(testutil.Balance(t, db, 2)))
	assert.Equal(t, 1, testutil.TransferCount(t, db))
	testutil.RequireReleased(t, db)
}

func TestWithinTransaction_RollsBackOnError(t *testing.T) {
	db := testutil.NewLedgerDB(t, map[int64]string{1: "500", 2: "100"})
	repo := NewLedgerRepository(db, nil, LedgerOptions{})
	sentinel := errors.New("stop")

	err := repo.WithinTransaction(context.Background(), func(ctx context.Context, tx *LedgerTx) error {
		_, err := tx.DebitIfSufficient(ctx, 1, dec("200"))
		require.NoError(t, err)
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.True(t, dec("500").Equal(testutil.Balance(t, db, 1)))
	testutil.RequireReleased(t, db)
}

func TestWithinTransaction_RollsBackAndRepanics(t *testing.T) {
	db := testutil.NewLedgerDB(t, map[int64]string{1: "500", 2: "100"})
	repo := NewLedgerRepository(db, nil, LedgerOptions{})

	assert.PanicsWithValue(t, "boom", func() {
		_ = repo.WithinTransaction(context.Background(), func(ctx context.Context, tx *LedgerTx) error {
			_, err := tx.DebitIfSufficient(ctx, 1, dec("200"))
			require.NoError(t, err)
			panic("boom")
		})
	})

	assert.True(t, dec("500").Equal(testutil.Balance(t, db, 1)))
	testutil.RequireReleased(t, db)
}

func TestWithinTransaction_RollbackFailureKeepsPrimaryError(t *testing.T) {
	db, faults := testutil.NewFaultyLedgerDB(t, map[int64]string{1: "500", 2: "100"})
	core, logs := observer.New(zapcore.DebugLevel)
	repo := NewLedgerRepository(db, zap.New(core), LedgerOptions{})

	primary := errors.New("audit log unavailable")
	rollbackFailure := errors.New("connection lost during rollback")
	faults.FailRollback(rollbackFailure)

	err := repo.WithinTransaction(context.Background(), func(ctx context.Context, tx *LedgerTx) error {
		_, err := tx.DebitIfSufficient(ctx, 1, dec("200"))
		require.NoError(t, err)
		return primary
	})

	var rbErr *ledger.RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.ErrorIs(t, err, primary)
	assert.ErrorIs(t, err, rollbackFailure)
	assert.True(t, dec("500").Equal(testutil.Balance(t, db, 1)))
	testutil.RequireReleased(t, db)

	entries := logs.FilterMessage("transaction rollback failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestWithinTransaction_CommitFailureIsStoreError(t *testing.T) {
	db, faults := testutil.NewFaultyLedgerDB(t, map[int64]string{1: "500", 2: "100"})
	repo := NewLedgerRepository(db, nil, LedgerOptions{})

	commitFailure := &pq.Error{Code: pqSerializationFailure, Message: "could not serialize access due to concurrent update"}
	faults.FailCommit(commitFailure)

	err := repo.WithinTransaction(context.Background(), func(ctx context.Context, tx *LedgerTx) error {
		ok, err := tx.DebitIfSufficient(ctx, 1, dec("200"))
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = tx.Credit(ctx, 2, dec("200"))
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	})

	var storeErr *ledger.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "commit", storeErr.Op)
	assert.ErrorIs(t, err, commitFailure)
	assert.ErrorIs(t, err, ledger.ErrTransactionConflict)
	assert.True(t, dec("500").Equal(testutil.Balance(t, db, 1)))
	assert.True(t, dec("100").Equal(testutil.Balance(t, db, 2)))
	testutil.RequireReleased(t, db)
}

type closeFailingConn struct {
	*sql.Conn
}

func (c closeFailingConn) Close() error {
	if err := c.Conn.Close(); err != nil {
		return err
	}
	return errors.New("connection reset by peer")
}

func TestWithinTransaction_ReleaseFailureKeepsOutcome(t *testing.T) {
	db := testutil.NewLedgerDB(t, map[int64]string{1: "500", 2: "100"})
	core, logs := observer.New(zapcore.DebugLevel)
	repo := NewLedgerRepository(db, zap.New(core), LedgerOptions{})
	repo.acquire = func(ctx context.Context) (ledgerConn, error) {
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		return closeFailingConn{conn}, nil
	}

	err := repo.WithinTransaction(context.Background(), func(ctx context.Context, tx *LedgerTx) error {
		_, err := tx.DebitIfSufficient(ctx, 1, dec("200"))
		return err
	})

	require.NoError(t, err)
	assert.True(t, dec("300").Equal(testutil.Balance(t, db, 1)))
	testutil.RequireReleased(t, db)

	entries := logs.FilterMessage("failed to release ledger connection").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestWithinTransaction_CancelledBeforeBegin(t *testing.T) {
	db := testutil.NewLedgerDB(t, map[int64]string{1: "500"})
	repo := NewLedgerRepository(db, nil, LedgerOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := repo.WithinTransaction(ctx, func(ctx context.Context, tx *LedgerTx) error {
		called = true
		return nil
	})

	var storeErr *ledger.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	testutil.RequireReleased(t, db)
}

func TestWithinTransaction_IgnoresCancellationOnceOpen(t *testing.T) {
	db := testutil.NewLedgerDB(t, map[int64]string{1: "500", 2: "100"})
	repo := NewLedgerRepository(db, nil, LedgerOptions{})
	ctx, cancel := context.WithCancel(context.Background())

	err := repo.WithinTransaction(ctx, func(txCtx context.Context, tx *LedgerTx) error {
		cancel()
		ok, err := tx.DebitIfSufficient(txCtx, 1, dec("50"))
		if err != nil || !ok {
			return errors.New("debit did not apply")
		}
		_, err = tx.Credit(txCtx, 2, dec("50"))
		return err
	})

	require.NoError(t, err)
	assert.True(t, dec("450").Equal(testutil.Balance(t, db, 1)))
	assert.True(t, dec("150").Equal(testutil.Balance(t, db, 2)))
}

func TestLedgerTx_DebitIfSufficient(t *testing.T) {
	tests := []struct {
		name      string
		accountID int64
		amount    string
		applied   bool
		remaining string
	}{
		{name: "sufficient balance", accountID: 1, amount: "200", applied: true, remaining: "300"},
		{name: "exact balance", accountID: 1, amount: "500", applied: true, remaining: "0"},
		{name: "insufficient balance", accountID: 1, amount: "500.01", applied: false, remaining: "500"},
		{name: "missing account", accountID: 42, amount: "1", applied: false, remaining: "500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.NewLedgerDB(t, map[int64]string{1: "500"})
			repo := NewLedgerRepository(db, nil, LedgerOptions{})

			var applied bool
			err := repo.WithinTransaction(context.Background(), func(ctx context.Context, tx *LedgerTx) error {
				var err error
				applied, err = tx.DebitIfSufficient(ctx, tt.accountID, dec(tt.amount))
				return err
			})

			require.NoError(t, err)
			assert.Equal(t, tt.applied, applied)
			assert.True(t, dec(tt.remaining).Equal(testutil.Balance(t, db, 1)))
		})
	}
}

func TestLedgerTx_Balance(t *testing.T) {
	db := testutil.NewLedgerDB(t, map[int64]string{1: "12.5"})
	repo := NewLedgerRepository(db, nil, LedgerOptions{})

	err := repo.WithinTransaction(context.Background(), func(ctx context.Context, tx *LedgerTx) error {
		balance, found, err := tx.Balance(ctx, 1)
		require.NoError(t, err)
		assert.True(t, found)
		assert.True(t, dec("12.5").Equal(balance))

		_, found, err = tx.Balance(ctx, 2)
		require.NoError(t, err)
		assert.False(t, found)
		return nil
	})
	require.NoError(t, err)
}

func TestLedgerTx_StoreFailureIsStoreError(t *testing.T) {
	db := testutil.NewLedgerDB(t, map[int64]string{1: "500", 2: "100"})
	testutil.FailCreditsTo(t, db, 2)
	repo := NewLedgerRepository(db, nil, LedgerOptions{})

	err := repo.WithinTransaction(context.Background(), func(ctx context.Context, tx *LedgerTx) error {
		_, err := tx.Credit(ctx, 2, dec("10"))
		return err
	})

	var storeErr *ledger.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "credit", storeErr.Op)
	assert.Contains(t, err.Error(), "credit rejected")
	assert.True(t, dec("100").Equal(testutil.Balance(t, db, 2)))
}

func TestStoreError_ClassifiesConflicts(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{name: "deadlock", err: &pq.Error{Code: pqDeadlockDetected}, conflict: true},
		{name: "serialization failure", err: &pq.Error{Code: pqSerializationFailure}, conflict: true},
		{name: "unique violation", err: &pq.Error{Code: "23505"}, conflict: false},
		{name: "driver error", err: errors.New("connection reset"), conflict: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storeError("credit", tt.err)

			var storeErr *ledger.StoreError
			require.ErrorAs(t, err, &storeErr)
			assert.Equal(t, "credit", storeErr.Op)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.conflict, errors.Is(err, ledger.ErrTransactionConflict))
		})
	}
}
