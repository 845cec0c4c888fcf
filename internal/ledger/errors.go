// Package ledger holds the failure taxonomy shared by the transfer write path,
// the read side and the HTTP layer.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits an amount may carry.
const AmountScale = 2

var (
	// ErrInsufficientFundsOrAccountNotFound is returned when the conditional
	// debit matches no row. The store cannot tell a missing source account
	// from a short balance, so both surface as this one condition.
	ErrInsufficientFundsOrAccountNotFound = errors.New("insufficient funds or source account not found")

	// ErrInsufficientFunds and ErrSourceAccountNotFound come from the advisory
	// balance read. Both match ErrInsufficientFundsOrAccountNotFound with errors.Is.
	ErrInsufficientFunds     = fmt.Errorf("%w: insufficient funds", ErrInsufficientFundsOrAccountNotFound)
	ErrSourceAccountNotFound = fmt.Errorf("%w: source account not found", ErrInsufficientFundsOrAccountNotFound)

	ErrDestinationAccountNotFound = errors.New("destination account not found")
	ErrAccountNotFound            = errors.New("account not found")

	ErrSameAccount    = errors.New("source and destination accounts must differ")
	ErrInvalidAmount  = errors.New("amount must be positive with at most 2 decimal places")
	ErrInvalidAccount = errors.New("account id must be positive")

	// ErrTransactionConflict marks a transaction the store aborted because it
	// deadlocked with, or could not be serialized against, a concurrent
	// transfer. Nothing was applied and the caller may retry.
	ErrTransactionConflict = errors.New("transaction aborted by a concurrent transfer")
)

// StoreError is any failure reported by the ledger store while connecting,
// beginning, executing, scanning or committing.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ledger store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err with the operation that failed. A nil err stays nil.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// RollbackError reports that rolling back after Err failed as well. The
// transaction outcome is unknown to the client side; the store aborts it when
// the connection is discarded.
type RollbackError struct {
	Err         error
	RollbackErr error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback failed: %v (after: %v)", e.RollbackErr, e.Err)
}

// Unwrap exposes the primary failure first so errors.Is keeps matching it.
func (e *RollbackError) Unwrap() []error { return []error{e.Err, e.RollbackErr} }

// ValidateAmount reports whether amount is a legal transfer amount.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return ErrInvalidAmount
	}
	return nil
}
