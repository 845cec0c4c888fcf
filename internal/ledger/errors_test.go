package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPrecheckErrorsMatchCombinedCondition(t *testing.T) {
	assert.ErrorIs(t, ErrInsufficientFunds, ErrInsufficientFundsOrAccountNotFound)
	assert.ErrorIs(t, ErrSourceAccountNotFound, ErrInsufficientFundsOrAccountNotFound)
	assert.NotErrorIs(t, ErrInsufficientFunds, ErrSourceAccountNotFound)
	assert.NotErrorIs(t, ErrInsufficientFundsOrAccountNotFound, ErrInsufficientFunds)
}

func TestRollbackErrorKeepsPrimaryCause(t *testing.T) {
	primary := NewStoreError("credit", errors.New("deadlock detected"))
	rbErr := errors.New("connection reset")
	err := error(&RollbackError{Err: primary, RollbackErr: rbErr})

	var storeErr *StoreError
	assert.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "credit", storeErr.Op)
	assert.ErrorIs(t, err, rbErr)
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.Contains(t, err.Error(), "connection reset")

	domain := &RollbackError{Err: ErrDestinationAccountNotFound, RollbackErr: rbErr}
	assert.ErrorIs(t, domain, ErrDestinationAccountNotFound)
}

func TestNewStoreErrorNil(t *testing.T) {
	assert.NoError(t, NewStoreError("commit", nil))
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		amount string
		valid  bool
	}{
		{"200", true},
		{"0.01", true},
		{"125.50", true},
		{"0", false},
		{"-1", false},
		{"0.001", false},
		{"10.999", false},
	}
	for _, tt := range tests {
		err := ValidateAmount(decimal.RequireFromString(tt.amount))
		if tt.valid {
			assert.NoError(t, err, tt.amount)
		} else {
			assert.ErrorIs(t, err, ErrInvalidAmount, tt.amount)
		}
	}
}
