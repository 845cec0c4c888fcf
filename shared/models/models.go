package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the write model of a ledger account. Balance is never negative.
type Account struct {
	ID        int64           `json:"id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updatedTimestamp"`
}

// View projects the account into its cached read model.
func (a Account) View() AccountView {
	return AccountView{ID: a.ID, Balance: a.Balance, UpdatedAt: a.UpdatedAt}
}

// TransferRecord is the immutable audit row written once per committed transfer.
type TransferRecord struct {
	ID            int64           `json:"id"`
	Reference     string          `json:"reference"`
	FromAccountID int64           `json:"fromAccountId"`
	ToAccountID   int64           `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"createdTimestamp"`
}

// AccountView is the read-optimised projection of an account.
type AccountView struct {
	ID        int64           `json:"id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updatedTimestamp"`
}
