package cqrs

import "github.com/shopspring/decimal"

type TransferCommand struct {
	FromAccountID int64
	ToAccountID   int64
	Amount        decimal.Decimal
}

// ---------- Account queries ----------

// GetAccountQuery fetches the current balance of a single account.
type GetAccountQuery struct {
	AccountID int64
}

// ---------- Transfer queries ----------

// ListTransfersQuery fetches the transfers an account took part in, newest first.
type ListTransfersQuery struct {
	AccountID int64
	Limit     int
}
