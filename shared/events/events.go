package events

import "time"

// Event types
const (
	TransferCompleted = "transfer.completed"
)

// Stream names
const (
	TransferEventsStream = "transfer.events"
)

// Base event structure
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Transfer events
type TransferCompletedEvent struct {
	TransferID    int64  `json:"transferId"`
	Reference     string `json:"reference"`
	FromAccountID int64  `json:"fromAccountId"`
	ToAccountID   int64  `json:"toAccountId"`
	Amount        string `json:"amount"`
}
