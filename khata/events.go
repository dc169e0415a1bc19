package khata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER EVENTS - Emitted after a mutation commits
// =============================================================================

type EventType string

const (
	EventTransactionCreated EventType = "transaction.created"
	EventTransactionUpdated EventType = "transaction.updated"
	EventTransactionDeleted EventType = "transaction.deleted"
	EventCustomerRebuilt    EventType = "customer.rebuilt"
	EventCustomerDeleted    EventType = "customer.deleted"
	EventSharedExpense      EventType = "shared_expense.allocated"
)

// Event describes a committed ledger change.
type Event struct {
	Type          EventType       `json:"type"`
	OwnerID       OwnerID         `json:"owner_id"`
	CustomerID    CustomerID      `json:"customer_id,omitempty"`
	TransactionID TransactionID   `json:"transaction_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// EventPublisher delivers ledger events to an external broker.
// Publishing happens after commit; failures never undo the mutation.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
