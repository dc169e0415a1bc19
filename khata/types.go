/*
Package khata provides the ledger engine behind the khata tracker.

PURPOSE:
  An owner keeps one running account ("khata") per customer. Every payment
  the owner gives or receives is a Transaction; every Transaction carries a
  BalanceAfter snapshot, and every Customer carries the current Balance.
  This package keeps those two views consistent while transactions are
  inserted, edited and deleted in any chronological order.

KEY CONCEPTS IN THIS FILE (types.go):
  - Customer:    one counterparty of the owner, with its current balance
  - Transaction: one GIVEN or RECEIVED movement with its BalanceAfter
  - TxType:      direction of the movement (sign of the delta)

SIGN CONVENTION:
  Positive balance = the customer owes the owner.
  Negative balance = the owner owes the customer.
  GIVEN adds the amount, RECEIVED subtracts it.

SEE ALSO:
  - order.go:   chronological order key (date, createdAt, id)
  - ledger.go:  balance recalculation engine
  - allocate.go: shared-expense allocator
  - projection.go: read-only summaries
*/
package khata

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OwnerID string
type CustomerID string
type TransactionID string

// =============================================================================
// TRANSACTION TYPE
// =============================================================================

type TxType string

const (
	TxGiven    TxType = "GIVEN"    // Owner gives money: customer owes more
	TxReceived TxType = "RECEIVED" // Owner receives money: customer owes less
)

// Valid reports whether t is one of the known transaction types.
func (t TxType) Valid() bool {
	return t == TxGiven || t == TxReceived
}

// ParseTxType converts user input into a TxType.
func ParseTxType(s string) (TxType, error) {
	t := TxType(s)
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Message: "must be GIVEN or RECEIVED"}
	}
	return t, nil
}

// =============================================================================
// CUSTOMER
// =============================================================================

// Customer is a counterparty in the owner's khata.
//
// Balance is owned by the Ledger: it must equal the BalanceAfter of the
// chronologically last transaction, or zero when there are none.
type Customer struct {
	ID         CustomerID
	OwnerID    OwnerID
	Name       string
	Phone      string
	Address    string
	Balance    decimal.Decimal
	ShareToken string

	// Version is bumped by the store on every update and checked on write.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GroupShare is an owner wide share link: whoever holds Token can read
// every customer of OwnerID, and each customer's statement through it.
type GroupShare struct {
	OwnerID   OwnerID
	Token     string
	CreatedAt time.Time
}

// =============================================================================
// TRANSACTION
// =============================================================================

type Transaction struct {
	ID           TransactionID
	CustomerID   CustomerID
	OwnerID      OwnerID
	Type         TxType
	Amount       decimal.Decimal
	Description  string
	Date         time.Time
	BalanceAfter decimal.Decimal
	CreatedAt    time.Time
}

// SignedDelta is the effect of the transaction on the customer's balance.
func (tx Transaction) SignedDelta() decimal.Decimal {
	if tx.Type == TxReceived {
		return tx.Amount.Neg()
	}
	return tx.Amount
}

// Key returns the chronological order key of the transaction.
func (tx Transaction) Key() OrderKey {
	return OrderKey{Date: tx.Date, CreatedAt: tx.CreatedAt, ID: tx.ID}
}
