/*
store.go - Persistence interface for customers and transactions

PURPOSE:
  Defines the boundary between the ledger engine and the database. The
  engine only needs record-level reads and writes plus a per-customer,
  chronologically ordered transaction listing.

KEY INTERFACES:
  Store:   record persistence (customers, transactions, group shares, queries)
  TxStore: Store + WithTx for all-or-nothing multi-record writes

OWNERSHIP:
  Every lookup that takes an OwnerID must behave as "not found" when the
  record exists but belongs to another owner.

OPTIMISTIC CONCURRENCY:
  UpdateCustomer succeeds only if the stored Version equals the Version of
  the passed customer; the store then increments it. A mismatch returns
  ErrConcurrencyConflict.

IMPLEMENTATIONS:
  - khata/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite with embedded migrations
*/
package khata

import (
	"context"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// QUERIES
// =============================================================================

type BalanceFilter string

const (
	BalanceAny      BalanceFilter = ""
	BalancePositive BalanceFilter = "positive" // customer owes owner
	BalanceNegative BalanceFilter = "negative" // owner owes customer
	BalanceSettled  BalanceFilter = "settled"
)

type CustomerSort string

const (
	SortNewest      CustomerSort = "" // CreatedAt descending
	SortName        CustomerSort = "name"
	SortBalanceHigh CustomerSort = "balance-high"
	SortBalanceLow  CustomerSort = "balance-low"
	SortRecent      CustomerSort = "recent" // UpdatedAt descending
)

// CustomerFilter narrows ListCustomers.
type CustomerFilter struct {
	Search  string // case-insensitive substring of Name
	Balance BalanceFilter
	Sort    CustomerSort
}

// TransactionQuery selects transactions of one owner.
// From is inclusive, To is exclusive. Zero values mean unbounded.
type TransactionQuery struct {
	OwnerID    OwnerID
	CustomerID CustomerID // empty = all customers of the owner
	From       time.Time
	To         time.Time
	Type       TxType // empty = both types
}

// Matches reports whether tx satisfies the query.
func (q TransactionQuery) Matches(tx Transaction) bool {
	if tx.OwnerID != q.OwnerID {
		return false
	}
	if q.CustomerID != "" && tx.CustomerID != q.CustomerID {
		return false
	}
	if !q.From.IsZero() && tx.Date.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !tx.Date.Before(q.To) {
		return false
	}
	if q.Type != "" && tx.Type != q.Type {
		return false
	}
	return true
}

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence of customers and transactions.
type Store interface {
	CreateCustomer(ctx context.Context, c Customer) error
	GetCustomer(ctx context.Context, ownerID OwnerID, id CustomerID) (Customer, error)
	GetCustomerByShareToken(ctx context.Context, token string) (Customer, error)
	ListCustomers(ctx context.Context, ownerID OwnerID, filter CustomerFilter) ([]Customer, error)

	// ListOwners returns every owner that has at least one customer.
	ListOwners(ctx context.Context) ([]OwnerID, error)

	// UpdateCustomer writes c if the stored version equals c.Version.
	UpdateCustomer(ctx context.Context, c Customer) error

	// DeleteCustomer removes the customer and all of its transactions.
	DeleteCustomer(ctx context.Context, ownerID OwnerID, id CustomerID) error

	InsertTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, ownerID OwnerID, id TransactionID) (Transaction, error)
	UpdateTransaction(ctx context.Context, tx Transaction) error
	DeleteTransaction(ctx context.Context, ownerID OwnerID, id TransactionID) error

	// ListTransactions returns every transaction of a customer in
	// chronological order.
	ListTransactions(ctx context.Context, customerID CustomerID) ([]Transaction, error)

	// QueryTransactions returns matching transactions in chronological order.
	QueryTransactions(ctx context.Context, q TransactionQuery) ([]Transaction, error)

	// CreateGroupShare stores an owner's group share. An owner has at most
	// one; a second one, or a reused token, returns ErrConcurrencyConflict.
	CreateGroupShare(ctx context.Context, g GroupShare) error
	GetGroupShare(ctx context.Context, ownerID OwnerID) (GroupShare, error)
	GetGroupShareByToken(ctx context.Context, token string) (GroupShare, error)
}

// TxStore wraps Store with transaction support.
// If fn returns an error every write made through the passed Store is
// rolled back; otherwise all of them are committed.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// FILTER HELPERS - shared by stores that filter in memory
// =============================================================================

// FilterCustomers applies filter to customers and returns the sorted result.
func FilterCustomers(customers []Customer, filter CustomerFilter) []Customer {
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	out := make([]Customer, 0, len(customers))
	for _, c := range customers {
		if search != "" && !strings.Contains(strings.ToLower(c.Name), search) {
			continue
		}
		switch filter.Balance {
		case BalancePositive:
			if !c.Balance.IsPositive() {
				continue
			}
		case BalanceNegative:
			if !c.Balance.IsNegative() {
				continue
			}
		case BalanceSettled:
			if !c.Balance.IsZero() {
				continue
			}
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch filter.Sort {
		case SortName:
			if a.Name != b.Name {
				return a.Name < b.Name
			}
		case SortBalanceHigh:
			if !a.Balance.Equal(b.Balance) {
				return a.Balance.GreaterThan(b.Balance)
			}
		case SortBalanceLow:
			if !a.Balance.Equal(b.Balance) {
				return a.Balance.LessThan(b.Balance)
			}
		case SortRecent:
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.After(b.UpdatedAt)
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	})
	return out
}

// ValidBalanceFilter reports whether f is a known filter.
func ValidBalanceFilter(f BalanceFilter) bool {
	switch f {
	case BalanceAny, BalancePositive, BalanceNegative, BalanceSettled:
		return true
	}
	return false
}

// ValidCustomerSort reports whether s is a known sort order.
func ValidCustomerSort(s CustomerSort) bool {
	switch s {
	case SortNewest, SortName, SortBalanceHigh, SortBalanceLow, SortRecent:
		return true
	}
	return false
}
