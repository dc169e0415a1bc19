// Package store provides an in-memory khata.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/smartkhata/khata-engine/khata"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every record in maps guarded by one mutex. WithTx holds the
// mutex for the whole callback, so transactions are fully serialized.
type Memory struct {
	mu    sync.Mutex
	state memoryState
}

type memoryState struct {
	customers    map[khata.CustomerID]khata.Customer
	transactions map[khata.TransactionID]khata.Transaction
	groups       map[khata.OwnerID]khata.GroupShare
}

var (
	_ khata.TxStore = (*Memory)(nil)
	_ khata.Store   = (*memoryView)(nil)
)

func NewMemory() *Memory {
	return &Memory{state: memoryState{
		customers:    make(map[khata.CustomerID]khata.Customer),
		transactions: make(map[khata.TransactionID]khata.Transaction),
		groups:       make(map[khata.OwnerID]khata.GroupShare),
	}}
}

// WithTx executes fn within a transaction.
// Simulated with a snapshot of the maps and a restore on error.
func (m *Memory) WithTx(ctx context.Context, fn func(khata.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&memoryView{state: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		customers:    make(map[khata.CustomerID]khata.Customer, len(s.customers)),
		transactions: make(map[khata.TransactionID]khata.Transaction, len(s.transactions)),
		groups:       make(map[khata.OwnerID]khata.GroupShare, len(s.groups)),
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.groups {
		c.groups[k] = v
	}
	return c
}

// Each public method takes the lock and delegates to the unlocked view.

func (m *Memory) view() *memoryView { return &memoryView{state: &m.state} }

func (m *Memory) CreateCustomer(ctx context.Context, c khata.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().CreateCustomer(ctx, c)
}

func (m *Memory) GetCustomer(ctx context.Context, ownerID khata.OwnerID, id khata.CustomerID) (khata.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetCustomer(ctx, ownerID, id)
}

func (m *Memory) GetCustomerByShareToken(ctx context.Context, token string) (khata.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetCustomerByShareToken(ctx, token)
}

func (m *Memory) ListCustomers(ctx context.Context, ownerID khata.OwnerID, filter khata.CustomerFilter) ([]khata.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().ListCustomers(ctx, ownerID, filter)
}

func (m *Memory) ListOwners(ctx context.Context) ([]khata.OwnerID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().ListOwners(ctx)
}

func (m *Memory) UpdateCustomer(ctx context.Context, c khata.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdateCustomer(ctx, c)
}

func (m *Memory) DeleteCustomer(ctx context.Context, ownerID khata.OwnerID, id khata.CustomerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().DeleteCustomer(ctx, ownerID, id)
}

func (m *Memory) InsertTransaction(ctx context.Context, tx khata.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().InsertTransaction(ctx, tx)
}

func (m *Memory) GetTransaction(ctx context.Context, ownerID khata.OwnerID, id khata.TransactionID) (khata.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetTransaction(ctx, ownerID, id)
}

func (m *Memory) UpdateTransaction(ctx context.Context, tx khata.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdateTransaction(ctx, tx)
}

func (m *Memory) DeleteTransaction(ctx context.Context, ownerID khata.OwnerID, id khata.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().DeleteTransaction(ctx, ownerID, id)
}

func (m *Memory) ListTransactions(ctx context.Context, customerID khata.CustomerID) ([]khata.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().ListTransactions(ctx, customerID)
}

func (m *Memory) QueryTransactions(ctx context.Context, q khata.TransactionQuery) ([]khata.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().QueryTransactions(ctx, q)
}

func (m *Memory) CreateGroupShare(ctx context.Context, g khata.GroupShare) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().CreateGroupShare(ctx, g)
}

func (m *Memory) GetGroupShare(ctx context.Context, ownerID khata.OwnerID) (khata.GroupShare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetGroupShare(ctx, ownerID)
}

func (m *Memory) GetGroupShareByToken(ctx context.Context, token string) (khata.GroupShare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetGroupShareByToken(ctx, token)
}

// =============================================================================
// MEMORY VIEW - unlocked operations, shared by Memory and WithTx
// =============================================================================

type memoryView struct {
	state *memoryState
}

func (v *memoryView) CreateCustomer(_ context.Context, c khata.Customer) error {
	if _, ok := v.state.customers[c.ID]; ok {
		return fmt.Errorf("customer %q already exists", c.ID)
	}
	v.state.customers[c.ID] = c
	return nil
}

func (v *memoryView) GetCustomer(_ context.Context, ownerID khata.OwnerID, id khata.CustomerID) (khata.Customer, error) {
	c, ok := v.state.customers[id]
	if !ok || c.OwnerID != ownerID {
		return khata.Customer{}, khata.CustomerNotFound(id)
	}
	return c, nil
}

func (v *memoryView) GetCustomerByShareToken(_ context.Context, token string) (khata.Customer, error) {
	for _, c := range v.state.customers {
		if c.ShareToken != "" && c.ShareToken == token {
			return c, nil
		}
	}
	return khata.Customer{}, &khata.NotFoundError{Kind: "khata", ID: token}
}

func (v *memoryView) ListCustomers(_ context.Context, ownerID khata.OwnerID, filter khata.CustomerFilter) ([]khata.Customer, error) {
	var owned []khata.Customer
	for _, c := range v.state.customers {
		if c.OwnerID == ownerID {
			owned = append(owned, c)
		}
	}
	return khata.FilterCustomers(owned, filter), nil
}

func (v *memoryView) ListOwners(_ context.Context) ([]khata.OwnerID, error) {
	seen := make(map[khata.OwnerID]bool)
	var owners []khata.OwnerID
	for _, c := range v.state.customers {
		if !seen[c.OwnerID] {
			seen[c.OwnerID] = true
			owners = append(owners, c.OwnerID)
		}
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners, nil
}

func (v *memoryView) UpdateCustomer(_ context.Context, c khata.Customer) error {
	stored, ok := v.state.customers[c.ID]
	if !ok || stored.OwnerID != c.OwnerID {
		return khata.CustomerNotFound(c.ID)
	}
	if stored.Version != c.Version {
		return khata.ErrConcurrencyConflict
	}
	c.Version++
	v.state.customers[c.ID] = c
	return nil
}

func (v *memoryView) DeleteCustomer(_ context.Context, ownerID khata.OwnerID, id khata.CustomerID) error {
	c, ok := v.state.customers[id]
	if !ok || c.OwnerID != ownerID {
		return khata.CustomerNotFound(id)
	}
	for txID, tx := range v.state.transactions {
		if tx.CustomerID == id {
			delete(v.state.transactions, txID)
		}
	}
	delete(v.state.customers, id)
	return nil
}

func (v *memoryView) InsertTransaction(_ context.Context, tx khata.Transaction) error {
	if _, ok := v.state.transactions[tx.ID]; ok {
		return fmt.Errorf("transaction %q already exists", tx.ID)
	}
	if _, ok := v.state.customers[tx.CustomerID]; !ok {
		return khata.CustomerNotFound(tx.CustomerID)
	}
	v.state.transactions[tx.ID] = tx
	return nil
}

func (v *memoryView) GetTransaction(_ context.Context, ownerID khata.OwnerID, id khata.TransactionID) (khata.Transaction, error) {
	tx, ok := v.state.transactions[id]
	if !ok || tx.OwnerID != ownerID {
		return khata.Transaction{}, khata.TransactionNotFound(id)
	}
	return tx, nil
}

func (v *memoryView) UpdateTransaction(_ context.Context, tx khata.Transaction) error {
	stored, ok := v.state.transactions[tx.ID]
	if !ok || stored.OwnerID != tx.OwnerID {
		return khata.TransactionNotFound(tx.ID)
	}
	v.state.transactions[tx.ID] = tx
	return nil
}

func (v *memoryView) DeleteTransaction(_ context.Context, ownerID khata.OwnerID, id khata.TransactionID) error {
	tx, ok := v.state.transactions[id]
	if !ok || tx.OwnerID != ownerID {
		return khata.TransactionNotFound(id)
	}
	delete(v.state.transactions, id)
	return nil
}

func (v *memoryView) ListTransactions(_ context.Context, customerID khata.CustomerID) ([]khata.Transaction, error) {
	var result []khata.Transaction
	for _, tx := range v.state.transactions {
		if tx.CustomerID == customerID {
			result = append(result, tx)
		}
	}
	khata.SortChronological(result)
	return result, nil
}

func (v *memoryView) QueryTransactions(_ context.Context, q khata.TransactionQuery) ([]khata.Transaction, error) {
	var result []khata.Transaction
	for _, tx := range v.state.transactions {
		if q.Matches(tx) {
			result = append(result, tx)
		}
	}
	khata.SortChronological(result)
	return result, nil
}

func (v *memoryView) CreateGroupShare(_ context.Context, g khata.GroupShare) error {
	if _, ok := v.state.groups[g.OwnerID]; ok {
		return khata.ErrConcurrencyConflict
	}
	for _, existing := range v.state.groups {
		if existing.Token == g.Token {
			return khata.ErrConcurrencyConflict
		}
	}
	v.state.groups[g.OwnerID] = g
	return nil
}

func (v *memoryView) GetGroupShare(_ context.Context, ownerID khata.OwnerID) (khata.GroupShare, error) {
	g, ok := v.state.groups[ownerID]
	if !ok {
		return khata.GroupShare{}, khata.GroupShareNotFound(string(ownerID))
	}
	return g, nil
}

func (v *memoryView) GetGroupShareByToken(_ context.Context, token string) (khata.GroupShare, error) {
	for _, g := range v.state.groups {
		if token != "" && g.Token == token {
			return g, nil
		}
	}
	return khata.GroupShare{}, khata.GroupShareNotFound(token)
}
