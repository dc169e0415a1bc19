package khata_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/smartkhata/khata-engine/khata"
	"github.com/smartkhata/khata-engine/khata/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const owner khata.OwnerID = "owner-1"

// testClock advances one second on every reading so CreatedAt is strictly
// increasing in insertion order.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%04d", n.Add(1)) }
}

type fixture struct {
	ctx    context.Context
	store  *store.Memory
	ledger *khata.Ledger
	events *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, store.NewMemory(), nil)
}

func newFixtureWithStore(t *testing.T, mem *store.Memory, wrap func(*store.Memory) khata.TxStore) *fixture {
	t.Helper()
	var txStore khata.TxStore = mem
	if wrap != nil {
		txStore = wrap(mem)
	}
	events := &recordingPublisher{}
	return &fixture{
		ctx:   context.Background(),
		store: mem,
		ledger: khata.NewLedger(txStore,
			khata.WithClock(newTestClock().Now),
			khata.WithIDGenerator(sequentialIDs()),
			khata.WithPublisher(events),
		),
		events: events,
	}
}

func (f *fixture) customer(t *testing.T, name string) khata.Customer {
	t.Helper()
	c, err := f.ledger.CreateCustomer(f.ctx, owner, khata.CustomerInput{Name: name})
	require.NoError(t, err)
	return c
}

func (f *fixture) insert(t *testing.T, c khata.Customer, typ khata.TxType, amount string, date time.Time) khata.Transaction {
	t.Helper()
	tx, err := f.ledger.Insert(f.ctx, owner, c.ID, khata.NewTransaction{
		Type:   typ,
		Amount: dec(amount),
		Date:   date,
	})
	require.NoError(t, err)
	return tx
}

func (f *fixture) balance(t *testing.T, c khata.Customer) decimal.Decimal {
	t.Helper()
	got, err := f.store.GetCustomer(f.ctx, owner, c.ID)
	require.NoError(t, err)
	return got.Balance
}

func (f *fixture) stored(t *testing.T, id khata.TransactionID) khata.Transaction {
	t.Helper()
	tx, err := f.store.GetTransaction(f.ctx, owner, id)
	require.NoError(t, err)
	return tx
}

// requireInvariant folds the customer's transactions from zero and checks
// every BalanceAfter and the customer balance against the fold.
func requireInvariant(t *testing.T, f *fixture, c khata.Customer) {
	t.Helper()
	txs, err := f.store.ListTransactions(f.ctx, c.ID)
	require.NoError(t, err)
	khata.SortChronological(txs)

	running := decimal.Zero
	for _, tx := range txs {
		running = running.Add(tx.SignedDelta())
		require.Truef(t, tx.BalanceAfter.Equal(running),
			"tx %s on %s: balanceAfter %s, want %s",
			tx.ID, tx.Date.Format("2006-01-02"), tx.BalanceAfter, running)
	}
	got := f.balance(t, c)
	require.Truef(t, got.Equal(running), "customer balance %s, want %s", got, running)
}

func day(n int) time.Time {
	return time.Date(2025, time.March, n, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

// =============================================================================
// TEST DOUBLES
// =============================================================================

type recordingPublisher struct {
	mu     sync.Mutex
	events []khata.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e khata.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Types() []khata.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]khata.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

var errDiskFull = errors.New("disk full")

// failingStore injects write failures inside WithTx.
type failingStore struct {
	*store.Memory
	failCustomerUpdate bool
	failInsertFor      khata.CustomerID
}

func (f *failingStore) WithTx(ctx context.Context, fn func(khata.Store) error) error {
	return f.Memory.WithTx(ctx, func(s khata.Store) error {
		return fn(&failingView{Store: s, parent: f})
	})
}

type failingView struct {
	khata.Store
	parent *failingStore
}

func (v *failingView) UpdateCustomer(ctx context.Context, c khata.Customer) error {
	if v.parent.failCustomerUpdate {
		return errDiskFull
	}
	return v.Store.UpdateCustomer(ctx, c)
}

func (v *failingView) InsertTransaction(ctx context.Context, tx khata.Transaction) error {
	if v.parent.failInsertFor != "" && tx.CustomerID == v.parent.failInsertFor {
		return errDiskFull
	}
	return v.Store.InsertTransaction(ctx, tx)
}
