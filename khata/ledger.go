/*
ledger.go - Balance recalculation engine

PURPOSE:
  Keeps a customer's Balance and every Transaction.BalanceAfter consistent
  while transactions are inserted, edited or deleted in any chronological
  order.

CRITICAL INVARIANT:
  For a customer's transactions sorted by OrderKey (date, createdAt, id):

    BalanceAfter[i] = BalanceAfter[i-1] + SignedDelta(tx[i])
    BalanceAfter[-1] = 0
    Customer.Balance = BalanceAfter[last]  (0 when empty)

MUTATIONS:
  Insert: anchor on the new transaction's predecessor, then re-walk every
          later transaction. In the common append case nothing is later
          and the new balance is simply balance + delta.
  Delete: reverse the effect, anchor on the last strict predecessor of the
          deleted transaction, re-walk everything strictly after it.
  Edit:   reverse old effect, apply new fields and effect, re-walk the whole
          sequence from zero. A date change can move the transaction, so a
          walk anchored on the old position would be wrong.
  Rebuild: re-walk from zero with no mutation.

  Delete's partial walk is safe only because deleting never moves another
  transaction. Do not merge it with Edit's full walk without re-deriving
  that argument.

ATOMICITY & CONCURRENCY:
  Each mutation is one TxStore.WithTx call. Inside it the BalanceAfter
  rewrites are written first and the customer balance last. Mutations on
  the same customer are serialized by a keyed mutex; the customer Version
  check in the store catches writers in other processes.

SELF-HEALING:
  When the walked balance disagrees with the incrementally computed one,
  the walked value wins and the drift is logged.

SEE ALSO:
  - order.go: OrderKey
  - allocate.go: shared expenses built on Insert
*/
package khata

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smartkhata/khata-engine/logging"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is the only component allowed to mutate balances.
type Ledger struct {
	store     TxStore
	locks     *keyedMutex
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPublisher sets the event publisher. Defaults to NopPublisher.
func WithPublisher(p EventPublisher) Option {
	return func(l *Ledger) {
		if p != nil {
			l.publisher = p
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the clock used for CreatedAt and default dates.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

func NewLedger(store TxStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		locks:     newKeyedMutex(),
		publisher: NopPublisher{},
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store exposes the underlying store for read-only collaborators.
func (l *Ledger) Store() TxStore { return l.store }

// =============================================================================
// INPUTS
// =============================================================================

// NewTransaction is the input of Insert. A zero Date means "now".
type NewTransaction struct {
	Type        TxType
	Amount      decimal.Decimal
	Date        time.Time
	Description string
}

// TransactionPatch is the input of Edit. Nil fields keep their value.
type TransactionPatch struct {
	Type        *TxType
	Amount      *decimal.Decimal
	Description *string
	Date        *time.Time
}

// =============================================================================
// INSERT
// =============================================================================

// Insert records a new transaction for a customer of ownerID.
func (l *Ledger) Insert(ctx context.Context, ownerID OwnerID, customerID CustomerID, in NewTransaction) (Transaction, error) {
	if !in.Type.Valid() {
		return Transaction{}, &ValidationError{Field: "type", Message: "must be GIVEN or RECEIVED"}
	}
	amount, err := ValidateAmount(in.Amount)
	if err != nil {
		return Transaction{}, err
	}

	now := l.now()
	date := in.Date
	if date.IsZero() {
		date = now
	}
	tx := Transaction{
		ID:          TransactionID(l.newID()),
		CustomerID:  customerID,
		OwnerID:     ownerID,
		Type:        in.Type,
		Amount:      amount,
		Description: strings.TrimSpace(in.Description),
		Date:        date.UTC(),
		CreatedAt:   now,
	}

	var balance decimal.Decimal
	err = l.mutate(ctx, "insert transaction", customerID, func(s Store) error {
		c, err := s.GetCustomer(ctx, ownerID, customerID)
		if err != nil {
			return err
		}
		history, err := l.history(ctx, s, customerID)
		if err != nil {
			return err
		}

		pos := sort.Search(len(history), func(i int) bool {
			return history[i].Key().After(tx.Key())
		})
		expected := c.Balance.Add(tx.SignedDelta())
		running := openingBalance(history[:pos]).Add(tx.SignedDelta())
		tx.BalanceAfter = running
		if err := s.InsertTransaction(ctx, tx); err != nil {
			return err
		}

		if later := history[pos:]; len(later) > 0 {
			l.log(ctx).DebugContext(ctx, "backdated insert, re-walking later transactions",
				"customer_id", customerID, "transaction_id", tx.ID, "later", len(later))
		}
		running, err = l.rewalk(ctx, s, history[pos:], running)
		if err != nil {
			return err
		}

		l.checkDrift(ctx, c.ID, expected, running)
		c.Balance = running
		c.UpdatedAt = now
		if err := saveCustomer(ctx, s, &c); err != nil {
			return err
		}
		balance = c.Balance
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}

	l.publish(ctx, Event{
		Type:          EventTransactionCreated,
		OwnerID:       ownerID,
		CustomerID:    customerID,
		TransactionID: tx.ID,
		Amount:        tx.SignedDelta(),
		Balance:       balance,
	})
	return tx, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete removes a transaction and returns the customer's new balance.
func (l *Ledger) Delete(ctx context.Context, ownerID OwnerID, id TransactionID) (decimal.Decimal, error) {
	target, err := l.store.GetTransaction(ctx, ownerID, id)
	if err != nil {
		return decimal.Zero, WrapStoreError("get transaction", err)
	}

	var (
		deleted    Transaction
		newBalance decimal.Decimal
	)
	err = l.mutate(ctx, "delete transaction", target.CustomerID, func(s Store) error {
		// Re-read under the lock: it may have been deleted meanwhile.
		tx, err := s.GetTransaction(ctx, ownerID, id)
		if err != nil {
			return err
		}
		c, err := s.GetCustomer(ctx, ownerID, tx.CustomerID)
		if err != nil {
			return err
		}
		reversed := c.Balance.Sub(tx.SignedDelta())

		history, err := l.history(ctx, s, tx.CustomerID)
		if err != nil {
			return err
		}
		var before, after []Transaction
		for _, h := range history {
			switch {
			case h.ID == tx.ID:
			case h.Key().Before(tx.Key()):
				before = append(before, h)
			default:
				after = append(after, h)
			}
		}

		running, err := l.rewalk(ctx, s, after, openingBalance(before))
		if err != nil {
			return err
		}
		if err := s.DeleteTransaction(ctx, ownerID, tx.ID); err != nil {
			return err
		}

		l.checkDrift(ctx, c.ID, reversed, running)
		c.Balance = running
		c.UpdatedAt = l.now()
		if err := saveCustomer(ctx, s, &c); err != nil {
			return err
		}
		deleted = tx
		newBalance = running
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	l.publish(ctx, Event{
		Type:          EventTransactionDeleted,
		OwnerID:       ownerID,
		CustomerID:    deleted.CustomerID,
		TransactionID: deleted.ID,
		Amount:        deleted.SignedDelta().Neg(),
		Balance:       newBalance,
	})
	return newBalance, nil
}

// =============================================================================
// EDIT
// =============================================================================

// Edit changes type, amount, description and/or date of a transaction.
func (l *Ledger) Edit(ctx context.Context, ownerID OwnerID, id TransactionID, patch TransactionPatch) (Transaction, error) {
	if patch.Type != nil && !patch.Type.Valid() {
		return Transaction{}, &ValidationError{Field: "type", Message: "must be GIVEN or RECEIVED"}
	}
	var amount decimal.Decimal
	if patch.Amount != nil {
		a, err := ValidateAmount(*patch.Amount)
		if err != nil {
			return Transaction{}, err
		}
		amount = a
	}
	if patch.Date != nil && patch.Date.IsZero() {
		return Transaction{}, &ValidationError{Field: "date", Message: "must be a valid date"}
	}

	target, err := l.store.GetTransaction(ctx, ownerID, id)
	if err != nil {
		return Transaction{}, WrapStoreError("get transaction", err)
	}

	var (
		edited  Transaction
		balance decimal.Decimal
	)
	err = l.mutate(ctx, "edit transaction", target.CustomerID, func(s Store) error {
		tx, err := s.GetTransaction(ctx, ownerID, id)
		if err != nil {
			return err
		}
		c, err := s.GetCustomer(ctx, ownerID, tx.CustomerID)
		if err != nil {
			return err
		}

		updated := tx
		if patch.Type != nil {
			updated.Type = *patch.Type
		}
		if patch.Amount != nil {
			updated.Amount = amount
		}
		if patch.Description != nil {
			updated.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.Date != nil {
			updated.Date = patch.Date.UTC()
		}
		expected := c.Balance.Sub(tx.SignedDelta()).Add(updated.SignedDelta())

		history, err := l.history(ctx, s, tx.CustomerID)
		if err != nil {
			return err
		}
		for i := range history {
			if history[i].ID == updated.ID {
				history[i] = updated
			}
		}
		SortChronological(history)

		running := decimal.Zero
		for i := range history {
			running = running.Add(history[i].SignedDelta())
			if history[i].ID == updated.ID {
				history[i].BalanceAfter = running
				updated = history[i]
				if err := s.UpdateTransaction(ctx, updated); err != nil {
					return err
				}
				continue
			}
			if history[i].BalanceAfter.Equal(running) {
				continue
			}
			history[i].BalanceAfter = running
			if err := s.UpdateTransaction(ctx, history[i]); err != nil {
				return err
			}
		}

		l.checkDrift(ctx, c.ID, expected, running)
		c.Balance = running
		c.UpdatedAt = l.now()
		if err := saveCustomer(ctx, s, &c); err != nil {
			return err
		}
		edited = updated
		balance = running
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}

	l.publish(ctx, Event{
		Type:          EventTransactionUpdated,
		OwnerID:       ownerID,
		CustomerID:    edited.CustomerID,
		TransactionID: edited.ID,
		Amount:        edited.SignedDelta(),
		Balance:       balance,
	})
	return edited, nil
}

// =============================================================================
// REBUILD
// =============================================================================

// Rebuild recomputes every BalanceAfter of a customer from zero and resets
// the customer balance to the result. The rebuilt event is only published
// when the balance changed.
func (l *Ledger) Rebuild(ctx context.Context, ownerID OwnerID, customerID CustomerID) (Customer, error) {
	var (
		rebuilt Customer
		changed bool
	)
	err := l.mutate(ctx, "rebuild customer", customerID, func(s Store) error {
		c, err := s.GetCustomer(ctx, ownerID, customerID)
		if err != nil {
			return err
		}
		history, err := l.history(ctx, s, customerID)
		if err != nil {
			return err
		}
		running, err := l.rewalk(ctx, s, history, decimal.Zero)
		if err != nil {
			return err
		}
		l.checkDrift(ctx, c.ID, c.Balance, running)
		changed = !c.Balance.Equal(running)
		c.Balance = running
		c.UpdatedAt = l.now()
		if err := saveCustomer(ctx, s, &c); err != nil {
			return err
		}
		rebuilt = c
		return nil
	})
	if err != nil {
		return Customer{}, err
	}
	if !changed {
		return rebuilt, nil
	}

	l.publish(ctx, Event{
		Type:       EventCustomerRebuilt,
		OwnerID:    ownerID,
		CustomerID: customerID,
		Balance:    rebuilt.Balance,
	})
	return rebuilt, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// mutate runs fn in one store transaction while holding the customer lock.
func (l *Ledger) mutate(ctx context.Context, op string, customerID CustomerID, fn func(Store) error) error {
	unlock := l.locks.Lock(customerID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return WrapStoreError(op, l.store.WithTx(ctx, fn))
}

// history loads a customer's transactions in chronological order.
func (l *Ledger) history(ctx context.Context, s Store, customerID CustomerID) ([]Transaction, error) {
	txs, err := s.ListTransactions(ctx, customerID)
	if err != nil {
		return nil, err
	}
	SortChronological(txs)
	return txs, nil
}

// rewalk applies txs in order starting from running, persisting every
// BalanceAfter that changes. It returns the final running balance.
func (l *Ledger) rewalk(ctx context.Context, s Store, txs []Transaction, running decimal.Decimal) (decimal.Decimal, error) {
	for _, tx := range txs {
		running = running.Add(tx.SignedDelta())
		if tx.BalanceAfter.Equal(running) {
			continue
		}
		tx.BalanceAfter = running
		if err := s.UpdateTransaction(ctx, tx); err != nil {
			return decimal.Zero, err
		}
	}
	return running, nil
}

// log prefers the request scoped logger carried by ctx so records keep its
// request and owner attributes.
func (l *Ledger) log(ctx context.Context) *slog.Logger {
	if logger, ok := logging.Lookup(ctx); ok {
		return logger.WithComponent(logging.ComponentLedger).Logger
	}
	return l.logger
}

func (l *Ledger) checkDrift(ctx context.Context, customerID CustomerID, expected, walked decimal.Decimal) {
	if expected.Equal(walked) {
		return
	}
	l.log(ctx).WarnContext(ctx, "customer balance drifted from its transactions, using recomputed value",
		"customer_id", customerID,
		"expected", expected.String(),
		"recomputed", walked.String())
}

func (l *Ledger) publish(ctx context.Context, e Event) {
	e.OccurredAt = l.now()
	if err := l.publisher.Publish(ctx, e); err != nil {
		l.log(ctx).WarnContext(ctx, "failed to publish ledger event",
			"type", e.Type, "customer_id", e.CustomerID, "error", err)
	}
}

// openingBalance is the running balance right after the last of prior.
func openingBalance(prior []Transaction) decimal.Decimal {
	if len(prior) == 0 {
		return decimal.Zero
	}
	return prior[len(prior)-1].BalanceAfter
}

// saveCustomer writes c and advances its in-memory version to match.
func saveCustomer(ctx context.Context, s Store, c *Customer) error {
	if err := s.UpdateCustomer(ctx, *c); err != nil {
		return err
	}
	c.Version++
	return nil
}
