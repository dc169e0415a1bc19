/*
allocate.go - Shared expense allocator

PURPOSE:
  Splits one amount equally between a set of customers (and, usually, the
  owner) and posts each customer's share as a GIVEN transaction.

ALGORITHM:
  participants = selected customers of the owner, or all of them
  totalMembers = len(participants) + 1 if the owner shares
  perPerson    = round(amount / totalMembers, 2, half-up)

  perPerson * totalMembers may differ from amount by up to
  totalMembers * 0.005. The residual is not reconciled.

FAILURE MODEL:
  Each share is an independent Ledger.Insert, serialized per customer by
  the Ledger. There is no atomicity across customers: when one insert
  fails the remaining ones are cancelled, the shares already posted stay
  posted, and a PartialAllocationError lists both.

SEE ALSO:
  - ledger.go: Insert
*/
package khata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultAllocationConcurrency bounds parallel inserts of one allocation.
const DefaultAllocationConcurrency = 4

// SharedExpense is the input of Allocate.
type SharedExpense struct {
	Amount      decimal.Decimal
	Description string

	// CustomerIDs restricts the split to these customers. Empty = all.
	CustomerIDs []CustomerID

	// IncludeOwner counts the owner as one member. Use NewSharedExpense to
	// get the default of true.
	IncludeOwner bool
}

// NewSharedExpense returns a SharedExpense that includes the owner.
func NewSharedExpense(amount decimal.Decimal, description string, customerIDs ...CustomerID) SharedExpense {
	return SharedExpense{
		Amount:       amount,
		Description:  description,
		CustomerIDs:  customerIDs,
		IncludeOwner: true,
	}
}

// Posting is one customer's share after it was written to the ledger.
type Posting struct {
	CustomerID   CustomerID
	CustomerName string
	Transaction  Transaction
	NewBalance   decimal.Decimal
}

// Allocation is the result of Allocate.
type Allocation struct {
	TotalAmount  decimal.Decimal
	TotalMembers int
	PerPerson    decimal.Decimal
	Description  string
	OwnerShare   decimal.Decimal // zero when the owner is excluded
	Postings     []Posting
}

// PartialAllocationError reports an allocation that stopped part way.
type PartialAllocationError struct {
	Posted     int
	Total      int
	CustomerID CustomerID // the customer whose insert failed
	Err        error
}

func (e *PartialAllocationError) Error() string {
	return fmt.Sprintf("shared expense posted to %d of %d customers, failed at %s: %v",
		e.Posted, e.Total, e.CustomerID, e.Err)
}

func (e *PartialAllocationError) Unwrap() error { return e.Err }

// =============================================================================
// ALLOCATOR
// =============================================================================

type Allocator struct {
	ledger      *Ledger
	concurrency int
}

// NewAllocator returns an allocator posting through ledger. A concurrency
// below 1 falls back to DefaultAllocationConcurrency.
func NewAllocator(ledger *Ledger, concurrency int) *Allocator {
	if concurrency < 1 {
		concurrency = DefaultAllocationConcurrency
	}
	return &Allocator{ledger: ledger, concurrency: concurrency}
}

// Allocate splits in.Amount and posts a GIVEN share to every participant.
//
// On partial failure the returned Allocation holds only the postings that
// were written, and the error is a *PartialAllocationError.
func (a *Allocator) Allocate(ctx context.Context, ownerID OwnerID, in SharedExpense) (Allocation, error) {
	amount, err := ValidateAmount(in.Amount)
	if err != nil {
		return Allocation{}, err
	}

	participants, err := a.participants(ctx, ownerID, in.CustomerIDs)
	if err != nil {
		return Allocation{}, err
	}
	if len(participants) == 0 {
		return Allocation{}, &ValidationError{Field: "customers", Message: "no customers to share with, add customers first"}
	}

	totalMembers := len(participants)
	if in.IncludeOwner {
		totalMembers++
	}
	if totalMembers == 0 {
		return Allocation{}, &ValidationError{Field: "customers", Message: "shared expense needs at least one member"}
	}

	perPerson := SplitEvenly(amount, totalMembers)
	if !perPerson.IsPositive() {
		return Allocation{}, &ValidationError{Field: "amount", Message: "too small to split between members"}
	}

	result := Allocation{
		TotalAmount:  amount,
		TotalMembers: totalMembers,
		PerPerson:    perPerson,
		Description:  SharedExpenseDescription(in.Description, totalMembers),
	}
	if in.IncludeOwner {
		result.OwnerShare = perPerson
	}

	now := a.ledger.now()
	postings := make([]*Posting, len(participants))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	var (
		failedAt CustomerID
		firstErr error
	)
	failures := make([]error, len(participants))
	for i, c := range participants {
		i, c := i, c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tx, err := a.ledger.Insert(gctx, ownerID, c.ID, NewTransaction{
				Type:        TxGiven,
				Amount:      perPerson,
				Date:        now,
				Description: result.Description,
			})
			if err != nil {
				failures[i] = err
				return err
			}
			postings[i] = &Posting{
				CustomerID:   c.ID,
				CustomerName: c.Name,
				Transaction:  tx,
				NewBalance:   tx.BalanceAfter,
			}
			return nil
		})
	}
	waitErr := g.Wait()

	for i, p := range postings {
		if p != nil {
			result.Postings = append(result.Postings, *p)
			continue
		}
		// Prefer the real failure over the cancellations it caused.
		if failures[i] != nil && (firstErr == nil || errors.Is(firstErr, context.Canceled)) {
			failedAt, firstErr = participants[i].ID, failures[i]
		}
	}

	if waitErr != nil {
		if firstErr == nil {
			firstErr = waitErr
		}
		a.ledger.log(ctx).WarnContext(ctx, "shared expense partially posted",
			"owner_id", ownerID,
			"posted", len(result.Postings),
			"total", len(participants),
			"error", firstErr)
		return result, &PartialAllocationError{
			Posted:     len(result.Postings),
			Total:      len(participants),
			CustomerID: failedAt,
			Err:        firstErr,
		}
	}

	a.ledger.publish(ctx, Event{
		Type:    EventSharedExpense,
		OwnerID: ownerID,
		Amount:  amount,
	})
	return result, nil
}

// participants resolves the customers taking part, in (CreatedAt, ID) order.
func (a *Allocator) participants(ctx context.Context, ownerID OwnerID, selected []CustomerID) ([]Customer, error) {
	all, err := a.ledger.store.ListCustomers(ctx, ownerID, CustomerFilter{})
	if err != nil {
		return nil, WrapStoreError("list customers", err)
	}

	if len(selected) > 0 {
		want := make(map[CustomerID]bool, len(selected))
		for _, id := range selected {
			want[id] = true
		}
		kept := all[:0]
		for _, c := range all {
			if want[c.ID] {
				kept = append(kept, c)
			}
		}
		all = kept
	}

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	return all, nil
}

// SplitEvenly divides amount by members, rounding each share half-up to
// MoneyPlaces.
func SplitEvenly(amount decimal.Decimal, members int) decimal.Decimal {
	if members <= 0 {
		return decimal.Zero
	}
	// Divide with headroom, then round once.
	share := amount.DivRound(decimal.NewFromInt(int64(members)), MoneyPlaces+8)
	return RoundMoney(share)
}

// SharedExpenseDescription is the description posted on every share.
func SharedExpenseDescription(description string, members int) string {
	description = strings.TrimSpace(description)
	if description == "" {
		return fmt.Sprintf("Shared expense (%d members)", members)
	}
	return fmt.Sprintf("Shared: %s (%d members)", description, members)
}
