/*
projection.go - Read-only views over the ledger

PURPOSE:
  Summaries consumed by the API, reports and share links. Nothing here
  mutates state; every figure is a sum over already-consistent records.

VIEWS:
  CustomerSummary: one customer's (filtered) transactions and totals
  PublicSummary:   the same, resolved by share token without owner check
  GroupSummary:    every customer of the owner behind a group share token
  GroupCustomerSummary: one statement, only if the customer is in that group
  OwnerDashboard:  receivable / payable totals over all customers
  MonthlySummary:  given / received totals for a calendar month

NAMING NOTE:
  OwnerDashboard.NetBalance is TotalToReceive + TotalToPay, i.e. the gross
  amount outstanding in both directions, not a net figure. Clients already
  depend on that value; it is kept as is.
*/
package khata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SummaryFilter narrows CustomerSummary. Zero values mean unbounded.
// To is inclusive of its whole calendar day (UTC).
type SummaryFilter struct {
	From time.Time
	To   time.Time
	Type TxType
}

type CustomerSummary struct {
	Customer      Customer
	Transactions  []Transaction // newest first
	TotalGiven    decimal.Decimal
	TotalReceived decimal.Decimal
	Balance       decimal.Decimal // current, not filtered
}

type OwnerDashboard struct {
	TotalCustomers int
	TotalToReceive decimal.Decimal
	TotalToPay     decimal.Decimal
	NetBalance     decimal.Decimal
}

// GroupSummary is what a group share link shows: every customer of one
// owner with its balance.
type GroupSummary struct {
	OwnerID        OwnerID
	TotalCustomers int
	TotalOwed      decimal.Decimal // positive balances: customers owe the owner
	TotalOwing     decimal.Decimal // negative balances, as a positive figure
	Customers      []Customer      // by name
}

type MonthlySummary struct {
	Year              int
	Month             time.Month
	TotalTransactions int
	TotalGiven        decimal.Decimal
	TotalReceived     decimal.Decimal
	Net               decimal.Decimal // received - given
	Transactions      []Transaction   // chronological
}

// =============================================================================
// PROJECTOR
// =============================================================================

type Projector struct {
	Store Store
}

func NewProjector(store Store) *Projector {
	return &Projector{Store: store}
}

// CustomerSummary returns one customer's view for its owner.
func (p *Projector) CustomerSummary(ctx context.Context, ownerID OwnerID, customerID CustomerID, filter SummaryFilter) (CustomerSummary, error) {
	c, err := p.Store.GetCustomer(ctx, ownerID, customerID)
	if err != nil {
		return CustomerSummary{}, WrapStoreError("get customer", err)
	}
	return p.summarize(ctx, c, filter)
}

// PublicSummary returns the customer view behind a share token.
func (p *Projector) PublicSummary(ctx context.Context, shareToken string, filter SummaryFilter) (CustomerSummary, error) {
	if shareToken == "" {
		return CustomerSummary{}, &NotFoundError{Kind: "khata", ID: shareToken}
	}
	c, err := p.Store.GetCustomerByShareToken(ctx, shareToken)
	if err != nil {
		return CustomerSummary{}, WrapStoreError("get shared customer", err)
	}
	return p.summarize(ctx, c, filter)
}

// GroupSummary lists every customer of the owner behind groupToken.
func (p *Projector) GroupSummary(ctx context.Context, groupToken string) (GroupSummary, error) {
	g, err := p.groupShare(ctx, groupToken)
	if err != nil {
		return GroupSummary{}, err
	}
	customers, err := p.Store.ListCustomers(ctx, g.OwnerID, CustomerFilter{Sort: SortName})
	if err != nil {
		return GroupSummary{}, WrapStoreError("list customers", err)
	}
	if customers == nil {
		customers = []Customer{}
	}
	owed, owing := outstanding(customers)
	return GroupSummary{
		OwnerID:        g.OwnerID,
		TotalCustomers: len(customers),
		TotalOwed:      owed,
		TotalOwing:     owing,
		Customers:      customers,
	}, nil
}

// GroupCustomerSummary returns the statement behind shareToken, reached
// through a group link. A customer of another owner is not found.
func (p *Projector) GroupCustomerSummary(ctx context.Context, groupToken, shareToken string, filter SummaryFilter) (CustomerSummary, error) {
	g, err := p.groupShare(ctx, groupToken)
	if err != nil {
		return CustomerSummary{}, err
	}
	if shareToken == "" {
		return CustomerSummary{}, &NotFoundError{Kind: "khata", ID: shareToken}
	}
	c, err := p.Store.GetCustomerByShareToken(ctx, shareToken)
	if err != nil {
		return CustomerSummary{}, WrapStoreError("get shared customer", err)
	}
	if c.OwnerID != g.OwnerID {
		return CustomerSummary{}, &NotFoundError{Kind: "khata", ID: shareToken}
	}
	return p.summarize(ctx, c, filter)
}

func (p *Projector) groupShare(ctx context.Context, token string) (GroupShare, error) {
	if token == "" {
		return GroupShare{}, GroupShareNotFound(token)
	}
	g, err := p.Store.GetGroupShareByToken(ctx, token)
	if err != nil {
		return GroupShare{}, WrapStoreError("get group share", err)
	}
	return g, nil
}

func (p *Projector) summarize(ctx context.Context, c Customer, filter SummaryFilter) (CustomerSummary, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return CustomerSummary{}, &ValidationError{Field: "type", Message: "must be GIVEN or RECEIVED"}
	}
	q := TransactionQuery{
		OwnerID:    c.OwnerID,
		CustomerID: c.ID,
		From:       filter.From,
		Type:       filter.Type,
	}
	if !filter.To.IsZero() {
		q.To = startOfDay(filter.To).AddDate(0, 0, 1)
	}

	txs, err := p.Store.QueryTransactions(ctx, q)
	if err != nil {
		return CustomerSummary{}, WrapStoreError("query transactions", err)
	}
	given, received := totals(txs)
	SortNewestFirst(txs)
	if txs == nil {
		txs = []Transaction{}
	}

	return CustomerSummary{
		Customer:      c,
		Transactions:  txs,
		TotalGiven:    given,
		TotalReceived: received,
		Balance:       c.Balance,
	}, nil
}

// OwnerDashboard sums outstanding balances over every customer of ownerID.
func (p *Projector) OwnerDashboard(ctx context.Context, ownerID OwnerID) (OwnerDashboard, error) {
	customers, err := p.Store.ListCustomers(ctx, ownerID, CustomerFilter{})
	if err != nil {
		return OwnerDashboard{}, WrapStoreError("list customers", err)
	}

	d := OwnerDashboard{TotalCustomers: len(customers)}
	d.TotalToReceive, d.TotalToPay = outstanding(customers)
	d.NetBalance = d.TotalToReceive.Add(d.TotalToPay)
	return d, nil
}

// outstanding splits customer balances into what is owed to the owner and
// what the owner owes, both non-negative.
func outstanding(customers []Customer) (receive, pay decimal.Decimal) {
	receive, pay = decimal.Zero, decimal.Zero
	for _, c := range customers {
		switch {
		case c.Balance.IsPositive():
			receive = receive.Add(c.Balance)
		case c.Balance.IsNegative():
			pay = pay.Add(c.Balance.Abs())
		}
	}
	return receive, pay
}

// MonthlySummary sums the owner's transactions dated within year/month (UTC).
func (p *Projector) MonthlySummary(ctx context.Context, ownerID OwnerID, year int, month time.Month) (MonthlySummary, error) {
	if month < time.January || month > time.December {
		return MonthlySummary{}, &ValidationError{Field: "month", Message: "must be between 1 and 12"}
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	txs, err := p.Store.QueryTransactions(ctx, TransactionQuery{
		OwnerID: ownerID,
		From:    from,
		To:      from.AddDate(0, 1, 0),
	})
	if err != nil {
		return MonthlySummary{}, WrapStoreError("query transactions", err)
	}
	SortChronological(txs)
	if txs == nil {
		txs = []Transaction{}
	}

	given, received := totals(txs)
	return MonthlySummary{
		Year:              year,
		Month:             month,
		TotalTransactions: len(txs),
		TotalGiven:        given,
		TotalReceived:     received,
		Net:               received.Sub(given),
		Transactions:      txs,
	}, nil
}

func totals(txs []Transaction) (given, received decimal.Decimal) {
	given, received = decimal.Zero, decimal.Zero
	for _, tx := range txs {
		switch tx.Type {
		case TxGiven:
			given = given.Add(tx.Amount)
		case TxReceived:
			received = received.Add(tx.Amount)
		}
	}
	return given, received
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
