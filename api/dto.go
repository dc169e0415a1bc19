/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the khata domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY AND DATES:
  Amounts are decimal.Decimal. Requests may send them as JSON numbers or
  strings; responses always carry fixed-scale strings ("150.00").
  Dates accept YYYY-MM-DD or RFC 3339.

VALIDATION:
  Validation is done by the ledger, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - khata/types.go: Domain types
*/
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartkhata/khata-engine/khata"
)

const dateLayout = "2006-01-02"

// =============================================================================
// CUSTOMERS
// =============================================================================

// CustomerDTO represents a customer in API responses.
type CustomerDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	Balance    string `json:"balance"`
	ShareToken string `json:"share_token"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// CustomerRequest is the body of create and update customer.
type CustomerRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

func (req CustomerRequest) input() khata.CustomerInput {
	return khata.CustomerInput{Name: req.Name, Phone: req.Phone, Address: req.Address}
}

func toCustomerDTO(c khata.Customer) CustomerDTO {
	return CustomerDTO{
		ID:         string(c.ID),
		Name:       c.Name,
		Phone:      c.Phone,
		Address:    c.Address,
		Balance:    money(c.Balance),
		ShareToken: c.ShareToken,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  c.UpdatedAt.Format(time.RFC3339),
	}
}

func toCustomerDTOs(customers []khata.Customer) []CustomerDTO {
	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	return dtos
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO represents a transaction in API responses.
type TransactionDTO struct {
	ID           string `json:"id"`
	CustomerID   string `json:"customer_id"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	Description  string `json:"description,omitempty"`
	Date         string `json:"date"`
	BalanceAfter string `json:"balance_after"`
	CreatedAt    string `json:"created_at"`
}

// CreateTransactionRequest is the body of POST /api/customers/{id}/transactions.
type CreateTransactionRequest struct {
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Date        string          `json:"date,omitempty"` // empty = now
}

// UpdateTransactionRequest is the body of PUT /api/transactions/{id}.
// Omitted fields keep their current value.
type UpdateTransactionRequest struct {
	Type        *string          `json:"type,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Description *string          `json:"description,omitempty"`
	Date        *string          `json:"date,omitempty"`
}

// DeleteTransactionResponse reports the customer balance after a delete.
type DeleteTransactionResponse struct {
	ID         string `json:"id"`
	NewBalance string `json:"new_balance"`
}

func (req CreateTransactionRequest) toNewTransaction() (khata.NewTransaction, error) {
	typ, err := khata.ParseTxType(strings.ToUpper(req.Type))
	if err != nil {
		return khata.NewTransaction{}, err
	}
	in := khata.NewTransaction{Type: typ, Amount: req.Amount, Description: req.Description}
	if req.Date != "" {
		if in.Date, err = parseDate("date", req.Date); err != nil {
			return khata.NewTransaction{}, err
		}
	}
	return in, nil
}

func (req UpdateTransactionRequest) toPatch() (khata.TransactionPatch, error) {
	patch := khata.TransactionPatch{Amount: req.Amount, Description: req.Description}
	if req.Type != nil {
		typ, err := khata.ParseTxType(strings.ToUpper(*req.Type))
		if err != nil {
			return khata.TransactionPatch{}, err
		}
		patch.Type = &typ
	}
	if req.Date != nil {
		date, err := parseDate("date", *req.Date)
		if err != nil {
			return khata.TransactionPatch{}, err
		}
		patch.Date = &date
	}
	return patch, nil
}

func toTransactionDTO(tx khata.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:           string(tx.ID),
		CustomerID:   string(tx.CustomerID),
		Type:         string(tx.Type),
		Amount:       money(tx.Amount),
		Description:  tx.Description,
		Date:         tx.Date.Format(time.RFC3339),
		BalanceAfter: money(tx.BalanceAfter),
		CreatedAt:    tx.CreatedAt.Format(time.RFC3339Nano),
	}
}

func toTransactionDTOs(txs []khata.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

// =============================================================================
// SHARED EXPENSE
// =============================================================================

// SharedExpenseRequest is the body of POST /api/transactions/shared-expense.
type SharedExpenseRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	CustomerIDs  []string        `json:"customer_ids"`
	IncludeOwner *bool           `json:"include_owner,omitempty"` // default true
}

func (req SharedExpenseRequest) toSharedExpense() khata.SharedExpense {
	ids := make([]khata.CustomerID, len(req.CustomerIDs))
	for i, id := range req.CustomerIDs {
		ids[i] = khata.CustomerID(id)
	}
	in := khata.NewSharedExpense(req.Amount, req.Description, ids...)
	if req.IncludeOwner != nil {
		in.IncludeOwner = *req.IncludeOwner
	}
	return in
}

// PostingDTO is one customer's share.
type PostingDTO struct {
	CustomerID   string         `json:"customer_id"`
	CustomerName string         `json:"customer_name"`
	Transaction  TransactionDTO `json:"transaction"`
	NewBalance   string         `json:"new_balance"`
}

// SharedExpenseResponse is the allocation result. Error is set when only
// part of the postings were written.
type SharedExpenseResponse struct {
	TotalAmount  string       `json:"total_amount"`
	TotalMembers int          `json:"total_members"`
	PerPerson    string       `json:"per_person"`
	OwnerShare   string       `json:"owner_share"`
	Description  string       `json:"description"`
	Postings     []PostingDTO `json:"postings"`
	Error        string       `json:"error,omitempty"`
}

func toSharedExpenseResponse(a khata.Allocation) SharedExpenseResponse {
	postings := make([]PostingDTO, len(a.Postings))
	for i, p := range a.Postings {
		postings[i] = PostingDTO{
			CustomerID:   string(p.CustomerID),
			CustomerName: p.CustomerName,
			Transaction:  toTransactionDTO(p.Transaction),
			NewBalance:   money(p.NewBalance),
		}
	}
	return SharedExpenseResponse{
		TotalAmount:  money(a.TotalAmount),
		TotalMembers: a.TotalMembers,
		PerPerson:    money(a.PerPerson),
		OwnerShare:   money(a.OwnerShare),
		Description:  a.Description,
		Postings:     postings,
	}
}

// =============================================================================
// SUMMARIES
// =============================================================================

// CustomerSummaryDTO is the customer statement.
type CustomerSummaryDTO struct {
	Customer      CustomerDTO      `json:"customer"`
	Transactions  []TransactionDTO `json:"transactions"`
	TotalGiven    string           `json:"total_given"`
	TotalReceived string           `json:"total_received"`
	Balance       string           `json:"balance"`
}

// PublicCustomerDTO is the part of a customer visible through a share link.
type PublicCustomerDTO struct {
	Name        string `json:"name"`
	Phone       string `json:"phone,omitempty"`
	Balance     string `json:"balance"`
	MemberSince string `json:"member_since"`
}

// PublicTransactionDTO omits every record id.
type PublicTransactionDTO struct {
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	Description  string `json:"description,omitempty"`
	Date         string `json:"date"`
	BalanceAfter string `json:"balance_after"`
}

// PublicSummaryDTO is the statement served to a share link holder.
type PublicSummaryDTO struct {
	Customer      PublicCustomerDTO      `json:"customer"`
	Transactions  []PublicTransactionDTO `json:"transactions"`
	TotalGiven    string                 `json:"total_given"`
	TotalReceived string                 `json:"total_received"`
	Balance       string                 `json:"balance"`
}

// GroupShareDTO is the owner's group share link token.
type GroupShareDTO struct {
	Token     string `json:"token"`
	CreatedAt string `json:"created_at"`
}

// PublicGroupMemberDTO is one customer as listed on a group share link.
// ShareToken opens that customer's statement within the group.
type PublicGroupMemberDTO struct {
	ShareToken string `json:"share_token"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Balance    string `json:"balance"`
}

// PublicGroupTotalsDTO sums a group's outstanding balances.
type PublicGroupTotalsDTO struct {
	TotalCustomers int    `json:"total_customers"`
	TotalOwed      string `json:"total_owed"`
	TotalOwing     string `json:"total_owing"`
}

// PublicGroupDTO is served to a group share link holder.
type PublicGroupDTO struct {
	Summary   PublicGroupTotalsDTO   `json:"summary"`
	Customers []PublicGroupMemberDTO `json:"customers"`
}

// DashboardDTO is the owner's headline numbers.
type DashboardDTO struct {
	TotalCustomers int    `json:"total_customers"`
	TotalToReceive string `json:"total_to_receive"`
	TotalToPay     string `json:"total_to_pay"`
	NetBalance     string `json:"net_balance"`
}

// MonthlySummaryDTO sums one calendar month.
type MonthlySummaryDTO struct {
	Year              int              `json:"year"`
	Month             int              `json:"month"`
	TotalTransactions int              `json:"total_transactions"`
	TotalGiven        string           `json:"total_given"`
	TotalReceived     string           `json:"total_received"`
	Net               string           `json:"net"`
	Transactions      []TransactionDTO `json:"transactions"`
}

func toCustomerSummaryDTO(s khata.CustomerSummary) CustomerSummaryDTO {
	return CustomerSummaryDTO{
		Customer:      toCustomerDTO(s.Customer),
		Transactions:  toTransactionDTOs(s.Transactions),
		TotalGiven:    money(s.TotalGiven),
		TotalReceived: money(s.TotalReceived),
		Balance:       money(s.Balance),
	}
}

func toPublicSummaryDTO(s khata.CustomerSummary) PublicSummaryDTO {
	txs := make([]PublicTransactionDTO, len(s.Transactions))
	for i, tx := range s.Transactions {
		txs[i] = PublicTransactionDTO{
			Type:         string(tx.Type),
			Amount:       money(tx.Amount),
			Description:  tx.Description,
			Date:         tx.Date.Format(time.RFC3339),
			BalanceAfter: money(tx.BalanceAfter),
		}
	}
	return PublicSummaryDTO{
		Customer: PublicCustomerDTO{
			Name:        s.Customer.Name,
			Phone:       s.Customer.Phone,
			Balance:     money(s.Customer.Balance),
			MemberSince: s.Customer.CreatedAt.Format(time.RFC3339),
		},
		Transactions:  txs,
		TotalGiven:    money(s.TotalGiven),
		TotalReceived: money(s.TotalReceived),
		Balance:       money(s.Balance),
	}
}

func toGroupShareDTO(g khata.GroupShare) GroupShareDTO {
	return GroupShareDTO{Token: g.Token, CreatedAt: g.CreatedAt.Format(time.RFC3339)}
}

func toPublicGroupDTO(g khata.GroupSummary) PublicGroupDTO {
	members := make([]PublicGroupMemberDTO, len(g.Customers))
	for i, c := range g.Customers {
		members[i] = PublicGroupMemberDTO{
			ShareToken: c.ShareToken,
			Name:       c.Name,
			Phone:      c.Phone,
			Balance:    money(c.Balance),
		}
	}
	return PublicGroupDTO{
		Summary: PublicGroupTotalsDTO{
			TotalCustomers: g.TotalCustomers,
			TotalOwed:      money(g.TotalOwed),
			TotalOwing:     money(g.TotalOwing),
		},
		Customers: members,
	}
}

func toDashboardDTO(d khata.OwnerDashboard) DashboardDTO {
	return DashboardDTO{
		TotalCustomers: d.TotalCustomers,
		TotalToReceive: money(d.TotalToReceive),
		TotalToPay:     money(d.TotalToPay),
		NetBalance:     money(d.NetBalance),
	}
}

func toMonthlySummaryDTO(m khata.MonthlySummary) MonthlySummaryDTO {
	return MonthlySummaryDTO{
		Year:              m.Year,
		Month:             int(m.Month),
		TotalTransactions: m.TotalTransactions,
		TotalGiven:        money(m.TotalGiven),
		TotalReceived:     money(m.TotalReceived),
		Net:               money(m.Net),
		Transactions:      toTransactionDTOs(m.Transactions),
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// HELPERS
// =============================================================================

// money renders d with a fixed scale, "150.00" rather than "150".
func money(d decimal.Decimal) string {
	return d.StringFixed(khata.MoneyPlaces)
}

// parseDate accepts YYYY-MM-DD (UTC midnight) or RFC 3339.
func parseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, &khata.ValidationError{
		Field:   field,
		Message: fmt.Sprintf("invalid date %q (use YYYY-MM-DD or RFC 3339)", s),
	}
}
