/*
handlers.go - HTTP API handlers for the khata ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response and
  JSON serialization, and delegates to the khata package.

ENDPOINTS:
  Customers:
    GET    /api/customers                       List (search, filter, sort)
    POST   /api/customers                       Create
    GET    /api/customers/{id}                  Get
    PUT    /api/customers/{id}                  Update name/phone/address
    DELETE /api/customers/{id}                  Delete with its transactions
    GET    /api/customers/{id}/transactions     Statement (startDate, endDate, type)
    POST   /api/customers/{id}/transactions     Add a transaction
    POST   /api/customers/{id}/rebuild          Recompute running balances

  Transactions:
    PUT    /api/transactions/{id}               Edit
    DELETE /api/transactions/{id}               Delete
    POST   /api/transactions/shared-expense     Split an expense

  Dashboard:
    GET    /api/dashboard                       Outstanding totals
    GET    /api/dashboard/monthly               Month totals (year, month)
    GET    /api/dashboard/share                 Group share token (created on first call)

  Public:
    GET    /api/public/khata/{shareToken}       Read-only statement
    GET    /api/public/group/{groupToken}       Every customer of the owner
    GET    /api/public/group/{groupToken}/customer/{shareToken}
                                                One statement within the group

REQUEST FLOW:
  1. Resolve the owner (auth middleware)
  2. Parse HTTP request
  3. Call the ledger, allocator or projector
  4. Serialize response

ERROR HANDLING:
  Ledger errors map to HTTP status through writeLedgerError:
  - 400: khata.ErrInvalidArgument
  - 404: khata.ErrNotFound
  - 409: khata.ErrConcurrencyConflict (retry)
  - 503: khata.ErrStoreFailure
  - 207: shared expense posted to only some customers

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - auth.go: Owner resolution
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smartkhata/khata-engine/khata"
	"github.com/smartkhata/khata-engine/logging"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *khata.Ledger
	Allocator *khata.Allocator
	Projector *khata.Projector

	now func() time.Time
}

// NewHandler creates a handler. The projector reads from the ledger's store.
func NewHandler(ledger *khata.Ledger, allocator *khata.Allocator) *Handler {
	return &Handler{
		Ledger:    ledger,
		Allocator: allocator,
		Projector: khata.NewProjector(ledger.Store()),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// ListCustomers returns the owner's customers.
// GET /api/customers?search=&filter=positive|negative|settled&sort=name|balance-high|balance-low|recent
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	ownerID := mustOwner(r)
	q := r.URL.Query()

	customers, err := h.Ledger.ListCustomers(r.Context(), ownerID, khata.CustomerFilter{
		Search:  q.Get("search"),
		Balance: khata.BalanceFilter(q.Get("filter")),
		Sort:    khata.CustomerSort(q.Get("sort")),
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to list customers", err)
		return
	}

	writeJSON(w, http.StatusOK, toCustomerDTOs(customers))
}

// CreateCustomer opens a new khata.
// POST /api/customers
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	c, err := h.Ledger.CreateCustomer(r.Context(), mustOwner(r), req.input())
	if err != nil {
		writeLedgerError(w, r, "Failed to create customer", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

// GetCustomer returns one customer.
// GET /api/customers/{id}
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.Ledger.GetCustomer(r.Context(), mustOwner(r), customerParam(r))
	if err != nil {
		writeLedgerError(w, r, "Failed to get customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// UpdateCustomer edits name, phone and address. The balance is not editable.
// PUT /api/customers/{id}
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	c, err := h.Ledger.UpdateCustomer(r.Context(), mustOwner(r), customerParam(r), req.input())
	if err != nil {
		writeLedgerError(w, r, "Failed to update customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// DeleteCustomer removes a customer and every transaction of it.
// DELETE /api/customers/{id}
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.DeleteCustomer(r.Context(), mustOwner(r), customerParam(r)); err != nil {
		writeLedgerError(w, r, "Failed to delete customer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RebuildCustomer recomputes the running balances of one customer.
// POST /api/customers/{id}/rebuild
func (h *Handler) RebuildCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.Ledger.Rebuild(r.Context(), mustOwner(r), customerParam(r))
	if err != nil {
		writeLedgerError(w, r, "Failed to rebuild customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// GetCustomerTransactions returns the customer statement, newest first.
// GET /api/customers/{id}/transactions?startDate=&endDate=&type=
func (h *Handler) GetCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := summaryFilter(r)
	if err != nil {
		writeLedgerError(w, r, "Invalid query", err)
		return
	}

	summary, err := h.Projector.CustomerSummary(r.Context(), mustOwner(r), customerParam(r), filter)
	if err != nil {
		writeLedgerError(w, r, "Failed to get transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerSummaryDTO(summary))
}

// CreateTransaction records a payment given or received.
// POST /api/customers/{id}/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in, err := req.toNewTransaction()
	if err != nil {
		writeLedgerError(w, r, "Invalid transaction", err)
		return
	}

	tx, err := h.Ledger.Insert(r.Context(), mustOwner(r), customerParam(r), in)
	if err != nil {
		writeLedgerError(w, r, "Failed to create transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// UpdateTransaction edits type, amount, date or description.
// PUT /api/transactions/{id}
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req UpdateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	patch, err := req.toPatch()
	if err != nil {
		writeLedgerError(w, r, "Invalid transaction", err)
		return
	}

	tx, err := h.Ledger.Edit(r.Context(), mustOwner(r), transactionParam(r), patch)
	if err != nil {
		writeLedgerError(w, r, "Failed to update transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// DeleteTransaction removes a transaction and returns the new balance.
// DELETE /api/transactions/{id}
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := transactionParam(r)
	balance, err := h.Ledger.Delete(r.Context(), mustOwner(r), id)
	if err != nil {
		writeLedgerError(w, r, "Failed to delete transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteTransactionResponse{ID: string(id), NewBalance: money(balance)})
}

// SharedExpense splits an expense between customers (and the owner).
// POST /api/transactions/shared-expense
func (h *Handler) SharedExpense(w http.ResponseWriter, r *http.Request) {
	var req SharedExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	allocation, err := h.Allocator.Allocate(r.Context(), mustOwner(r), req.toSharedExpense())
	var partial *khata.PartialAllocationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, toSharedExpenseResponse(allocation))
	case errors.As(err, &partial):
		resp := toSharedExpenseResponse(allocation)
		resp.Error = err.Error()
		writeJSON(w, http.StatusMultiStatus, resp)
	default:
		writeLedgerError(w, r, "Failed to split expense", err)
	}
}

// =============================================================================
// DASHBOARD HANDLERS
// =============================================================================

// GetDashboard returns what the owner has to receive and to pay.
// GET /api/dashboard
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.Projector.OwnerDashboard(r.Context(), mustOwner(r))
	if err != nil {
		writeLedgerError(w, r, "Failed to get dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardDTO(dash))
}

// GetMonthlySummary sums one month. Defaults to the current month.
// GET /api/dashboard/monthly?year=2025&month=3
func (h *Handler) GetMonthlySummary(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	year, month := now.Year(), int(now.Month())

	q := r.URL.Query()
	var err error
	if v := q.Get("year"); v != "" {
		if year, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
	}
	if v := q.Get("month"); v != "" {
		if month, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid month", err)
			return
		}
	}

	summary, err := h.Projector.MonthlySummary(r.Context(), mustOwner(r), year, time.Month(month))
	if err != nil {
		writeLedgerError(w, r, "Failed to get monthly summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toMonthlySummaryDTO(summary))
}

// =============================================================================
// PUBLIC HANDLERS
// =============================================================================

// GetPublicKhata serves the read-only statement behind a share link.
// GET /api/public/khata/{shareToken}
func (h *Handler) GetPublicKhata(w http.ResponseWriter, r *http.Request) {
	filter, err := summaryFilter(r)
	if err != nil {
		writeLedgerError(w, r, "Invalid query", err)
		return
	}

	summary, err := h.Projector.PublicSummary(r.Context(), chi.URLParam(r, "shareToken"), filter)
	if err != nil {
		writeLedgerError(w, r, "Failed to get khata", err)
		return
	}
	writeJSON(w, http.StatusOK, toPublicSummaryDTO(summary))
}

// GetGroupShare returns the owner's group share token.
// GET /api/dashboard/share
func (h *Handler) GetGroupShare(w http.ResponseWriter, r *http.Request) {
	share, err := h.Ledger.GroupShare(r.Context(), mustOwner(r))
	if err != nil {
		writeLedgerError(w, r, "Failed to get group share", err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupShareDTO(share))
}

// GetPublicGroup lists every customer behind a group share token.
// GET /api/public/group/{groupToken}
func (h *Handler) GetPublicGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.Projector.GroupSummary(r.Context(), chi.URLParam(r, "groupToken"))
	if err != nil {
		writeLedgerError(w, r, "Failed to get group khata", err)
		return
	}
	writeJSON(w, http.StatusOK, toPublicGroupDTO(group))
}

// GetPublicGroupCustomer returns one statement reached through a group link.
// GET /api/public/group/{groupToken}/customer/{shareToken}?startDate=&endDate=&type=
func (h *Handler) GetPublicGroupCustomer(w http.ResponseWriter, r *http.Request) {
	filter, err := summaryFilter(r)
	if err != nil {
		writeLedgerError(w, r, "Invalid query", err)
		return
	}

	summary, err := h.Projector.GroupCustomerSummary(r.Context(),
		chi.URLParam(r, "groupToken"), chi.URLParam(r, "shareToken"), filter)
	if err != nil {
		writeLedgerError(w, r, "Failed to get khata", err)
		return
	}
	writeJSON(w, http.StatusOK, toPublicSummaryDTO(summary))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps the khata error kinds to HTTP status codes.
func writeLedgerError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, khata.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, khata.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, khata.ErrConcurrencyConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, khata.ErrStoreFailure):
		status, code = http.StatusServiceUnavailable, "store_failure"
	}

	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error(message, logging.FieldError, err)
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}

// summaryFilter reads startDate, endDate and type from the query string.
func summaryFilter(r *http.Request) (khata.SummaryFilter, error) {
	q := r.URL.Query()
	var filter khata.SummaryFilter
	var err error
	if v := q.Get("startDate"); v != "" {
		if filter.From, err = parseDate("startDate", v); err != nil {
			return filter, err
		}
	}
	if v := q.Get("endDate"); v != "" {
		if filter.To, err = parseDate("endDate", v); err != nil {
			return filter, err
		}
	}
	if v := q.Get("type"); v != "" {
		if filter.Type, err = khata.ParseTxType(strings.ToUpper(v)); err != nil {
			return filter, err
		}
	}
	return filter, nil
}

func customerParam(r *http.Request) khata.CustomerID {
	return khata.CustomerID(chi.URLParam(r, "id"))
}

func transactionParam(r *http.Request) khata.TransactionID {
	return khata.TransactionID(chi.URLParam(r, "id"))
}

// mustOwner returns the owner set by RequireOwner. Routes without the
// middleware never call it.
func mustOwner(r *http.Request) khata.OwnerID {
	ownerID, ok := OwnerFromContext(r.Context())
	if !ok {
		panic("api: owner missing from request context")
	}
	return ownerID
}
