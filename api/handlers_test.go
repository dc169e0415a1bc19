/*
handlers_test.go - HTTP tests for the khata API

Tests for:
- Owner resolution (bearer JWT)
- Customer and transaction endpoints, including backdated inserts
- Shared expense split, full and partial
- Dashboard, monthly and public summaries, group share links
- Error kind to HTTP status mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartkhata/khata-engine/khata"
	"github.com/smartkhata/khata-engine/khata/store"
	"github.com/smartkhata/khata-engine/logging"
)

var testSecret = []byte("test-secret")

type testServer struct {
	router http.Handler
	token  string
}

func newTestServer(t *testing.T, txStore khata.TxStore) *testServer {
	t.Helper()
	return newLoggedTestServer(t, txStore, io.Discard)
}

// newLoggedTestServer writes JSON logs to out.
func newLoggedTestServer(t *testing.T, txStore khata.TxStore, out io.Writer) *testServer {
	t.Helper()
	if txStore == nil {
		txStore = store.NewMemory()
	}
	ledger := khata.NewLedger(txStore)
	h := NewHandler(ledger, khata.NewAllocator(ledger, 1))
	h.now = func() time.Time { return time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC) }

	router := NewRouter(h, RouterConfig{
		AllowedOrigins: []string{"http://localhost:5173"},
		JWTSecret:      testSecret,
		Logger:         logging.New(logging.Config{Output: out, Format: "json"}),
	})
	return &testServer{router: router, token: signToken(t, jwt.MapClaims{"sub": "owner-1"})}
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.doAs(t, s.token, method, path, body)
}

func (s *testServer) doAs(t *testing.T, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) createCustomer(t *testing.T, name string) CustomerDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/customers", CustomerRequest{Name: name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[CustomerDTO](t, rec)
}

func (s *testServer) addTransaction(t *testing.T, customerID, typ, amount, date string) TransactionDTO {
	t.Helper()
	body := map[string]any{"type": typ, "amount": amount, "date": date}
	rec := s.do(t, http.MethodPost, "/api/customers/"+customerID+"/transactions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[TransactionDTO](t, rec)
}

// =============================================================================
// AUTH
// =============================================================================

func TestHealth_NoAuth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.doAs(t, "", http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, nil)
	wrongSecret, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "owner-1"}).
		SignedString([]byte("other"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", wrongSecret, http.StatusUnauthorized},
		{"expired", signToken(t, jwt.MapClaims{"sub": "owner-1", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"no owner claim", signToken(t, jwt.MapClaims{"role": "owner"}), http.StatusUnauthorized},
		{"sub claim", signToken(t, jwt.MapClaims{"sub": "owner-1"}), http.StatusOK},
		{"owner_id claim", signToken(t, jwt.MapClaims{"owner_id": "owner-1"}), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.doAs(t, tt.token, http.MethodGet, "/api/customers", nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

// =============================================================================
// CUSTOMERS & TRANSACTIONS
// =============================================================================

func TestCustomerLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	// GIVEN: a new customer
	c := s.createCustomer(t, "  Ravi  ")
	assert.Equal(t, "Ravi", c.Name)
	assert.Equal(t, "0.00", c.Balance)
	assert.NotEmpty(t, c.ShareToken)

	// WHEN: the name is updated
	rec := s.do(t, http.MethodPut, "/api/customers/"+c.ID, CustomerRequest{Name: "Ravi K", Phone: "98765"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[CustomerDTO](t, rec)
	assert.Equal(t, "Ravi K", updated.Name)
	assert.Equal(t, "98765", updated.Phone)

	// THEN: it is listed, fetched and finally deleted
	list := decode[[]CustomerDTO](t, s.do(t, http.MethodGet, "/api/customers?search=ravi", nil))
	require.Len(t, list, 1)

	rec = s.do(t, http.MethodGet, "/api/customers/"+c.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/customers/"+c.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/customers/"+c.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)
}

func TestTransactions_BackdatedEditDelete(t *testing.T) {
	s := newTestServer(t, nil)
	c := s.createCustomer(t, "Ali")

	// GIVEN: 100 given on the 1st, 40 received on the 3rd
	first := s.addTransaction(t, c.ID, "GIVEN", "100", "2025-03-01")
	last := s.addTransaction(t, c.ID, "received", "40", "2025-03-03")
	assert.Equal(t, "60.00", last.BalanceAfter)

	// WHEN: 10 is backdated to the 2nd
	middle := s.addTransaction(t, c.ID, "GIVEN", "10", "2025-03-02T10:00:00Z")

	// THEN: the later transaction moves and the balance follows
	assert.Equal(t, "110.00", middle.BalanceAfter)
	statement := decode[CustomerSummaryDTO](t, s.do(t, http.MethodGet, "/api/customers/"+c.ID+"/transactions", nil))
	require.Len(t, statement.Transactions, 3)
	assert.Equal(t, last.ID, statement.Transactions[0].ID)
	assert.Equal(t, "70.00", statement.Transactions[0].BalanceAfter)
	assert.Equal(t, "110.00", statement.TotalGiven)
	assert.Equal(t, "40.00", statement.TotalReceived)
	assert.Equal(t, "70.00", statement.Balance)

	// WHEN: the first amount is edited to 150
	rec := s.do(t, http.MethodPut, "/api/transactions/"+first.ID, map[string]any{"amount": 150})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "150.00", decode[TransactionDTO](t, rec).BalanceAfter)

	// AND: the first transaction is deleted
	rec = s.do(t, http.MethodDelete, "/api/transactions/"+first.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "-30.00", decode[DeleteTransactionResponse](t, rec).NewBalance)

	got := decode[CustomerDTO](t, s.do(t, http.MethodGet, "/api/customers/"+c.ID, nil))
	assert.Equal(t, "-30.00", got.Balance)

	rec = s.do(t, http.MethodPost, "/api/customers/"+c.ID+"/rebuild", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "-30.00", decode[CustomerDTO](t, rec).Balance)
}

func TestCustomerTransactions_Filters(t *testing.T) {
	s := newTestServer(t, nil)
	c := s.createCustomer(t, "Ali")
	s.addTransaction(t, c.ID, "GIVEN", "100", "2025-03-01")
	s.addTransaction(t, c.ID, "GIVEN", "10", "2025-03-02")
	s.addTransaction(t, c.ID, "RECEIVED", "40", "2025-03-03")

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"all", "", 3},
		{"type", "?type=RECEIVED", 1},
		{"end day inclusive", "?endDate=2025-03-02", 2},
		{"range", "?startDate=2025-03-02&endDate=2025-03-02", 1},
		{"empty range", "?startDate=2025-04-01", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/customers/"+c.ID+"/transactions"+tt.query, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Len(t, decode[CustomerSummaryDTO](t, rec).Transactions, tt.want)
		})
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)
	c := s.createCustomer(t, "Ali")
	other := signToken(t, jwt.MapClaims{"sub": "owner-2"})

	tests := []struct {
		name   string
		token  string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"zero amount", "", http.MethodPost, "/api/customers/" + c.ID + "/transactions", map[string]any{"type": "GIVEN", "amount": 0}, http.StatusBadRequest, "invalid_argument"},
		{"huge exponent", "", http.MethodPost, "/api/customers/" + c.ID + "/transactions", `{"type":"GIVEN","amount":1e10000000}`, http.StatusBadRequest, "invalid_argument"},
		{"over cap", "", http.MethodPost, "/api/customers/" + c.ID + "/transactions", map[string]any{"type": "GIVEN", "amount": "1000000000000.01"}, http.StatusBadRequest, "invalid_argument"},
		{"bad type", "",http.MethodPost, "/api/customers/" + c.ID + "/transactions", map[string]any{"type": "LENT", "amount": 5}, http.StatusBadRequest, "invalid_argument"},
		{"bad date", "", http.MethodPost, "/api/customers/" + c.ID + "/transactions", map[string]any{"type": "GIVEN", "amount": 5, "date": "03/01/2025"}, http.StatusBadRequest, "invalid_argument"},
		{"bad body", "", http.MethodPost, "/api/customers", "{", http.StatusBadRequest, ""},
		{"empty name", "", http.MethodPost, "/api/customers", CustomerRequest{Name: "  "}, http.StatusBadRequest, "invalid_argument"},
		{"unknown customer", "", http.MethodPost, "/api/customers/ghost/transactions", map[string]any{"type": "GIVEN", "amount": 5}, http.StatusNotFound, "not_found"},
		{"unknown transaction", "", http.MethodDelete, "/api/transactions/ghost", nil, http.StatusNotFound, "not_found"},
		{"other owner", other, http.MethodGet, "/api/customers/" + c.ID, nil, http.StatusNotFound, "not_found"},
		{"bad filter", "", http.MethodGet, "/api/customers?filter=rich", nil, http.StatusBadRequest, "invalid_argument"},
		{"bad summary type", "", http.MethodGet, "/api/customers/" + c.ID + "/transactions?type=x", nil, http.StatusBadRequest, "invalid_argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := tt.token
			if token == "" {
				token = s.token
			}
			rec := s.doAs(t, token, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

// =============================================================================
// SHARED EXPENSE
// =============================================================================

func TestSharedExpense(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.createCustomer(t, "A")
	s.createCustomer(t, "B")
	s.createCustomer(t, "C")

	// WHEN: 300 is split with the owner
	rec := s.do(t, http.MethodPost, "/api/transactions/shared-expense", map[string]any{
		"amount": "300", "description": "Dinner",
	})

	// THEN: four members, three postings
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[SharedExpenseResponse](t, rec)
	assert.Equal(t, 4, resp.TotalMembers)
	assert.Equal(t, "75.00", resp.PerPerson)
	assert.Equal(t, "75.00", resp.OwnerShare)
	assert.Len(t, resp.Postings, 3)
	assert.Empty(t, resp.Error)

	// WHEN: only A shares 100 without the owner
	rec = s.do(t, http.MethodPost, "/api/transactions/shared-expense", map[string]any{
		"amount": 100, "customer_ids": []string{a.ID}, "include_owner": false,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp = decode[SharedExpenseResponse](t, rec)
	assert.Equal(t, "100.00", resp.PerPerson)
	assert.Equal(t, "0.00", resp.OwnerShare)
	require.Len(t, resp.Postings, 1)
	assert.Equal(t, "175.00", resp.Postings[0].NewBalance)
}

func TestSharedExpense_NoCustomers(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/transactions/shared-expense", map[string]any{"amount": 100})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// failingInserts fails every insert for one customer.
type failingInserts struct {
	*store.Memory
	failFor khata.CustomerID
}

func (f *failingInserts) WithTx(ctx context.Context, fn func(khata.Store) error) error {
	return f.Memory.WithTx(ctx, func(s khata.Store) error {
		return fn(&failingInsertView{Store: s, failFor: f.failFor})
	})
}

type failingInsertView struct {
	khata.Store
	failFor khata.CustomerID
}

func (v *failingInsertView) InsertTransaction(ctx context.Context, tx khata.Transaction) error {
	if tx.CustomerID == v.failFor {
		return errors.New("disk full")
	}
	return v.Store.InsertTransaction(ctx, tx)
}

func TestSharedExpense_PartialFailureIsMultiStatus(t *testing.T) {
	failing := &failingInserts{Memory: store.NewMemory()}
	var logs bytes.Buffer
	s := newLoggedTestServer(t, failing, &logs)
	s.createCustomer(t, "A")
	b := s.createCustomer(t, "B")
	s.createCustomer(t, "C")
	failing.failFor = khata.CustomerID(b.ID)

	rec := s.do(t, http.MethodPost, "/api/transactions/shared-expense", map[string]any{"amount": 300})

	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())
	resp := decode[SharedExpenseResponse](t, rec)
	assert.Len(t, resp.Postings, 1)
	assert.Contains(t, resp.Error, "posted to 1 of 3")

	// Logged once, by the allocator, with the request attributes.
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record), line)
		if record["msg"] == "shared expense partially posted" {
			records = append(records, record)
		}
	}
	require.Len(t, records, 1, logs.String())
	assert.Equal(t, "ledger", records[0]["component"])
	assert.Equal(t, "owner-1", records[0]["owner_id"])
	assert.NotEmpty(t, records[0]["request_id"])
}

// =============================================================================
// SUMMARIES
// =============================================================================

func TestDashboardAndMonthly(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.createCustomer(t, "A")
	b := s.createCustomer(t, "B")
	s.addTransaction(t, a.ID, "GIVEN", "50", "2025-03-05")
	s.addTransaction(t, b.ID, "RECEIVED", "20", "2025-03-06")
	s.addTransaction(t, a.ID, "GIVEN", "5", "2025-02-28")

	dash := decode[DashboardDTO](t, s.do(t, http.MethodGet, "/api/dashboard", nil))
	assert.Equal(t, 2, dash.TotalCustomers)
	assert.Equal(t, "55.00", dash.TotalToReceive)
	assert.Equal(t, "20.00", dash.TotalToPay)
	assert.Equal(t, "75.00", dash.NetBalance)

	// Defaults to the handler clock's month, March 2025.
	month := decode[MonthlySummaryDTO](t, s.do(t, http.MethodGet, "/api/dashboard/monthly", nil))
	assert.Equal(t, 2025, month.Year)
	assert.Equal(t, 3, month.Month)
	assert.Equal(t, 2, month.TotalTransactions)
	assert.Equal(t, "-30.00", month.Net)

	feb := decode[MonthlySummaryDTO](t, s.do(t, http.MethodGet, "/api/dashboard/monthly?year=2025&month=2", nil))
	assert.Equal(t, 1, feb.TotalTransactions)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/dashboard/monthly?month=13", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/dashboard/monthly?year=abc", nil).Code)
}

func TestPublicKhata(t *testing.T) {
	s := newTestServer(t, nil)
	c := s.createCustomer(t, "Ali")
	rec := s.do(t, http.MethodPut, "/api/customers/"+c.ID, CustomerRequest{Name: "Ali", Phone: "98765"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s.addTransaction(t, c.ID, "GIVEN", "25.5", "2025-03-01")

	// WHEN: the share link is opened without a token
	rec = s.doAs(t, "", http.MethodGet, "/api/public/khata/"+c.ShareToken, nil)

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	public := decode[PublicSummaryDTO](t, rec)
	assert.Equal(t, "Ali", public.Customer.Name)
	assert.Equal(t, "98765", public.Customer.Phone)
	assert.NotEmpty(t, public.Customer.MemberSince)
	assert.Equal(t, "25.50", public.Balance)
	require.Len(t, public.Transactions, 1)
	assert.Equal(t, "25.50", public.Transactions[0].BalanceAfter)

	// AND: no record ids leak through the share link
	raw := decode[map[string]any](t, rec)
	customer := raw["customer"].(map[string]any)
	assert.NotContains(t, customer, "id")
	assert.NotContains(t, customer, "share_token")
	tx := raw["transactions"].([]any)[0].(map[string]any)
	assert.NotContains(t, tx, "id")
	assert.NotContains(t, tx, "customer_id")
	assert.NotContains(t, tx, "created_at")
	assert.Equal(t, "GIVEN", tx["type"])

	rec = s.doAs(t, "", http.MethodGet, "/api/public/khata/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicGroup(t *testing.T) {
	s := newTestServer(t, nil)
	ali := s.createCustomer(t, "Ali")
	bilal := s.createCustomer(t, "Bilal")
	s.addTransaction(t, ali.ID, "GIVEN", "50", "2025-03-01")
	s.addTransaction(t, bilal.ID, "RECEIVED", "20", "2025-03-02")
	other := signToken(t, jwt.MapClaims{"sub": "owner-2"})
	rec := s.doAs(t, other, http.MethodPost, "/api/customers", CustomerRequest{Name: "Zed"})
	require.Equal(t, http.StatusCreated, rec.Code)
	stranger := decode[CustomerDTO](t, rec)

	// GIVEN: the owner's group token, stable across calls
	rec = s.do(t, http.MethodGet, "/api/dashboard/share", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	share := decode[GroupShareDTO](t, rec)
	require.NotEmpty(t, share.Token)
	assert.Equal(t, share.Token, decode[GroupShareDTO](t, s.do(t, http.MethodGet, "/api/dashboard/share", nil)).Token)
	assert.Equal(t, http.StatusUnauthorized, s.doAs(t, "", http.MethodGet, "/api/dashboard/share", nil).Code)

	// WHEN: the group link is opened without a token
	rec = s.doAs(t, "", http.MethodGet, "/api/public/group/"+share.Token, nil)

	// THEN: every customer of the owner, by name
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	group := decode[PublicGroupDTO](t, rec)
	assert.Equal(t, 2, group.Summary.TotalCustomers)
	assert.Equal(t, "50.00", group.Summary.TotalOwed)
	assert.Equal(t, "20.00", group.Summary.TotalOwing)
	require.Len(t, group.Customers, 2)
	assert.Equal(t, "Ali", group.Customers[0].Name)
	assert.Equal(t, ali.ShareToken, group.Customers[0].ShareToken)
	assert.Equal(t, "-20.00", group.Customers[1].Balance)

	// AND: a member statement opens through the group, with filters
	rec = s.doAs(t, "", http.MethodGet, "/api/public/group/"+share.Token+"/customer/"+ali.ShareToken+"?type=GIVEN", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	statement := decode[PublicSummaryDTO](t, rec)
	assert.Equal(t, "Ali", statement.Customer.Name)
	assert.Len(t, statement.Transactions, 1)

	// AND: another owner's customer does not
	rec = s.doAs(t, "", http.MethodGet, "/api/public/group/"+share.Token+"/customer/"+stranger.ShareToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.doAs(t, "", http.MethodGet, "/api/public/group/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.doAs(t, "", http.MethodGet, "/api/public/group/"+share.Token+"/customer/"+ali.ShareToken+"?type=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
