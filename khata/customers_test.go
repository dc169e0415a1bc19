package khata_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartkhata/khata-engine/khata"
)

func TestCreateCustomer(t *testing.T) {
	f := newFixture(t)

	c, err := f.ledger.CreateCustomer(f.ctx, owner, khata.CustomerInput{
		Name:    "  Ravi  ",
		Phone:   " 98765 ",
		Address: "Market road",
	})
	require.NoError(t, err)

	assert.Equal(t, "Ravi", c.Name)
	assert.Equal(t, "98765", c.Phone)
	assert.NotEmpty(t, c.ShareToken)
	assert.Equal(t, int64(1), c.Version)
	assert.True(t, c.Balance.IsZero())

	stored, err := f.ledger.GetCustomer(f.ctx, owner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ShareToken, stored.ShareToken)
}

func TestCreateCustomer_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   khata.CustomerInput
	}{
		{"empty name", khata.CustomerInput{}},
		{"blank name", khata.CustomerInput{Name: "   "}},
		{"name too long", khata.CustomerInput{Name: strings.Repeat("x", khata.MaxCustomerNameLength+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.CreateCustomer(f.ctx, owner, tt.in)
			var ve *khata.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "name", ve.Field)
		})
	}

	_, err := f.ledger.CreateCustomer(f.ctx, owner, khata.CustomerInput{Name: strings.Repeat("ä", khata.MaxCustomerNameLength)})
	assert.NoError(t, err)
}

func TestUpdateCustomer_KeepsBalance(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Ravi")
	f.insert(t, c, khata.TxGiven, "25", day(1))

	updated, err := f.ledger.UpdateCustomer(f.ctx, owner, c.ID, khata.CustomerInput{Name: "Ravi K", Phone: "1"})
	require.NoError(t, err)

	assert.Equal(t, "Ravi K", updated.Name)
	requireDecimal(t, "25", updated.Balance)
	requireInvariant(t, f, c)

	_, err = f.ledger.UpdateCustomer(f.ctx, "owner-2", c.ID, khata.CustomerInput{Name: "x"})
	assert.ErrorIs(t, err, khata.ErrNotFound)
}

func TestDeleteCustomer_CascadesTransactions(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Ravi")
	tx := f.insert(t, c, khata.TxGiven, "25", day(1))

	require.NoError(t, f.ledger.DeleteCustomer(f.ctx, owner, c.ID))

	_, err := f.ledger.GetCustomer(f.ctx, owner, c.ID)
	assert.ErrorIs(t, err, khata.ErrNotFound)
	_, err = f.store.GetTransaction(f.ctx, owner, tx.ID)
	assert.ErrorIs(t, err, khata.ErrNotFound)
	assert.Contains(t, f.events.Types(), khata.EventCustomerDeleted)

	assert.ErrorIs(t, f.ledger.DeleteCustomer(f.ctx, owner, c.ID), khata.ErrNotFound)
}

func TestListCustomers(t *testing.T) {
	f := newFixture(t)
	zara := f.customer(t, "Zara")
	amit := f.customer(t, "Amit")
	babu := f.customer(t, "Babu")
	f.customer(t, "Chandra")
	f.insert(t, zara, khata.TxGiven, "10", day(1))
	f.insert(t, amit, khata.TxGiven, "50", day(1))
	f.insert(t, babu, khata.TxReceived, "5", day(1))

	names := func(cs []khata.Customer) []string {
		out := make([]string, len(cs))
		for i, c := range cs {
			out[i] = c.Name
		}
		return out
	}

	tests := []struct {
		name   string
		filter khata.CustomerFilter
		want   []string
	}{
		{"newest first by default", khata.CustomerFilter{}, []string{"Chandra", "Babu", "Amit", "Zara"}},
		{"by name", khata.CustomerFilter{Sort: khata.SortName}, []string{"Amit", "Babu", "Chandra", "Zara"}},
		{"balance high", khata.CustomerFilter{Sort: khata.SortBalanceHigh}, []string{"Amit", "Zara", "Chandra", "Babu"}},
		{"balance low", khata.CustomerFilter{Sort: khata.SortBalanceLow}, []string{"Babu", "Chandra", "Zara", "Amit"}},
		{"recently updated", khata.CustomerFilter{Sort: khata.SortRecent}, []string{"Babu", "Amit", "Zara", "Chandra"}},
		{"positive", khata.CustomerFilter{Balance: khata.BalancePositive, Sort: khata.SortName}, []string{"Amit", "Zara"}},
		{"negative", khata.CustomerFilter{Balance: khata.BalanceNegative}, []string{"Babu"}},
		{"settled", khata.CustomerFilter{Balance: khata.BalanceSettled}, []string{"Chandra"}},
		{"search", khata.CustomerFilter{Search: "AN", Sort: khata.SortName}, []string{"Chandra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.ledger.ListCustomers(f.ctx, owner, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}

	_, err := f.ledger.ListCustomers(f.ctx, owner, khata.CustomerFilter{Sort: "oldest"})
	assert.ErrorIs(t, err, khata.ErrInvalidArgument)
	_, err = f.ledger.ListCustomers(f.ctx, owner, khata.CustomerFilter{Balance: "overdue"})
	assert.ErrorIs(t, err, khata.ErrInvalidArgument)

	others, err := f.ledger.ListCustomers(f.ctx, "owner-2", khata.CustomerFilter{})
	require.NoError(t, err)
	assert.Empty(t, others)
}
