package khata_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartkhata/khata-engine/khata"
)

func TestReconciler_RunNowRepairsEveryOwner(t *testing.T) {
	// GIVEN: two owners, one customer with a corrupted balance
	f := newFixture(t)
	healthy := f.customer(t, "Healthy")
	broken := f.customer(t, "Broken")
	f.insert(t, healthy, khata.TxGiven, "10", day(1))
	f.insert(t, broken, khata.TxGiven, "20", day(1))
	other, err := f.ledger.CreateCustomer(f.ctx, "owner-2", khata.CustomerInput{Name: "Other"})
	require.NoError(t, err)

	stored, err := f.store.GetCustomer(f.ctx, owner, broken.ID)
	require.NoError(t, err)
	stored.Balance = dec("999")
	require.NoError(t, f.store.UpdateCustomer(f.ctx, stored))

	// WHEN
	report := khata.NewReconciler(f.ledger, time.Hour).RunNow(f.ctx)

	// THEN
	assert.Equal(t, khata.ReconcileReport{Owners: 2, Customers: 3, Repaired: 1}, report)
	requireInvariant(t, f, broken)
	requireInvariant(t, f, healthy)
	_, err = f.store.GetCustomer(f.ctx, "owner-2", other.ID)
	assert.NoError(t, err)
}

func TestReconciler_StartStop(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Ali")
	f.insert(t, c, khata.TxGiven, "10", day(1))

	r := khata.NewReconciler(f.ledger, time.Hour)
	r.Start()
	r.Start()
	r.Stop()
	r.Stop()

	requireInvariant(t, f, c)
}

func TestReconciler_DisabledWithoutInterval(t *testing.T) {
	f := newFixture(t)

	r := khata.NewReconciler(f.ledger, 0)
	r.Start()
	r.Stop()
}
