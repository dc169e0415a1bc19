package khata_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/smartkhata/khata-engine/khata"
)

func TestOrderKey_Compare(t *testing.T) {
	created := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)
	base := khata.OrderKey{Date: day(2), CreatedAt: created, ID: "b"}

	tests := []struct {
		name  string
		other khata.OrderKey
		want  int
	}{
		{"earlier date wins over later createdAt", khata.OrderKey{Date: day(1), CreatedAt: created.Add(time.Hour), ID: "z"}, 1},
		{"later date", khata.OrderKey{Date: day(3), CreatedAt: created.Add(-time.Hour), ID: "a"}, -1},
		{"same date, earlier createdAt", khata.OrderKey{Date: day(2), CreatedAt: created.Add(-time.Second), ID: "z"}, 1},
		{"same date and createdAt, id breaks tie", khata.OrderKey{Date: day(2), CreatedAt: created, ID: "c"}, -1},
		{"identical", base, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Compare(tt.other))
			assert.Equal(t, -tt.want, tt.other.Compare(base))
		})
	}
}

func TestSortChronological(t *testing.T) {
	created := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)
	txs := []khata.Transaction{
		{ID: "late", Date: day(5), CreatedAt: created},
		{ID: "second", Date: day(1), CreatedAt: created.Add(time.Minute)},
		{ID: "first", Date: day(1), CreatedAt: created},
	}

	khata.SortChronological(txs)
	assert.Equal(t, khata.TransactionID("first"), txs[0].ID)
	assert.Equal(t, khata.TransactionID("second"), txs[1].ID)
	assert.Equal(t, khata.TransactionID("late"), txs[2].ID)

	khata.SortNewestFirst(txs)
	assert.Equal(t, khata.TransactionID("late"), txs[0].ID)
	assert.Equal(t, khata.TransactionID("first"), txs[2].ID)
}

func TestSignedDelta(t *testing.T) {
	given := khata.Transaction{Type: khata.TxGiven, Amount: dec("12.50")}
	received := khata.Transaction{Type: khata.TxReceived, Amount: dec("12.50")}

	requireDecimal(t, "12.5", given.SignedDelta())
	requireDecimal(t, "-12.5", received.SignedDelta())
}

func TestParseTxType(t *testing.T) {
	typ, err := khata.ParseTxType("RECEIVED")
	assert.NoError(t, err)
	assert.Equal(t, khata.TxReceived, typ)

	_, err = khata.ParseTxType("received")
	assert.ErrorIs(t, err, khata.ErrInvalidArgument)
}
