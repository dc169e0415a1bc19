package khata

import (
	"sort"
	"strings"
	"time"
)

// =============================================================================
// ORDER KEY - Chronological position of a transaction
// =============================================================================

// OrderKey orders a customer's transactions.
//
// Date is the user supplied (possibly backdated) date. CreatedAt breaks ties
// between transactions on the same date. ID is the last resort so that the
// order is total even when two inserts share a timestamp.
type OrderKey struct {
	Date      time.Time
	CreatedAt time.Time
	ID        TransactionID
}

// Compare returns -1, 0 or +1 as k sorts before, equal to, or after other.
func (k OrderKey) Compare(other OrderKey) int {
	if c := k.Date.Compare(other.Date); c != 0 {
		return c
	}
	if c := k.CreatedAt.Compare(other.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(string(k.ID), string(other.ID))
}

func (k OrderKey) Before(other OrderKey) bool { return k.Compare(other) < 0 }
func (k OrderKey) After(other OrderKey) bool  { return k.Compare(other) > 0 }

// SortChronological sorts txs in place by ascending OrderKey.
func SortChronological(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Key().Before(txs[j].Key())
	})
}

// SortNewestFirst sorts txs in place by descending OrderKey.
func SortNewestFirst(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Key().After(txs[j].Key())
	})
}
