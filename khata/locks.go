package khata

import "sync"

// =============================================================================
// KEYED MUTEX - Serializes mutations per customer
// =============================================================================

// keyedMutex hands out one mutex per key. Entries are reference counted and
// dropped when the last holder unlocks, so idle customers cost nothing.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[CustomerID]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[CustomerID]*keyedEntry)}
}

// Lock blocks until the caller owns key and returns the matching unlock.
func (k *keyedMutex) Lock(key CustomerID) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
