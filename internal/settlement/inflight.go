package settlement

import (
	"context"
	"sync"
)

// inflightMap deduplicates concurrent settlements of the same (from, nonce)
// key. The first caller becomes the owner and does the work; every later
// caller joins the owner's latch and observes the same terminal outcome.
// The lock is held only while inserting or removing entries, never across I/O.
type inflightMap struct {
	mu      sync.Mutex
	entries map[string]*inflightEntry
}

type inflightEntry struct {
	done    chan struct{}
	outcome Outcome
}

func newInflightMap() *inflightMap {
	return &inflightMap{entries: make(map[string]*inflightEntry)}
}

// joinOrStart returns (entry, true) if the caller is the owner and must run
// the settlement, or (entry, false) if another settlement of the same key is
// already in flight.
func (m *inflightMap) joinOrStart(key string) (*inflightEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		return e, false
	}
	e := &inflightEntry{done: make(chan struct{})}
	m.entries[key] = e
	return e, true
}

// finish records the terminal outcome, removes the entry, and releases all
// joined waiters. Removal before signalling would let a racing caller start
// a second submission, so the order is: store outcome, delete entry, close.
func (m *inflightMap) finish(key string, e *inflightEntry, outcome Outcome) {
	m.mu.Lock()
	e.outcome = outcome
	delete(m.entries, key)
	m.mu.Unlock()
	close(e.done)
}

// wait blocks until the owner resolves the entry or the caller's context
// expires. The settlement itself is not cancelled by a departing waiter.
func (e *inflightEntry) wait(ctx context.Context) (Outcome, error) {
	select {
	case <-e.done:
		return e.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// size reports the number of in-flight settlements.
func (m *inflightMap) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
