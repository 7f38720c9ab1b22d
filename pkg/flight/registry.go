// Package flight implements the single-flight registry: an in-memory map
// from fingerprint to the list of requests waiting on an in-flight fetch.
//
// The registry guarantees that at most one fetch per fingerprint is active
// at any time. The first request to join becomes the leader and drives the
// fetch; everyone else subscribes to its result. Completion fans the result
// out to all waiters in join order and destroys the entry.
package flight

import "sync"

// Ticket represents one waiter's slot in a flight. The result is delivered
// exactly once on C. A ticket whose owner loses interest must be returned
// via Leave so its slot is dropped; dropping a ticket never cancels the
// fetch itself.
type Ticket[T any] struct {
	// C receives the flight's result. Buffered, so fan-out never blocks
	// on a waiter that stopped listening.
	C <-chan T

	key string
	ch  chan T
}

type entry[T any] struct {
	waiters []*Ticket[T]
}

// Registry coalesces concurrent requests for the same key. The zero value
// is not usable; call NewRegistry.
type Registry[T any] struct {
	mu      sync.Mutex
	flights map[string]*entry[T]
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{flights: make(map[string]*entry[T])}
}

// Join atomically adds a waiter for key and returns its ticket. The second
// return value is true iff this call created the flight, making the caller
// the leader responsible for driving the fetch and eventually calling
// Complete.
func (r *Registry[T]) Join(key string) (*Ticket[T], bool) {
	t := &Ticket[T]{key: key, ch: make(chan T, 1)}
	t.C = t.ch

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.flights[key]
	if !ok {
		e = &entry[T]{}
		r.flights[key] = e
	}
	e.waiters = append(e.waiters, t)
	return t, !ok
}

// Leave removes the ticket's slot from its flight, discarding any result it
// would have received. It is a no-op if the flight already completed. The
// flight keeps running regardless; even a flight with zero waiters runs to
// completion so the payload still populates the cache.
func (r *Registry[T]) Leave(t *Ticket[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.flights[t.key]
	if !ok {
		return
	}
	for i, w := range e.waiters {
		if w == t {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			break
		}
	}
}

// Complete delivers result to every remaining waiter in join order and
// destroys the flight. It returns the number of waiters served. Completing
// a key with no flight is a defensive no-op.
func (r *Registry[T]) Complete(key string, result T) int {
	r.mu.Lock()
	e, ok := r.flights[key]
	if ok {
		delete(r.flights, key)
	}
	r.mu.Unlock()

	if !ok {
		return 0
	}
	for _, w := range e.waiters {
		w.ch <- result
	}
	return len(e.waiters)
}
