// Package agiletest provides test doubles for the agile engine and a behavioural suite that
// every agile.Store implementation must pass.
package agiletest

import (
	"context"
	"sync"
	"time"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
)

// Clock is a settable time source for agile.WithClock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Recorder is a Notifier that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []agile.Event
}

// Notify implements agile.Notifier.
func (r *Recorder) Notify(_ context.Context, ev agile.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []agile.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]agile.Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []agile.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]agile.EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// Reset forgets the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// CountingStore wraps a Store and counts the writes issued through it.
type CountingStore struct {
	agile.Store

	mu     sync.Mutex
	writes int
}

// NewCountingStore wraps s.
func NewCountingStore(s agile.Store) *CountingStore {
	return &CountingStore{Store: s}
}

// Writes returns the number of record writes issued so far.
func (s *CountingStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Update implements agile.Store.
func (s *CountingStore) Update(ctx context.Context, fn func(tx agile.Tx) error) error {
	return s.Store.Update(ctx, func(tx agile.Tx) error {
		return fn(&countingTx{Tx: tx, s: s})
	})
}

func (s *CountingStore) add(n int) {
	s.mu.Lock()
	s.writes += n
	s.mu.Unlock()
}

type countingTx struct {
	agile.Tx
	s *CountingStore
}

func (t *countingTx) InsertBoard(b *agile.Board) error { t.s.add(1); return t.Tx.InsertBoard(b) }
func (t *countingTx) UpdateBoard(b *agile.Board) error { t.s.add(1); return t.Tx.UpdateBoard(b) }

func (t *countingTx) InsertColumn(c *agile.Column) error { t.s.add(1); return t.Tx.InsertColumn(c) }
func (t *countingTx) UpdateColumn(c *agile.Column) error { t.s.add(1); return t.Tx.UpdateColumn(c) }
func (t *countingTx) DeleteColumn(id string) error       { t.s.add(1); return t.Tx.DeleteColumn(id) }
func (t *countingTx) SetColumnOrders(p []agile.Placement) error {
	t.s.add(len(p))
	return t.Tx.SetColumnOrders(p)
}

func (t *countingTx) InsertCard(c *agile.Card) error { t.s.add(1); return t.Tx.InsertCard(c) }
func (t *countingTx) UpdateCard(c *agile.Card) error { t.s.add(1); return t.Tx.UpdateCard(c) }
func (t *countingTx) DeleteCard(id string) error     { t.s.add(1); return t.Tx.DeleteCard(id) }
func (t *countingTx) SetCardOrders(p []agile.Placement) error {
	t.s.add(len(p))
	return t.Tx.SetCardOrders(p)
}

func (t *countingTx) InsertItem(i *agile.BacklogItem) error { t.s.add(1); return t.Tx.InsertItem(i) }
func (t *countingTx) UpdateItem(i *agile.BacklogItem) error { t.s.add(1); return t.Tx.UpdateItem(i) }
func (t *countingTx) SetItemOrders(p []agile.Placement) error {
	t.s.add(len(p))
	return t.Tx.SetItemOrders(p)
}

func (t *countingTx) InsertSprint(s *agile.Sprint) error { t.s.add(1); return t.Tx.InsertSprint(s) }
func (t *countingTx) UpdateSprint(s *agile.Sprint) error { t.s.add(1); return t.Tx.UpdateSprint(s) }
