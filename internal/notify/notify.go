// Package notify delivers engine events to sinks off the request path.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
)

// Sink receives events from the dispatcher.
type Sink interface {
	Deliver(ctx context.Context, ev agile.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev agile.Event) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, ev agile.Event) error { return f(ctx, ev) }

// Options configures a Dispatcher.
type Options struct {
	// Buffer is the queue capacity. Events arriving while it is full are dropped.
	Buffer int
	// Timeout bounds a single sink delivery. Zero means no limit.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Dispatcher is an agile.Notifier that queues events and fans them out to its sinks on a
// single background goroutine, in publication order.
type Dispatcher struct {
	log     *zap.Logger
	timeout time.Duration
	sinks   []Sink

	mu     sync.RWMutex
	closed bool
	queue  chan agile.Event
	wg     sync.WaitGroup

	delivered atomic.Int64
	dropped   atomic.Int64
}

var _ agile.Notifier = (*Dispatcher)(nil)

// NewDispatcher starts a dispatcher. Call Close to drain and stop it.
func NewDispatcher(opts Options, sinks ...Sink) *Dispatcher {
	if opts.Buffer < 1 {
		opts.Buffer = 256
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		log:     log.Named("notify"),
		timeout: opts.Timeout,
		sinks:   sinks,
		queue:   make(chan agile.Event, opts.Buffer),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Notify queues ev without blocking.
func (d *Dispatcher) Notify(_ context.Context, ev agile.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ev, "dispatcher closed")
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.drop(ev, "queue full")
	}
}

func (d *Dispatcher) drop(ev agile.Event, reason string) {
	d.dropped.Add(1)
	d.log.Warn("Dropped notification",
		zap.String("reason", reason),
		zap.String("kind", string(ev.Kind)),
		zap.String("event_id", ev.ID))
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		for _, sink := range d.sinks {
			d.deliver(sink, ev)
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, ev agile.Event) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := sink.Deliver(ctx, ev); err != nil {
		d.dropped.Add(1)
		d.log.Warn("Notification sink failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("event_id", ev.ID),
			zap.Error(err))
		return
	}
	d.delivered.Add(1)
}

// Close stops accepting events, delivers what is queued and waits for the worker to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Stats reports how many deliveries succeeded and how many events were dropped or failed.
func (d *Dispatcher) Stats() (delivered, dropped int64) {
	return d.delivered.Load(), d.dropped.Load()
}

// LogSink writes each event as a structured log line.
func LogSink(log *zap.Logger) Sink {
	return SinkFunc(func(_ context.Context, ev agile.Event) error {
		log.Info("Board event",
			zap.String("kind", string(ev.Kind)),
			zap.String("event_id", ev.ID),
			zap.String("board_id", ev.BoardID),
			zap.String("column_id", ev.ColumnID),
			zap.String("card_id", ev.CardID),
			zap.String("item_id", ev.ItemID),
			zap.String("sprint_id", ev.SprintID),
			zap.String("actor", ev.Actor),
			zap.Time("occurred_at", ev.OccurredAt))
		return nil
	})
}
