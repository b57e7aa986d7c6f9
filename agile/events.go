package agile

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventKind names a notification emitted after a successful mutation.
type EventKind string

const (
	EventCardCompleted   EventKind = "CardCompleted"
	EventSprintStarted   EventKind = "SprintStarted"
	EventSprintCompleted EventKind = "SprintCompleted"
	EventWipExceeded     EventKind = "WipExceeded"
)

// Event is handed to the Notifier once the originating transaction has committed.
type Event struct {
	ID         string    `json:"id"`
	Kind       EventKind `json:"kind"`
	BoardID    string    `json:"boardId,omitempty"`
	ColumnID   string    `json:"columnId,omitempty"`
	CardID     string    `json:"cardId,omitempty"`
	ItemID     string    `json:"itemId,omitempty"`
	SprintID   string    `json:"sprintId,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Notifier receives events fire-and-forget. Implementations must not block for long and
// cannot fail the mutation that produced the event.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, ev Event) {
	f(ctx, ev)
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, Event) {}

// newEventID returns a time-sortable id so consumers can order events without a clock.
func newEventID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}

// WarningKind names an advisory condition attached to a successful result.
type WarningKind string

const (
	WarningWipExceeded        WarningKind = "WipExceeded"
	WarningBridgeInconsistent WarningKind = "BridgeInconsistency"
)

// Warning is advisory: the operation succeeded and the warning is for display only.
type Warning struct {
	Kind     WarningKind `json:"kind"`
	Message  string      `json:"message"`
	EntityID string      `json:"entityId,omitempty"`
}

// Result carries the updated entity plus any advisory warnings.
type Result[T any] struct {
	Value    T         `json:"data"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// Has reports whether a warning of the given kind is attached.
func (r Result[T]) Has(kind WarningKind) bool {
	for _, w := range r.Warnings {
		if w.Kind == kind {
			return true
		}
	}
	return false
}

// WipExceeded reports whether the move or insert pushed a column above its WIP limit.
func (r Result[T]) WipExceeded() bool {
	return r.Has(WarningWipExceeded)
}
