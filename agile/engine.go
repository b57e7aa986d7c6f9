package agile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

// Action names a mutation for the Authorizer.
type Action string

const (
	ActionCreateBoard    Action = "board.create"
	ActionUpdateBoard    Action = "board.update"
	ActionCreateColumn   Action = "column.create"
	ActionUpdateColumn   Action = "column.update"
	ActionDeleteColumn   Action = "column.delete"
	ActionMoveColumn     Action = "column.move"
	ActionCreateCard     Action = "card.create"
	ActionUpdateCard     Action = "card.update"
	ActionDeleteCard     Action = "card.delete"
	ActionMoveCard       Action = "card.move"
	ActionLinkCard       Action = "card.link"
	ActionCreateItem     Action = "item.create"
	ActionUpdateItem     Action = "item.update"
	ActionMoveItem       Action = "item.move"
	ActionRemoveItem     Action = "item.remove"
	ActionCreateSprint   Action = "sprint.create"
	ActionUpdateSprint   Action = "sprint.update"
	ActionStartSprint    Action = "sprint.start"
	ActionCompleteSprint Action = "sprint.complete"
	ActionCarryOver      Action = "sprint.carry_over"
)

// Authorizer is consulted before every mutation. A false answer rejects the operation with
// ErrForbidden; an error is reported as a storage failure.
type Authorizer interface {
	Authorize(ctx context.Context, actor string, action Action, resourceID string) (bool, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, actor string, action Action, resourceID string) (bool, error)

// Authorize calls f.
func (f AuthorizerFunc) Authorize(ctx context.Context, actor string, action Action, resourceID string) (bool, error) {
	return f(ctx, actor, action, resourceID)
}

type allowAll struct{}

func (allowAll) Authorize(context.Context, string, Action, string) (bool, error) {
	return true, nil
}

type actorKey struct{}

// WithActor returns a context carrying the caller identity.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the caller identity carried by ctx, or "".
func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// Templates are the columns a board receives when it is created without explicit ones.
type Templates struct {
	Kanban    []string      `yaml:"kanban"`
	Scrum     []string      `yaml:"scrum"`
	DoneNames []string      `yaml:"done_names"`
	Settings  BoardSettings `yaml:"settings"`
}

// DefaultTemplates returns the built-in column templates.
func DefaultTemplates() Templates {
	return Templates{
		Kanban:    []string{"To Do", "In Progress", "Done"},
		Scrum:     []string{"Backlog", "To Do", "In Progress", "Review", "Done"},
		DoneNames: []string{"Done"},
		Settings:  DefaultBoardSettings(),
	}
}

func (t Templates) columns(bt BoardType) []string {
	if bt == BoardTypeScrum {
		return t.Scrum
	}
	return t.Kanban
}

func (t Templates) isDoneName(name string) bool {
	folded := foldName(name)
	for _, n := range t.DoneNames {
		if foldName(n) == folded {
			return true
		}
	}
	return false
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuthorizer sets the authorization collaborator. The default allows everything.
func WithAuthorizer(a Authorizer) Option {
	return func(e *Engine) { e.auth = a }
}

// WithNotifier sets the notification collaborator. The default discards events.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the random UUID generator used for new entities.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithTemplates sets the board templates.
func WithTemplates(t Templates) Option {
	return func(e *Engine) { e.templates = t }
}

// Engine routes every board, backlog and sprint operation through one store transaction.
type Engine struct {
	store     Store
	auth      Authorizer
	notifier  Notifier
	log       *zap.Logger
	now       func() time.Time
	newID     func() string
	templates Templates
}

// NewEngine creates an engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		auth:      allowAll{},
		notifier:  discardNotifier{},
		now:       time.Now,
		newID:     uuid.NewString,
		templates: DefaultTemplates(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e
}

// mutation collects the advisory output of one transaction.
type mutation struct {
	op       string
	actor    string
	at       time.Time
	warnings []Warning
	events   []Event
}

func (m *mutation) warn(kind WarningKind, entityID, format string, args ...any) {
	m.warnings = append(m.warnings, Warning{
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		EntityID: entityID,
	})
}

func (m *mutation) emit(ev Event) {
	ev.Actor = m.actor
	ev.OccurredAt = m.at
	m.events = append(m.events, ev)
}

// mutate authorizes the caller, runs fn in one transaction and publishes the collected
// events once the transaction has committed.
func (e *Engine) mutate(ctx context.Context, op string, action Action, resourceID string, fn func(tx Tx, m *mutation) error) ([]Warning, error) {
	actor := ActorFrom(ctx)
	ok, err := e.auth.Authorize(ctx, actor, action, resourceID)
	if err != nil {
		return nil, withOp(op, fmt.Errorf("authorize: %w", err))
	}
	if !ok {
		return nil, newError(KindForbidden, op, "%q may not %s %s", actor, action, resourceID)
	}

	m := &mutation{op: op, actor: actor}
	err = e.store.Update(ctx, func(tx Tx) error {
		m.at = e.now().UTC()
		m.warnings, m.events = nil, nil
		return fn(tx, m)
	})
	if err != nil {
		return nil, withOp(op, err)
	}

	for _, w := range m.warnings {
		e.log.Warn("advisory condition",
			zap.String("op", op),
			zap.String("kind", string(w.Kind)),
			zap.String("entity", w.EntityID),
			zap.String("message", w.Message))
	}
	e.publish(ctx, m.events)
	e.log.Debug("mutation committed",
		zap.String("op", op),
		zap.String("actor", actor),
		zap.String("resource", resourceID),
		zap.Int("events", len(m.events)))
	return m.warnings, nil
}

func (e *Engine) publish(ctx context.Context, events []Event) {
	// Delivery outlives the request that caused it.
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		ev.ID = newEventID(ev.OccurredAt)
		e.notifier.Notify(ctx, ev)
	}
}

func (e *Engine) view(ctx context.Context, op string, fn func(tx Tx) error) error {
	return withOp(op, e.store.View(ctx, fn))
}

func foldName(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// placementFor splits the placement of id out of an allocator result.
func placementFor(id string, p []Placement) (order int, rest []Placement) {
	order = -1
	for _, pl := range p {
		if pl.ID == id {
			order = pl.Order
			continue
		}
		rest = append(rest, pl)
	}
	return order, rest
}

func columnSequence(cols []*Column) *Sequence {
	members := make([]Ranked, len(cols))
	for i, c := range cols {
		members[i] = Ranked{ID: c.ID, Order: c.Order}
	}
	return NewSequence(members)
}

func cardSequence(cards []*Card) *Sequence {
	members := make([]Ranked, len(cards))
	for i, c := range cards {
		members[i] = Ranked{ID: c.ID, Order: c.Order}
	}
	return NewSequence(members)
}

func itemSequence(items []*BacklogItem) *Sequence {
	members := make([]Ranked, len(items))
	for i, it := range items {
		members[i] = Ranked{ID: it.ID, Order: it.Order}
	}
	return NewSequence(members)
}

func invalidInput(op, format string, args ...any) error {
	return newError(KindInvalidInput, op, format, args...)
}

func validatePoints(op string, p *int) error {
	if p != nil && *p < 0 {
		return invalidInput(op, "story points must not be negative, got %d", *p)
	}
	return nil
}
