package agiletest

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
)

// Factory returns a fresh, empty store for one test.
type Factory func(t *testing.T) agile.Store

// Epoch is the time the fixture clock starts at.
var Epoch = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

const (
	projectID = "proj-1"
	day       = 24 * time.Hour
)

// Run executes the engine suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, f *Fixture)
	}{
		{"CreateBoardFromTemplate", testCreateBoardFromTemplate},
		{"CreateBoardIsAtomic", testCreateBoardIsAtomic},
		{"ColumnOrderStaysDense", testColumnOrderStaysDense},
		{"DuplicateColumnName", testDuplicateColumnName},
		{"DeleteColumn", testDeleteColumn},
		{"CrossBoardMoves", testCrossBoardMoves},
		{"MoveCardToCurrentPositionWritesNothing", testMoveCardNoop},
		{"CardOrderStaysDense", testCardOrderStaysDense},
		{"WIPLimitIsAdvisory", testWIPLimitIsAdvisory},
		{"DoneColumnBridge", testDoneColumnBridge},
		{"ItemDoneMovesCard", testItemDoneMovesCard},
		{"ItemDoneWithoutDoneColumn", testItemDoneWithoutDoneColumn},
		{"LinkRules", testLinkRules},
		{"DeleteCardClearsLink", testDeleteCardClearsLink},
		{"MoveItemRoundTrip", testMoveItemRoundTrip},
		{"MoveItemDestinations", testMoveItemDestinations},
		{"ItemSprintSyncsCard", testItemSprintSyncsCard},
		{"RemoveItem", testRemoveItem},
		{"StatusMachine", testStatusMachine},
		{"SprintAlreadyActive", testSprintAlreadyActive},
		{"CompleteSprint", testCompleteSprint},
		{"CarryOver", testCarryOver},
		{"SprintProgress", testSprintProgress},
		{"Burndown", testBurndown},
		{"ExampleScenario", testExampleScenario},
		{"Forbidden", testForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, NewFixture(t, newStore(t)))
		})
	}
}

// Fixture bundles an engine with its fake collaborators.
type Fixture struct {
	T      *testing.T
	Ctx    context.Context
	Store  *CountingStore
	Engine *agile.Engine
	Clock  *Clock
	Events *Recorder
}

// NewFixture builds an engine over store with a fake clock and an event recorder.
func NewFixture(t *testing.T, store agile.Store, opts ...agile.Option) *Fixture {
	f := &Fixture{
		T:      t,
		Ctx:    agile.WithActor(context.Background(), "tester"),
		Store:  NewCountingStore(store),
		Clock:  NewClock(Epoch),
		Events: &Recorder{},
	}
	opts = append([]agile.Option{
		agile.WithClock(f.Clock.Now),
		agile.WithNotifier(f.Events),
	}, opts...)
	f.Engine = agile.NewEngine(f.Store, opts...)
	return f
}

// Board creates a kanban board with the To Do, In Progress and Done columns.
func (f *Fixture) Board(name string) *agile.BoardView {
	f.T.Helper()
	b, err := f.Engine.CreateBoard(f.Ctx, agile.NewBoard{ProjectID: projectID, Name: name, Type: agile.BoardTypeKanban})
	require.NoError(f.T, err)
	require.Len(f.T, b.Columns, 3)
	return b
}

// Card creates a card at the end of a column.
func (f *Fixture) Card(columnID, title string) *agile.Card {
	f.T.Helper()
	res, err := f.Engine.CreateCard(f.Ctx, columnID, agile.NewCard{Title: title})
	require.NoError(f.T, err)
	return res.Value
}

// Item creates a product backlog item worth points.
func (f *Fixture) Item(title string, points int) *agile.BacklogItem {
	f.T.Helper()
	it, err := f.Engine.CreateItem(f.Ctx, projectID, agile.NewItem{Title: title, StoryPoints: &points})
	require.NoError(f.T, err)
	return it
}

// Sprint plans a sprint on a board.
func (f *Fixture) Sprint(boardID, name string) *agile.Sprint {
	f.T.Helper()
	s, err := f.Engine.CreateSprint(f.Ctx, boardID, agile.NewSprint{Name: name})
	require.NoError(f.T, err)
	return s
}

// Commit moves an item to the end of a sprint backlog.
func (f *Fixture) Commit(itemID, sprintID string) {
	f.T.Helper()
	_, err := f.Engine.MoveItem(f.Ctx, itemID, agile.BacklogSprint, sprintID, 1000)
	require.NoError(f.T, err)
}

func (f *Fixture) item(id string) *agile.BacklogItem {
	f.T.Helper()
	it, err := f.Engine.GetItem(f.Ctx, id)
	require.NoError(f.T, err)
	return it
}

func (f *Fixture) card(id string) *agile.Card {
	f.T.Helper()
	c, err := f.Engine.GetCard(f.Ctx, id)
	require.NoError(f.T, err)
	return c
}

func (f *Fixture) columnCards(boardID, columnID string) []*agile.Card {
	f.T.Helper()
	view, err := f.Engine.GetBoard(f.Ctx, boardID)
	require.NoError(f.T, err)
	for _, c := range view.Columns {
		if c.ID == columnID {
			return c.Cards
		}
	}
	f.T.Fatalf("column %s not on board %s", columnID, boardID)
	return nil
}

func requireDense(t *testing.T, orders []int) {
	t.Helper()
	sorted := append([]int(nil), orders...)
	sort.Ints(sorted)
	for i, o := range sorted {
		require.Equal(t, i, o, "orders %v are not a dense ranking", orders)
	}
}

func columnNames(view *agile.BoardView) []string {
	names := make([]string, len(view.Columns))
	for i, c := range view.Columns {
		names[i] = c.Name
	}
	return names
}

func cardTitles(cards []*agile.Card) []string {
	titles := make([]string, len(cards))
	for i, c := range cards {
		titles[i] = c.Title
	}
	return titles
}

func itemTitles(items []*agile.BacklogItem) []string {
	titles := make([]string, len(items))
	for i, it := range items {
		titles[i] = it.Title
	}
	return titles
}

func itemOrders(items []*agile.BacklogItem) []int {
	orders := make([]int, len(items))
	for i, it := range items {
		orders[i] = it.Order
	}
	return orders
}

func testCreateBoardFromTemplate(t *testing.T, f *Fixture) {
	kanban := f.Board("Team")
	assert.Equal(t, []string{"To Do", "In Progress", "Done"}, columnNames(kanban))
	assert.True(t, kanban.Columns[2].IsDoneColumn)
	assert.False(t, kanban.Columns[0].IsDoneColumn)
	assert.Equal(t, agile.DefaultBoardSettings(), kanban.Settings)

	scrum, err := f.Engine.CreateBoard(f.Ctx, agile.NewBoard{ProjectID: projectID, Name: "Scrum", Type: agile.BoardTypeScrum})
	require.NoError(t, err)
	assert.Equal(t, []string{"Backlog", "To Do", "In Progress", "Review", "Done"}, columnNames(scrum))

	boards, err := f.Engine.ListBoards(f.Ctx, projectID)
	require.NoError(t, err)
	assert.Len(t, boards, 2)

	_, err = f.Engine.CreateBoard(f.Ctx, agile.NewBoard{ProjectID: projectID, Name: "Bad", Type: "waterfall"})
	assert.ErrorIs(t, err, agile.ErrInvalidInput)

	_, err = f.Engine.CreateBoard(f.Ctx, agile.NewBoard{
		ProjectID: projectID,
		Name:      "Tiny",
		Settings:  &agile.BoardSettings{MaxColumns: 2, DefaultSprintDays: 7},
	})
	assert.ErrorIs(t, err, agile.ErrInvalidInput, "template has more columns than allowed")

	_, err = f.Engine.UpdateBoardSettings(f.Ctx, kanban.ID, agile.BoardSettings{MaxColumns: 2, DefaultSprintDays: 7})
	assert.ErrorIs(t, err, agile.ErrInvalidInput)

	b, err := f.Engine.UpdateBoardSettings(f.Ctx, kanban.ID, agile.BoardSettings{MaxColumns: 3, DefaultSprintDays: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, b.Settings.DefaultSprintDays)

	_, err = f.Engine.CreateColumn(f.Ctx, kanban.ID, agile.NewColumn{Name: "Extra"})
	assert.ErrorIs(t, err, agile.ErrInvalidInput, "board is full")
}

func testCreateBoardIsAtomic(t *testing.T, f *Fixture) {
	_, err := f.Engine.CreateBoard(f.Ctx, agile.NewBoard{
		ProjectID: projectID,
		Name:      "Dupes",
		Columns:   []agile.NewColumn{{Name: "Open"}, {Name: "OPEN"}},
	})
	require.ErrorIs(t, err, agile.ErrDuplicateColumnName)

	boards, err := f.Engine.ListBoards(f.Ctx, projectID)
	require.NoError(t, err)
	assert.Empty(t, boards, "a failed create must leave nothing behind")
}

func testColumnOrderStaysDense(t *testing.T, f *Fixture) {
	b := f.Board("Team")

	review, err := f.Engine.CreateColumn(f.Ctx, b.ID, agile.NewColumn{Name: "Review", Position: intp(2)})
	require.NoError(t, err)
	assert.Equal(t, 2, review.Order)
	assert.False(t, review.IsDoneColumn)

	moved, err := f.Engine.MoveColumn(f.Ctx, review.ID, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, moved.Order)

	view, err := f.Engine.GetBoard(f.Ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Review", "To Do", "In Progress", "Done"}, columnNames(view))

	require.NoError(t, f.Engine.DeleteColumn(f.Ctx, b.Columns[1].ID))
	view, err = f.Engine.GetBoard(f.Ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Review", "To Do", "Done"}, columnNames(view))

	var orders []int
	for _, c := range view.Columns {
		orders = append(orders, c.Order)
	}
	requireDense(t, orders)
}

func testDuplicateColumnName(t *testing.T, f *Fixture) {
	b := f.Board("Team")

	_, err := f.Engine.CreateColumn(f.Ctx, b.ID, agile.NewColumn{Name: "  to do "})
	require.ErrorIs(t, err, agile.ErrDuplicateColumnName)
	assert.Equal(t, agile.KindDuplicateColumnName, agile.KindOf(err))

	_, err = f.Engine.UpdateColumn(f.Ctx, b.Columns[0].ID, agile.ColumnPatch{Name: strp("DONE")})
	require.ErrorIs(t, err, agile.ErrDuplicateColumnName)

	view, err := f.Engine.GetBoard(f.Ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, view.Columns, 3)

	card := f.Card(b.Columns[0].ID, "Task")
	col, err := f.Engine.UpdateColumn(f.Ctx, b.Columns[0].ID, agile.ColumnPatch{Name: strp("Ready"), WIPLimit: intp(4)})
	require.NoError(t, err)
	assert.Equal(t, "Ready", col.Name)
	assert.Equal(t, 4, *col.WIPLimit)
	assert.Equal(t, "Ready", f.card(card.ID).Status, "card status follows the column name")

	_, err = f.Engine.UpdateColumn(f.Ctx, b.Columns[0].ID, agile.ColumnPatch{WIPLimit: intp(0)})
	assert.ErrorIs(t, err, agile.ErrInvalidInput)

	col, err = f.Engine.UpdateColumn(f.Ctx, b.Columns[0].ID, agile.ColumnPatch{ClearWIPLimit: true})
	require.NoError(t, err)
	assert.Nil(t, col.WIPLimit)
}

func testDeleteColumn(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	f.Card(b.Columns[1].ID, "Busy")

	err := f.Engine.DeleteColumn(f.Ctx, b.Columns[1].ID)
	require.ErrorIs(t, err, agile.ErrColumnNotEmpty)
	assert.Equal(t, agile.CategoryConflict, agile.KindOf(err).Category())

	require.NoError(t, f.Engine.DeleteColumn(f.Ctx, b.Columns[0].ID))
	view, err := f.Engine.GetBoard(f.Ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, view.Columns, 2)
	assert.Equal(t, 0, view.Columns[0].Order)
	assert.Equal(t, 1, view.Columns[1].Order)

	err = f.Engine.DeleteColumn(f.Ctx, b.Columns[0].ID)
	assert.True(t, agile.IsNotFound(err))
}

func testCrossBoardMoves(t *testing.T, f *Fixture) {
	a := f.Board("A")
	b := f.Board("B")
	card := f.Card(a.Columns[0].ID, "Stay")

	_, err := f.Engine.MoveColumn(f.Ctx, a.Columns[0].ID, b.ID, 0)
	require.ErrorIs(t, err, agile.ErrCrossBoardMoveForbidden)
	assert.Equal(t, agile.CategoryValidation, agile.KindOf(err).Category())

	_, err = f.Engine.MoveCard(f.Ctx, card.ID, b.Columns[0].ID, 0)
	require.ErrorIs(t, err, agile.ErrCrossBoardMoveForbidden)
	assert.Equal(t, a.Columns[0].ID, f.card(card.ID).ColumnID)

	_, err = f.Engine.MoveColumn(f.Ctx, a.Columns[2].ID, a.ID, 0)
	assert.NoError(t, err, "naming the column's own board is allowed")
}

func testMoveCardNoop(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	col := b.Columns[0].ID
	f.Card(col, "one")
	two := f.Card(col, "two")
	f.Card(col, "three")
	f.Events.Reset()

	before := f.Store.Writes()
	res, err := f.Engine.MoveCard(f.Ctx, two.ID, col, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Value.Order)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, before, f.Store.Writes(), "moving to the current position must not write")
	assert.Empty(t, f.Events.Events())

	assert.Equal(t, []string{"one", "two", "three"}, cardTitles(f.columnCards(b.ID, col)))
}

func testCardOrderStaysDense(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	todo, doing := b.Columns[0].ID, b.Columns[1].ID
	a := f.Card(todo, "a")
	f.Card(todo, "b")
	c := f.Card(todo, "c")
	d := f.Card(todo, "d")
	assert.Equal(t, 3, d.Order)

	_, err := f.Engine.MoveCard(f.Ctx, d.ID, todo, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "a", "b", "c"}, cardTitles(f.columnCards(b.ID, todo)))

	res, err := f.Engine.MoveCard(f.Ctx, a.ID, doing, 0)
	require.NoError(t, err)
	assert.Equal(t, "In Progress", res.Value.Status)
	assert.Equal(t, 0, res.Value.Order)

	front, err := f.Engine.CreateCard(f.Ctx, todo, agile.NewCard{Title: "front", Position: intp(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, front.Value.Order)

	_, err = f.Engine.DeleteCard(f.Ctx, c.ID)
	require.NoError(t, err)

	cards := f.columnCards(b.ID, todo)
	assert.Equal(t, []string{"front", "d", "b"}, cardTitles(cards))
	var orders []int
	for _, c := range cards {
		orders = append(orders, c.Order)
	}
	requireDense(t, orders)
	assert.Equal(t, []int{0, 1, 2}, orders)
}

func testWIPLimitIsAdvisory(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	doing, err := f.Engine.UpdateColumn(f.Ctx, b.Columns[1].ID, agile.ColumnPatch{WIPLimit: intp(1)})
	require.NoError(t, err)

	first, err := f.Engine.CreateCard(f.Ctx, doing.ID, agile.NewCard{Title: "first"})
	require.NoError(t, err)
	assert.False(t, first.WipExceeded())

	second := f.Card(b.Columns[0].ID, "second")
	f.Events.Reset()
	res, err := f.Engine.MoveCard(f.Ctx, second.ID, doing.ID, 1)
	require.NoError(t, err, "the limit never blocks a move")
	assert.True(t, res.WipExceeded())
	assert.Equal(t, doing.ID, res.Value.ColumnID)
	assert.Equal(t, []agile.EventKind{agile.EventWipExceeded}, f.Events.Kinds())
	assert.Equal(t, doing.ID, f.Events.Events()[0].ColumnID)
	assert.Equal(t, "tester", f.Events.Events()[0].Actor)

	res, err = f.Engine.MoveCard(f.Ctx, second.ID, doing.ID, 0)
	require.NoError(t, err)
	assert.False(t, res.WipExceeded(), "reordering inside the column does not raise its count")

	view, err := f.Engine.GetBoard(f.Ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Columns[1].CardCount)
	assert.True(t, view.Columns[1].OverWIP)
	assert.False(t, view.Columns[0].OverWIP)
}

func testDoneColumnBridge(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	todo, doing, done := b.Columns[0].ID, b.Columns[1].ID, b.Columns[2].ID
	item := f.Item("Login", 5)

	res, err := f.Engine.CreateCard(f.Ctx, todo, agile.NewCard{Title: "Login", BacklogItemID: &item.ID})
	require.NoError(t, err)
	card := res.Value
	require.NotNil(t, card.BacklogItemID)
	assert.Equal(t, card.ID, *f.item(item.ID).CardID)

	f.Events.Reset()
	_, err = f.Engine.MoveCard(f.Ctx, card.ID, done, 0)
	require.NoError(t, err)
	it := f.item(item.ID)
	assert.Equal(t, agile.StatusDone, it.Status)
	require.NotNil(t, it.CompletedAt)
	assert.Equal(t, []agile.EventKind{agile.EventCardCompleted}, f.Events.Kinds())
	assert.Equal(t, item.ID, f.Events.Events()[0].ItemID)

	_, err = f.Engine.MoveCard(f.Ctx, card.ID, doing, 0)
	require.NoError(t, err)
	it = f.item(item.ID)
	assert.Equal(t, agile.StatusInProgress, it.Status, "reopened work goes back to in progress, never new")
	assert.Nil(t, it.CompletedAt)

	_, err = f.Engine.MoveCard(f.Ctx, card.ID, todo, 0)
	require.NoError(t, err)
	assert.Equal(t, agile.StatusInProgress, f.item(item.ID).Status)

	// Creating a linked card straight into a done column completes the item.
	other := f.Item("Signup", 2)
	_, err = f.Engine.CreateCard(f.Ctx, done, agile.NewCard{Title: "Signup", BacklogItemID: &other.ID})
	require.NoError(t, err)
	assert.Equal(t, agile.StatusDone, f.item(other.ID).Status)
}

func testItemDoneMovesCard(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	done := b.Columns[2].ID
	f.Card(done, "already done")
	item := f.Item("Report", 3)
	res, err := f.Engine.CreateCard(f.Ctx, b.Columns[1].ID, agile.NewCard{Title: "Report", BacklogItemID: &item.ID})
	require.NoError(t, err)

	f.Events.Reset()
	st, err := f.Engine.UpdateStatus(f.Ctx, item.ID, agile.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, agile.StatusDone, st.Value.Status)
	assert.Empty(t, st.Warnings)

	card := f.card(res.Value.ID)
	assert.Equal(t, done, card.ColumnID)
	assert.Equal(t, 1, card.Order, "appended after the cards already there")
	assert.Equal(t, "Done", card.Status)
	assert.Equal(t, []agile.EventKind{agile.EventCardCompleted}, f.Events.Kinds())
}

func testItemDoneWithoutDoneColumn(t *testing.T, f *Fixture) {
	b, err := f.Engine.CreateBoard(f.Ctx, agile.NewBoard{
		ProjectID: projectID,
		Name:      "Flow",
		Columns:   []agile.NewColumn{{Name: "Open"}, {Name: "Closed", IsDoneColumn: boolp(false)}},
	})
	require.NoError(t, err)
	item := f.Item("Orphan", 1)
	res, err := f.Engine.CreateCard(f.Ctx, b.Columns[0].ID, agile.NewCard{Title: "Orphan", BacklogItemID: &item.ID})
	require.NoError(t, err)

	st, err := f.Engine.UpdateStatus(f.Ctx, item.ID, agile.StatusDone)
	require.NoError(t, err, "bridge problems never fail the primary action")
	assert.True(t, st.Has(agile.WarningBridgeInconsistent))
	assert.Equal(t, agile.StatusDone, st.Value.Status)
	assert.Equal(t, b.Columns[0].ID, f.card(res.Value.ID).ColumnID)
}

func testLinkRules(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	one := f.Card(b.Columns[0].ID, "one")
	two := f.Card(b.Columns[0].ID, "two")
	item := f.Item("Shared", 1)

	res, err := f.Engine.LinkCard(f.Ctx, one.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, *res.Value.BacklogItemID)

	_, err = f.Engine.LinkCard(f.Ctx, two.ID, item.ID)
	assert.ErrorIs(t, err, agile.ErrInvalidInput, "item already linked elsewhere")

	other := f.Item("Other", 1)
	_, err = f.Engine.LinkCard(f.Ctx, one.ID, other.ID)
	assert.ErrorIs(t, err, agile.ErrInvalidInput, "card already linked elsewhere")

	un, err := f.Engine.UnlinkCard(f.Ctx, one.ID)
	require.NoError(t, err)
	assert.Nil(t, un.Value.BacklogItemID)
	assert.Nil(t, f.item(item.ID).CardID)

	foreign, err := f.Engine.CreateItem(f.Ctx, "proj-2", agile.NewItem{Title: "Foreign"})
	require.NoError(t, err)
	res, err = f.Engine.LinkCard(f.Ctx, two.ID, foreign.ID)
	require.NoError(t, err, "project mismatch is only a warning")
	assert.True(t, res.Has(agile.WarningBridgeInconsistent))
}

func testDeleteCardClearsLink(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	item := f.Item("Keep me", 2)
	res, err := f.Engine.CreateCard(f.Ctx, b.Columns[0].ID, agile.NewCard{Title: "Gone", BacklogItemID: &item.ID})
	require.NoError(t, err)

	_, err = f.Engine.DeleteCard(f.Ctx, res.Value.ID)
	require.NoError(t, err)

	_, err = f.Engine.GetCard(f.Ctx, res.Value.ID)
	assert.True(t, agile.IsNotFound(err))
	it := f.item(item.ID)
	assert.Nil(t, it.CardID)
	assert.Equal(t, agile.StatusNew, it.Status)
}

func testMoveItemRoundTrip(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	s := f.Sprint(b.ID, "Sprint 1")
	f.Item("a", 1)
	bi := f.Item("b", 2)
	f.Item("c", 3)

	res, err := f.Engine.MoveItem(f.Ctx, bi.ID, agile.BacklogSprint, s.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, agile.BacklogSprint, res.Value.Type)
	assert.Equal(t, s.ID, *res.Value.SprintID)

	product, err := f.Engine.ProductBacklog(f.Ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, itemTitles(product))
	assert.Equal(t, []int{0, 1}, itemOrders(product))

	sprint, err := f.Engine.SprintBacklog(f.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, itemTitles(sprint))

	res, err = f.Engine.MoveItem(f.Ctx, bi.ID, agile.BacklogProduct, "", 0)
	require.NoError(t, err)
	assert.Equal(t, agile.BacklogProduct, res.Value.Type)
	assert.Nil(t, res.Value.SprintID)

	product, err = f.Engine.ProductBacklog(f.Ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, itemTitles(product))
	assert.Equal(t, []int{0, 1, 2}, itemOrders(product))

	sprint, err = f.Engine.SprintBacklog(f.Ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, sprint)

	before := f.Store.Writes()
	_, err = f.Engine.MoveItem(f.Ctx, bi.ID, agile.BacklogProduct, "", 0)
	require.NoError(t, err)
	assert.Equal(t, before, f.Store.Writes())
}

func testMoveItemDestinations(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	s := f.Sprint(b.ID, "Sprint 1")
	item := f.Item("a", 1)

	foreignBoard, err := f.Engine.CreateBoard(f.Ctx, agile.NewBoard{ProjectID: "proj-2", Name: "Other"})
	require.NoError(t, err)
	foreignSprint, err := f.Engine.CreateSprint(f.Ctx, foreignBoard.ID, agile.NewSprint{Name: "Theirs"})
	require.NoError(t, err)

	_, err = f.Engine.MoveItem(f.Ctx, item.ID, agile.BacklogSprint, foreignSprint.ID, 0)
	assert.ErrorIs(t, err, agile.ErrInvalidDestination)

	_, err = f.Engine.MoveItem(f.Ctx, item.ID, agile.BacklogProduct, s.ID, 0)
	assert.ErrorIs(t, err, agile.ErrInvalidDestination)

	_, err = f.Engine.MoveItem(f.Ctx, item.ID, agile.BacklogSprint, "", 0)
	assert.ErrorIs(t, err, agile.ErrInvalidDestination)

	_, err = f.Engine.MoveItem(f.Ctx, item.ID, agile.BacklogSprint, "missing", 0)
	assert.True(t, agile.IsNotFound(err))

	it := f.item(item.ID)
	assert.Equal(t, agile.BacklogProduct, it.Type)
	assert.Nil(t, it.SprintID)
}

func testItemSprintSyncsCard(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	s := f.Sprint(b.ID, "Sprint 1")
	item := f.Item("a", 1)
	res, err := f.Engine.CreateCard(f.Ctx, b.Columns[1].ID, agile.NewCard{Title: "a", BacklogItemID: &item.ID})
	require.NoError(t, err)

	f.Commit(item.ID, s.ID)
	card := f.card(res.Value.ID)
	require.NotNil(t, card.SprintID)
	assert.Equal(t, s.ID, *card.SprintID)
	assert.Equal(t, b.Columns[1].ID, card.ColumnID, "the card keeps its column")

	_, err = f.Engine.MoveItem(f.Ctx, item.ID, agile.BacklogProduct, "", 0)
	require.NoError(t, err)
	assert.Nil(t, f.card(res.Value.ID).SprintID)
}

func testRemoveItem(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	s := f.Sprint(b.ID, "Sprint 1")
	keep := f.Item("keep", 2)
	drop := f.Item("drop", 3)
	f.Commit(keep.ID, s.ID)
	f.Commit(drop.ID, s.ID)
	res, err := f.Engine.CreateCard(f.Ctx, b.Columns[0].ID, agile.NewCard{Title: "drop", BacklogItemID: &drop.ID})
	require.NoError(t, err)
	_, err = f.Engine.StartSprint(f.Ctx, s.ID)
	require.NoError(t, err)

	removed, err := f.Engine.Remove(f.Ctx, drop.ID)
	require.NoError(t, err)
	assert.Equal(t, agile.StatusRemoved, removed.Value.Status)
	assert.Nil(t, removed.Value.CardID)

	card := f.card(res.Value.ID)
	assert.Nil(t, card.BacklogItemID, "the link is cleared")
	assert.Equal(t, b.Columns[0].ID, card.ColumnID, "the card itself is untouched")

	backlog, err := f.Engine.SprintBacklog(f.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, itemTitles(backlog))
	assert.Equal(t, []int{0}, itemOrders(backlog))

	audit, err := f.Engine.RemovedItems(f.Ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, []string{"drop"}, itemTitles(audit))
	assert.Equal(t, agile.StatusRemoved, f.item(drop.ID).Status)

	p, err := f.Engine.SprintProgress(f.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.CommittedPoints, "removed items no longer count")

	_, err = f.Engine.Remove(f.Ctx, drop.ID)
	assert.ErrorIs(t, err, agile.ErrInvalidState)
	_, err = f.Engine.UpdateStatus(f.Ctx, drop.ID, agile.StatusReady)
	assert.ErrorIs(t, err, agile.ErrInvalidState)
	_, err = f.Engine.MoveItem(f.Ctx, drop.ID, agile.BacklogProduct, "", 0)
	assert.ErrorIs(t, err, agile.ErrInvalidState)
	_, err = f.Engine.UpdatePriority(f.Ctx, drop.ID, agile.PriorityHigh)
	assert.ErrorIs(t, err, agile.ErrInvalidState)
}

func testStatusMachine(t *testing.T, f *Fixture) {
	item := f.Item("flow", 1)

	// Skipping states is allowed.
	res, err := f.Engine.UpdateStatus(f.Ctx, item.ID, agile.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, agile.StatusInProgress, res.Value.Status)
	res, err = f.Engine.UpdateStatus(f.Ctx, item.ID, agile.StatusNew)
	require.NoError(t, err)
	assert.Equal(t, agile.StatusNew, res.Value.Status)

	_, err = f.Engine.UpdateStatus(f.Ctx, item.ID, "bogus")
	assert.ErrorIs(t, err, agile.ErrInvalidInput)

	res, err = f.Engine.UpdateStatus(f.Ctx, item.ID, agile.StatusDone)
	require.NoError(t, err)
	require.NotNil(t, res.Value.CompletedAt)

	_, err = f.Engine.UpdateStatus(f.Ctx, item.ID, agile.StatusReady)
	assert.ErrorIs(t, err, agile.ErrInvalidState)
	_, err = f.Engine.UpdateStatus(f.Ctx, item.ID, agile.StatusRemoved)
	assert.ErrorIs(t, err, agile.ErrInvalidState, "done items cannot be removed")

	other := f.Item("other", 1)
	res, err = f.Engine.UpdateStatus(f.Ctx, other.ID, agile.StatusRemoved)
	require.NoError(t, err)
	assert.Equal(t, agile.StatusRemoved, res.Value.Status)

	pri, err := f.Engine.UpdatePriority(f.Ctx, item.ID, agile.PriorityCritical)
	require.NoError(t, err)
	assert.Equal(t, agile.PriorityCritical, pri.Priority)

	as, err := f.Engine.Assign(f.Ctx, item.ID, strp("user-7"))
	require.NoError(t, err)
	assert.Equal(t, "user-7", *as.AssigneeID)
	as, err = f.Engine.Assign(f.Ctx, item.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, as.AssigneeID)

	up, err := f.Engine.UpdateItem(f.Ctx, item.ID, agile.ItemPatch{Title: strp("renamed"), StoryPoints: intp(8)})
	require.NoError(t, err)
	assert.Equal(t, "renamed", up.Title)
	assert.Equal(t, 8, up.Points())
}

func testSprintAlreadyActive(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	first := f.Sprint(b.ID, "Sprint 1")
	second := f.Sprint(b.ID, "Sprint 2")

	_, err := f.Engine.StartSprint(f.Ctx, first.ID)
	require.NoError(t, err)
	f.Events.Reset()

	_, err = f.Engine.StartSprint(f.Ctx, second.ID)
	require.ErrorIs(t, err, agile.ErrSprintAlreadyActive)
	assert.Empty(t, f.Events.Events())

	s1, err := f.Engine.GetSprint(f.Ctx, first.ID)
	require.NoError(t, err)
	s2, err := f.Engine.GetSprint(f.Ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, agile.SprintActive, s1.Status)
	assert.Equal(t, agile.SprintPlanning, s2.Status)

	_, err = f.Engine.StartSprint(f.Ctx, first.ID)
	assert.ErrorIs(t, err, agile.ErrInvalidState)
	_, err = f.Engine.CompleteSprint(f.Ctx, second.ID)
	assert.ErrorIs(t, err, agile.ErrInvalidState)

	// A sprint on another board is independent.
	other := f.Board("Other")
	_, err = f.Engine.StartSprint(f.Ctx, f.Sprint(other.ID, "Elsewhere").ID)
	assert.NoError(t, err)
}

func testCompleteSprint(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	s := f.Sprint(b.ID, "Sprint 1")
	a := f.Item("A", 3)
	bi := f.Item("B", 5)
	f.Commit(a.ID, s.ID)
	f.Commit(bi.ID, s.ID)

	f.Events.Reset()
	started, err := f.Engine.StartSprint(f.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, started.PlannedStoryPoints)
	require.NotNil(t, started.StartDate)
	assert.True(t, started.StartDate.Equal(Epoch))

	// Items added after the start keep the baseline.
	late := f.Item("late", 2)
	f.Commit(late.ID, s.ID)

	f.Clock.Advance(4 * day)
	_, err = f.Engine.UpdateStatus(f.Ctx, a.ID, agile.StatusDone)
	require.NoError(t, err)
	_, err = f.Engine.UpdateStatus(f.Ctx, bi.ID, agile.StatusInProgress)
	require.NoError(t, err)

	live, err := f.Engine.GetSprint(f.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, live.CompletedStoryPoints, "stored totals follow the backlog while active")

	done, err := f.Engine.CompleteSprint(f.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, agile.SprintCompleted, done.Status)
	assert.Equal(t, 8, done.PlannedStoryPoints)
	assert.Equal(t, 3, done.CompletedStoryPoints)
	assert.InDelta(t, 0.75, done.Velocity, 0.001)
	require.NotNil(t, done.EndDate)
	assert.True(t, done.EndDate.Equal(Epoch.Add(4*day)))
	assert.Equal(t, []agile.EventKind{agile.EventSprintStarted, agile.EventSprintCompleted}, f.Events.Kinds())

	b2 := f.item(bi.ID)
	assert.Equal(t, agile.StatusInProgress, b2.Status)
	require.NotNil(t, b2.SprintID)
	assert.Equal(t, s.ID, *b2.SprintID, "unfinished work is never moved automatically")

	// Completed totals are frozen.
	_, err = f.Engine.UpdateStatus(f.Ctx, bi.ID, agile.StatusDone)
	require.NoError(t, err)
	frozen, err := f.Engine.GetSprint(f.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, frozen.CompletedStoryPoints)

	_, err = f.Engine.UpdateSprint(f.Ctx, s.ID, agile.SprintPatch{EndDate: timep(Epoch.Add(9 * day))})
	assert.ErrorIs(t, err, agile.ErrInvalidState)
	renamed, err := f.Engine.UpdateSprint(f.Ctx, s.ID, agile.SprintPatch{Name: strp("Sprint One")})
	require.NoError(t, err)
	assert.Equal(t, "Sprint One", renamed.Name)
}

func testCarryOver(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	s := f.Sprint(b.ID, "Sprint 1")
	next := f.Sprint(b.ID, "Sprint 2")
	f.Item("existing", 1)
	a := f.Item("A", 3)
	bi := f.Item("B", 5)
	c := f.Item("C", 1)
	for _, it := range []*agile.BacklogItem{a, bi, c} {
		f.Commit(it.ID, s.ID)
	}
	_, err := f.Engine.StartSprint(f.Ctx, s.ID)
	require.NoError(t, err)

	_, err = f.Engine.CarryOver(f.Ctx, s.ID, agile.BacklogProduct, "")
	assert.ErrorIs(t, err, agile.ErrInvalidState, "only completed sprints carry over")

	_, err = f.Engine.UpdateStatus(f.Ctx, a.ID, agile.StatusDone)
	require.NoError(t, err)
	_, err = f.Engine.CompleteSprint(f.Ctx, s.ID)
	require.NoError(t, err)

	_, err = f.Engine.MoveItem(f.Ctx, bi.ID, agile.BacklogSprint, s.ID, 0)
	assert.ErrorIs(t, err, agile.ErrInvalidDestination, "completed sprints take no new work")

	_, err = f.Engine.CarryOver(f.Ctx, s.ID, agile.BacklogSprint, s.ID)
	assert.ErrorIs(t, err, agile.ErrInvalidDestination)

	res, err := f.Engine.CarryOver(f.Ctx, s.ID, agile.BacklogSprint, next.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, itemTitles(res.Value))

	left, err := f.Engine.SprintBacklog(f.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, itemTitles(left))
	assert.Equal(t, []int{0}, itemOrders(left))

	moved, err := f.Engine.SprintBacklog(f.Ctx, next.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, itemTitles(moved))
	assert.Equal(t, []int{0, 1}, itemOrders(moved))
}

func testSprintProgress(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	s, err := f.Engine.CreateSprint(f.Ctx, b.ID, agile.NewSprint{
		Name:         "Sprint 1",
		EndDate:      timep(Epoch.Add(10 * day)),
		TeamCapacity: intp(20),
	})
	require.NoError(t, err)
	small := f.Item("small", 4)
	big := f.Item("big", 6)
	f.Commit(small.ID, s.ID)
	f.Commit(big.ID, s.ID)

	p, err := f.Engine.SprintProgress(f.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, p.PlannedPoints, "planning sprints report the live commitment")
	assert.Equal(t, 0, p.ElapsedPercentage)
	require.NotNil(t, p.CapacityUtilization)
	assert.Equal(t, 50, *p.CapacityUtilization)

	_, err = f.Engine.StartSprint(f.Ctx, s.ID)
	require.NoError(t, err)
	f.Clock.Advance(5 * day)

	p, err = f.Engine.SprintProgress(f.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, p.ElapsedPercentage)
	assert.Equal(t, 0, p.CompletionPercentage)
	assert.False(t, p.OnTrack)
	assert.Equal(t, 10, p.RemainingPoints)

	_, err = f.Engine.UpdateStatus(f.Ctx, small.ID, agile.StatusDone)
	require.NoError(t, err)
	p, err = f.Engine.SprintProgress(f.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, p.CompletedPoints)
	assert.Equal(t, 40, p.CompletionPercentage)
	assert.True(t, p.OnTrack, "within the ten point tolerance")
	assert.Equal(t, 6, p.RemainingPoints)
	assert.InDelta(t, 0.8, p.Velocity, 0.001)

	stored, err := f.Engine.GetSprint(f.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, p.CompletedPoints, stored.CompletedStoryPoints, "stored and computed totals agree")
	assert.InDelta(t, p.Velocity, stored.Velocity, 0.001)
}

func testBurndown(t *testing.T, f *Fixture) {
	b := f.Board("Team")
	s, err := f.Engine.CreateSprint(f.Ctx, b.ID, agile.NewSprint{Name: "Sprint 1", EndDate: timep(Epoch.Add(4 * day))})
	require.NoError(t, err)
	three := f.Item("three", 3)
	five := f.Item("five", 5)
	f.Commit(three.ID, s.ID)
	f.Commit(five.ID, s.ID)

	_, err = f.Engine.Burndown(f.Ctx, s.ID)
	assert.ErrorIs(t, err, agile.ErrInvalidState, "no start date yet")

	_, err = f.Engine.StartSprint(f.Ctx, s.ID)
	require.NoError(t, err)
	f.Clock.Advance(day)
	_, err = f.Engine.UpdateStatus(f.Ctx, three.ID, agile.StatusDone)
	require.NoError(t, err)

	points, err := f.Engine.Burndown(f.Ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, points, 5)

	var ideal []float64
	for _, p := range points {
		ideal = append(ideal, p.Ideal)
	}
	assert.Equal(t, []float64{8, 6, 4, 2, 0}, ideal)

	require.NotNil(t, points[0].Remaining)
	require.NotNil(t, points[1].Remaining)
	assert.Equal(t, 8, *points[0].Remaining)
	assert.Equal(t, 5, *points[1].Remaining)
	for _, p := range points[2:] {
		assert.Nil(t, p.Remaining, "days ahead have no actuals")
	}
}

func testExampleScenario(t *testing.T, f *Fixture) {
	b := f.Board("Sprint 1")
	todo, doing, done := b.Columns[0].ID, b.Columns[1].ID, b.Columns[2].ID
	s := f.Sprint(b.ID, "Sprint 1")
	item := f.Item("Fix login bug", 5)
	f.Commit(item.ID, s.ID)
	_, err := f.Engine.StartSprint(f.Ctx, s.ID)
	require.NoError(t, err)

	res, err := f.Engine.CreateCard(f.Ctx, todo, agile.NewCard{Title: "Fix login bug", BacklogItemID: &item.ID})
	require.NoError(t, err)
	card := res.Value
	assert.Equal(t, 0, card.Order)
	assert.Equal(t, "To Do", card.Status)
	require.NotNil(t, card.SprintID)
	assert.Equal(t, s.ID, *card.SprintID)

	moved, err := f.Engine.MoveCard(f.Ctx, card.ID, doing, 0)
	require.NoError(t, err)
	assert.Equal(t, doing, moved.Value.ColumnID)
	assert.Equal(t, 0, moved.Value.Order)

	moved, err = f.Engine.MoveCard(f.Ctx, card.ID, done, 0)
	require.NoError(t, err)
	assert.Equal(t, done, moved.Value.ColumnID)
	assert.Equal(t, agile.StatusDone, f.item(item.ID).Status)

	p, err := f.Engine.SprintProgress(f.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, p.CompletedPoints)
	assert.Equal(t, 100, p.CompletionPercentage)

	stored, err := f.Engine.GetSprint(f.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.CompletedStoryPoints)
}

func testForbidden(t *testing.T, f *Fixture) {
	b := f.Board("Team")

	var seen []string
	deny := agile.AuthorizerFunc(func(ctx context.Context, actor string, action agile.Action, resourceID string) (bool, error) {
		seen = append(seen, actor+" "+string(action))
		return action != agile.ActionDeleteColumn, nil
	})
	locked := agile.NewEngine(f.Store, agile.WithAuthorizer(deny), agile.WithClock(f.Clock.Now))
	ctx := agile.WithActor(context.Background(), "alice")

	err := locked.DeleteColumn(ctx, b.Columns[0].ID)
	require.ErrorIs(t, err, agile.ErrForbidden)
	assert.Equal(t, agile.CategoryForbidden, agile.KindOf(err).Category())
	assert.Equal(t, []string{"alice column.delete"}, seen)

	view, err := locked.GetBoard(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, view.Columns, 3)

	failing := agile.NewEngine(f.Store, agile.WithAuthorizer(agile.AuthorizerFunc(
		func(context.Context, string, agile.Action, string) (bool, error) {
			return false, errors.New("policy service down")
		})))
	_, err = failing.CreateItem(ctx, projectID, agile.NewItem{Title: "x"})
	require.ErrorIs(t, err, agile.ErrStorage)
	assert.Equal(t, agile.CategorySystemic, agile.KindOf(err).Category())
}

func intp(n int) *int              { return &n }
func strp(s string) *string        { return &s }
func boolp(b bool) *bool           { return &b }
func timep(t time.Time) *time.Time { return &t }
