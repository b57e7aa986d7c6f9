package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile/agiletest"
)

type testAPI struct {
	t      *testing.T
	server *Server
	hub    *Hub
	events *agiletest.Recorder
}

func newTestAPI(t *testing.T, opts ...agile.Option) *testAPI {
	t.Helper()
	hub := NewHub(nil)
	events := &agiletest.Recorder{}
	notifier := agile.NotifierFunc(func(ctx context.Context, ev agile.Event) {
		events.Notify(ctx, ev)
		_ = hub.Deliver(ctx, ev)
	})
	clock := agiletest.NewClock(agiletest.Epoch)
	opts = append([]agile.Option{agile.WithClock(clock.Now), agile.WithNotifier(notifier)}, opts...)
	engine := agile.NewEngine(agile.NewState(""), opts...)
	return &testAPI{t: t, server: NewServer(engine, hub, nil), hub: hub, events: events}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "tester")
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	return rec
}

// call performs a request, checks the status and decodes the envelope data into out.
func (a *testAPI) call(method, path string, body any, wantStatus int, out any) []agile.Warning {
	a.t.Helper()
	rec := a.do(method, path, body)
	require.Equal(a.t, wantStatus, rec.Code, rec.Body.String())
	var env struct {
		Data     json.RawMessage `json:"data"`
		Warnings []agile.Warning `json:"warnings"`
	}
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &env))
	if out != nil {
		require.NoError(a.t, json.Unmarshal(env.Data, out))
	}
	return env.Warnings
}

func (a *testAPI) fails(method, path string, body any, wantStatus int, wantKind agile.ErrorKind) {
	a.t.Helper()
	rec := a.do(method, path, body)
	require.Equal(a.t, wantStatus, rec.Code, rec.Body.String())
	var e errorBody
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(a.t, string(wantKind), e.Error)
	assert.NotEmpty(a.t, e.Message)
}

type cardResponse struct {
	agile.Card
	DescriptionHTML string `json:"descriptionHtml"`
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestBoardLifecycle(t *testing.T) {
	a := newTestAPI(t)

	var board agile.BoardView
	a.call(http.MethodPost, "/api/boards", agile.NewBoard{ProjectID: "p1", Name: "Team"}, http.StatusCreated, &board)
	require.Len(t, board.Columns, 3)
	assert.Equal(t, "Done", board.Columns[2].Name)
	assert.True(t, board.Columns[2].IsDoneColumn)

	var boards []agile.Board
	a.call(http.MethodGet, "/api/boards?projectId=p1", nil, http.StatusOK, &boards)
	require.Len(t, boards, 1)

	var col agile.Column
	a.call(http.MethodPost, "/api/boards/"+board.ID+"/columns", agile.NewColumn{Name: "Review"}, http.StatusCreated, &col)
	assert.Equal(t, 3, col.Order)

	a.fails(http.MethodPost, "/api/boards/"+board.ID+"/columns", agile.NewColumn{Name: " review "},
		http.StatusUnprocessableEntity, agile.KindDuplicateColumnName)

	a.call(http.MethodPost, "/api/columns/"+col.ID+"/move", map[string]int{"index": 0}, http.StatusOK, &col)
	assert.Equal(t, 0, col.Order)

	var settings agile.Board
	a.call(http.MethodPut, "/api/boards/"+board.ID+"/settings",
		agile.BoardSettings{MaxColumns: 10, DefaultSprintDays: 7}, http.StatusOK, &settings)
	assert.Equal(t, 10, settings.Settings.MaxColumns)

	rec := a.do(http.MethodDelete, "/api/columns/"+col.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	a.call(http.MethodGet, "/api/boards/"+board.ID, nil, http.StatusOK, &board)
	assert.Len(t, board.Columns, 3)
}

func TestCardFlowThroughBridge(t *testing.T) {
	a := newTestAPI(t)

	var board agile.BoardView
	a.call(http.MethodPost, "/api/boards", agile.NewBoard{ProjectID: "p1", Name: "Team"}, http.StatusCreated, &board)
	todo, done := board.Columns[0], board.Columns[2]

	var item agile.BacklogItem
	a.call(http.MethodPost, "/api/projects/p1/backlog", agile.NewItem{Title: "Login", StoryPoints: intp(3)}, http.StatusCreated, &item)

	var card cardResponse
	a.call(http.MethodPost, "/api/columns/"+todo.ID+"/cards", map[string]any{
		"title":         "Login page",
		"description":   "Needs **OAuth**",
		"backlogItemId": item.ID,
	}, http.StatusCreated, &card)
	assert.Contains(t, card.DescriptionHTML, "<strong>OAuth</strong>")
	require.NotNil(t, card.BacklogItemID)

	a.call(http.MethodPost, "/api/cards/"+card.ID+"/move", MoveCardRequest{ColumnID: done.ID}, http.StatusOK, &card)
	assert.Equal(t, "Done", card.Status)

	a.call(http.MethodGet, "/api/items/"+item.ID, nil, http.StatusOK, &item)
	assert.Equal(t, agile.StatusDone, item.Status)
	assert.Equal(t, []agile.EventKind{agile.EventCardCompleted}, a.events.Kinds())

	a.fails(http.MethodDelete, "/api/columns/"+done.ID, nil, http.StatusConflict, agile.KindColumnNotEmpty)

	rec := a.do(http.MethodDelete, "/api/cards/"+card.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var unlinked agile.BacklogItem
	a.call(http.MethodGet, "/api/items/"+item.ID, nil, http.StatusOK, &unlinked)
	assert.Nil(t, unlinked.CardID)
	assert.Equal(t, agile.StatusDone, unlinked.Status)
}

func TestWIPWarning(t *testing.T) {
	a := newTestAPI(t)

	var board agile.BoardView
	a.call(http.MethodPost, "/api/boards", agile.NewBoard{ProjectID: "p1", Name: "Team"}, http.StatusCreated, &board)
	col := board.Columns[1]
	a.call(http.MethodPatch, "/api/columns/"+col.ID, agile.ColumnPatch{WIPLimit: intp(1)}, http.StatusOK, nil)

	warnings := a.call(http.MethodPost, "/api/columns/"+col.ID+"/cards", agile.NewCard{Title: "one"}, http.StatusCreated, nil)
	assert.Empty(t, warnings)
	warnings = a.call(http.MethodPost, "/api/columns/"+col.ID+"/cards", agile.NewCard{Title: "two"}, http.StatusCreated, nil)
	require.Len(t, warnings, 1)
	assert.Equal(t, agile.WarningWipExceeded, warnings[0].Kind)

	a.call(http.MethodGet, "/api/boards/"+board.ID, nil, http.StatusOK, &board)
	assert.True(t, board.Columns[1].OverWIP)
	assert.Equal(t, 2, board.Columns[1].CardCount)
}

func TestSprintEndpoints(t *testing.T) {
	a := newTestAPI(t)

	var board agile.BoardView
	a.call(http.MethodPost, "/api/boards", agile.NewBoard{ProjectID: "p1", Name: "Team", Type: agile.BoardTypeScrum},
		http.StatusCreated, &board)

	var sprint agile.Sprint
	a.call(http.MethodPost, "/api/boards/"+board.ID+"/sprints", agile.NewSprint{Name: "Sprint 1"}, http.StatusCreated, &sprint)

	var item agile.BacklogItem
	a.call(http.MethodPost, "/api/projects/p1/backlog", agile.NewItem{Title: "A", StoryPoints: intp(5)}, http.StatusCreated, &item)
	a.call(http.MethodPost, "/api/items/"+item.ID+"/move",
		MoveItemRequest{Type: agile.BacklogSprint, SprintID: sprint.ID}, http.StatusOK, &item)
	assert.Equal(t, agile.BacklogSprint, item.Type)

	var backlog []agile.BacklogItem
	a.call(http.MethodGet, "/api/sprints/"+sprint.ID+"/backlog", nil, http.StatusOK, &backlog)
	require.Len(t, backlog, 1)

	a.call(http.MethodPost, "/api/sprints/"+sprint.ID+"/start", nil, http.StatusOK, &sprint)
	assert.Equal(t, agile.SprintActive, sprint.Status)
	assert.Equal(t, 5, sprint.PlannedStoryPoints)

	var other agile.Sprint
	a.call(http.MethodPost, "/api/boards/"+board.ID+"/sprints", agile.NewSprint{Name: "Sprint 2"}, http.StatusCreated, &other)
	a.fails(http.MethodPost, "/api/sprints/"+other.ID+"/start", nil, http.StatusConflict, agile.KindSprintAlreadyActive)

	var progress agile.Progress
	a.call(http.MethodGet, "/api/sprints/"+sprint.ID+"/progress", nil, http.StatusOK, &progress)
	assert.Equal(t, 5, progress.RemainingPoints)

	var burndown []agile.BurndownPoint
	a.call(http.MethodGet, "/api/sprints/"+sprint.ID+"/burndown", nil, http.StatusOK, &burndown)
	assert.NotEmpty(t, burndown)

	a.call(http.MethodPost, "/api/sprints/"+sprint.ID+"/complete", nil, http.StatusOK, &sprint)
	assert.Equal(t, agile.SprintCompleted, sprint.Status)

	var carried []agile.BacklogItem
	a.call(http.MethodPost, "/api/sprints/"+sprint.ID+"/carry-over",
		CarryOverRequest{Type: agile.BacklogProduct}, http.StatusOK, &carried)
	require.Len(t, carried, 1)
	assert.Equal(t, agile.BacklogProduct, carried[0].Type)

	assert.Equal(t, []agile.EventKind{agile.EventSprintStarted, agile.EventSprintCompleted}, a.events.Kinds())
}

func TestItemEndpoints(t *testing.T) {
	a := newTestAPI(t)

	var item agile.BacklogItem
	a.call(http.MethodPost, "/api/projects/p1/backlog", agile.NewItem{Title: "A"}, http.StatusCreated, &item)

	a.call(http.MethodPut, "/api/items/"+item.ID+"/priority", map[string]string{"priority": "critical"}, http.StatusOK, &item)
	assert.Equal(t, agile.PriorityCritical, item.Priority)

	a.call(http.MethodPut, "/api/items/"+item.ID+"/assignee", map[string]string{"assigneeId": "u1"}, http.StatusOK, &item)
	require.NotNil(t, item.AssigneeID)
	assert.Equal(t, "u1", *item.AssigneeID)

	a.call(http.MethodPatch, "/api/items/"+item.ID, agile.ItemPatch{Title: strp("B")}, http.StatusOK, &item)
	assert.Equal(t, "B", item.Title)

	a.call(http.MethodPut, "/api/items/"+item.ID+"/status", map[string]string{"status": "ready"}, http.StatusOK, &item)
	assert.Equal(t, agile.StatusReady, item.Status)

	a.call(http.MethodDelete, "/api/items/"+item.ID, nil, http.StatusOK, &item)
	assert.Equal(t, agile.StatusRemoved, item.Status)

	var removed []agile.BacklogItem
	a.call(http.MethodGet, "/api/projects/p1/removed", nil, http.StatusOK, &removed)
	require.Len(t, removed, 1)

	var backlog []agile.BacklogItem
	a.call(http.MethodGet, "/api/projects/p1/backlog", nil, http.StatusOK, &backlog)
	assert.Empty(t, backlog)

	a.fails(http.MethodPut, "/api/items/"+item.ID+"/status", map[string]string{"status": "new"},
		http.StatusConflict, agile.KindInvalidState)
}

func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t)

	a.fails(http.MethodGet, "/api/cards/missing", nil, http.StatusNotFound, agile.KindNotFound)
	a.fails(http.MethodPost, "/api/boards", agile.NewBoard{ProjectID: "p1"}, http.StatusBadRequest, agile.KindInvalidInput)
	a.fails(http.MethodPost, "/api/boards", map[string]string{"projectID": "p1", "color": "red"},
		http.StatusBadRequest, agile.KindInvalidInput)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/boards", strings.NewReader("{"))
	a.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOversizedBodyRejected(t *testing.T) {
	a := newTestAPI(t)

	body := map[string]string{"title": "big", "description": strings.Repeat("x", maxBodyBytes)}
	a.fails(http.MethodPost, "/api/projects/p1/backlog", body, http.StatusRequestEntityTooLarge, agile.KindInvalidInput)

	var items []*agile.BacklogItem
	a.call(http.MethodGet, "/api/projects/p1/backlog", nil, http.StatusOK, &items)
	assert.Empty(t, items)
}

func TestForbidden(t *testing.T) {
	deny := agile.AuthorizerFunc(func(_ context.Context, actor string, _ agile.Action, _ string) (bool, error) {
		return actor == "admin", nil
	})
	a := newTestAPI(t, agile.WithAuthorizer(deny))

	a.fails(http.MethodPost, "/api/boards", agile.NewBoard{ProjectID: "p1", Name: "Team"}, http.StatusForbidden, agile.KindForbidden)

	req := httptest.NewRequest(http.MethodPost, "/api/boards", strings.NewReader(`{"projectId":"p1","name":"Team"}`))
	req.Header.Set(ActorHeader, "admin")
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(agile.KindInvalidInput))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(agile.KindCrossBoardMoveForbidden))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(agile.KindInvalidDestination))
	assert.Equal(t, http.StatusConflict, statusFor(agile.KindInvalidState))
	assert.Equal(t, http.StatusInternalServerError, statusFor(agile.KindStorage))
}

func TestSSEStreamsEvents(t *testing.T) {
	a := newTestAPI(t)
	ts := httptest.NewServer(a.server)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewReader(resp.Body)
	readEvent := func() []string {
		var out []string
		for {
			line, err := lines.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			if line == "" {
				return out
			}
			out = append(out, line)
		}
	}

	assert.Equal(t, []string{"event: connected", `data: {"status":"connected"}`}, readEvent())
	require.Eventually(t, func() bool { return a.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	var board agile.BoardView
	a.call(http.MethodPost, "/api/boards", agile.NewBoard{ProjectID: "p1", Name: "Team", Type: agile.BoardTypeScrum},
		http.StatusCreated, &board)
	var sprint agile.Sprint
	a.call(http.MethodPost, "/api/boards/"+board.ID+"/sprints", agile.NewSprint{Name: "S1"}, http.StatusCreated, &sprint)
	a.call(http.MethodPost, "/api/sprints/"+sprint.ID+"/start", nil, http.StatusOK, nil)

	ev := readEvent()
	require.Len(t, ev, 3)
	assert.True(t, strings.HasPrefix(ev[0], "id: "))
	assert.Equal(t, "event: SprintStarted", ev[1])
	assert.Contains(t, ev[2], `"sprintId":"`+sprint.ID+`"`)
	assert.Contains(t, ev[2], `"actor":"tester"`)

	cancel()
	require.Eventually(t, func() bool { return a.hub.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_CloseDisconnects(t *testing.T) {
	h := NewHub(nil)
	ch, ok := h.subscribe()
	require.True(t, ok)
	require.NoError(t, h.Deliver(context.Background(), agile.Event{ID: "e1"}))
	assert.Equal(t, "e1", (<-ch).ID)

	h.Close()
	_, open := <-ch
	assert.False(t, open)
	h.unsubscribe(ch)

	_, ok = h.subscribe()
	assert.False(t, ok)
	assert.Zero(t, h.Clients())
}

func intp(n int) *int       { return &n }
func strp(s string) *string { return &s }
