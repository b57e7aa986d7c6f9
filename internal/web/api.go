package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
)

// envelope is the shape of every successful response.
type envelope struct {
	Data     any             `json:"data"`
	Warnings []agile.Warning `json:"warnings,omitempty"`
}

// errorBody is the shape of every failed response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// cardJSON adds rendered Markdown to a card.
type cardJSON struct {
	*agile.Card
	DescriptionHTML string `json:"descriptionHtml,omitempty"`
}

// itemJSON adds rendered Markdown to a backlog item.
type itemJSON struct {
	*agile.BacklogItem
	DescriptionHTML string `json:"descriptionHtml,omitempty"`
}

func (s *Server) card(c *agile.Card) cardJSON {
	return cardJSON{Card: c, DescriptionHTML: s.markdown(c.Description)}
}

func (s *Server) item(i *agile.BacklogItem) itemJSON {
	return itemJSON{BacklogItem: i, DescriptionHTML: s.markdown(i.Description)}
}

func (s *Server) items(list []*agile.BacklogItem) []itemJSON {
	out := make([]itemJSON, len(list))
	for n, i := range list {
		out[n] = s.item(i)
	}
	return out
}

// --- Boards ---

func (s *Server) apiListBoards(w http.ResponseWriter, r *http.Request) {
	boards, err := s.engine.ListBoards(r.Context(), r.URL.Query().Get("projectId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, boards, nil)
}

func (s *Server) apiCreateBoard(w http.ResponseWriter, r *http.Request) {
	var req agile.NewBoard
	if !s.decode(w, r, &req) {
		return
	}
	view, err := s.engine.CreateBoard(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, view, nil)
}

func (s *Server) apiGetBoard(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.GetBoard(r.Context(), chi.URLParam(r, "boardID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, view, nil)
}

func (s *Server) apiUpdateBoardSettings(w http.ResponseWriter, r *http.Request) {
	var req agile.BoardSettings
	if !s.decode(w, r, &req) {
		return
	}
	board, err := s.engine.UpdateBoardSettings(r.Context(), chi.URLParam(r, "boardID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, board, nil)
}

// --- Columns ---

func (s *Server) apiCreateColumn(w http.ResponseWriter, r *http.Request) {
	var req agile.NewColumn
	if !s.decode(w, r, &req) {
		return
	}
	col, err := s.engine.CreateColumn(r.Context(), chi.URLParam(r, "boardID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, col, nil)
}

func (s *Server) apiUpdateColumn(w http.ResponseWriter, r *http.Request) {
	var req agile.ColumnPatch
	if !s.decode(w, r, &req) {
		return
	}
	col, err := s.engine.UpdateColumn(r.Context(), chi.URLParam(r, "columnID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, col, nil)
}

func (s *Server) apiDeleteColumn(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteColumn(r.Context(), chi.URLParam(r, "columnID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveColumnRequest is the request body for moving a column.
type MoveColumnRequest struct {
	BoardID string `json:"boardId,omitempty"`
	Index   *int   `json:"index,omitempty"`
}

func (s *Server) apiMoveColumn(w http.ResponseWriter, r *http.Request) {
	var req MoveColumnRequest
	if !s.decode(w, r, &req) {
		return
	}
	col, err := s.engine.MoveColumn(r.Context(), chi.URLParam(r, "columnID"), req.BoardID, indexOrEnd(req.Index))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, col, nil)
}

// --- Cards ---

func (s *Server) apiCreateCard(w http.ResponseWriter, r *http.Request) {
	var req agile.NewCard
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.CreateCard(r.Context(), chi.URLParam(r, "columnID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, s.card(res.Value), res.Warnings)
}

func (s *Server) apiGetColumn(w http.ResponseWriter, r *http.Request) {
	col, err := s.engine.GetColumn(r.Context(), chi.URLParam(r, "columnID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, col, nil)
}

func (s *Server) apiGetCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.engine.GetCard(r.Context(), chi.URLParam(r, "cardID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, s.card(card), nil)
}

func (s *Server) apiUpdateCard(w http.ResponseWriter, r *http.Request) {
	var req agile.CardPatch
	if !s.decode(w, r, &req) {
		return
	}
	card, err := s.engine.UpdateCard(r.Context(), chi.URLParam(r, "cardID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, s.card(card), nil)
}

func (s *Server) apiDeleteCard(w http.ResponseWriter, r *http.Request) {
	warnings, err := s.engine.DeleteCard(r.Context(), chi.URLParam(r, "cardID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, nil, warnings)
}

// MoveCardRequest is the request body for moving a card.
type MoveCardRequest struct {
	ColumnID string `json:"columnId"`
	Index    *int   `json:"index,omitempty"`
}

func (s *Server) apiMoveCard(w http.ResponseWriter, r *http.Request) {
	var req MoveCardRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.MoveCard(r.Context(), chi.URLParam(r, "cardID"), req.ColumnID, indexOrEnd(req.Index))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, s.card(res.Value), res.Warnings)
}

// LinkCardRequest is the request body for linking a card to a backlog item.
type LinkCardRequest struct {
	ItemID string `json:"itemId"`
}

func (s *Server) apiLinkCard(w http.ResponseWriter, r *http.Request) {
	var req LinkCardRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.LinkCard(r.Context(), chi.URLParam(r, "cardID"), req.ItemID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, s.card(res.Value), res.Warnings)
}

func (s *Server) apiUnlinkCard(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.UnlinkCard(r.Context(), chi.URLParam(r, "cardID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, s.card(res.Value), res.Warnings)
}

// --- Backlog ---

func (s *Server) apiProductBacklog(w http.ResponseWriter, r *http.Request) {
	items, err := s.engine.ProductBacklog(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, s.items(items), nil)
}

func (s *Server) apiRemovedItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.engine.RemovedItems(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, s.items(items), nil)
}

func (s *Server) apiCreateItem(w http.ResponseWriter, r *http.Request) {
	var req agile.NewItem
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.engine.CreateItem(r.Context(), chi.URLParam(r, "projectID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, s.item(item), nil)
}

func (s *Server) apiGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.engine.GetItem(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, s.item(item), nil)
}

func (s *Server) apiUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req agile.ItemPatch
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.engine.UpdateItem(r.Context(), chi.URLParam(r, "itemID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, s.item(item), nil)
}

func (s *Server) apiRemoveItem(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Remove(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, s.item(res.Value), res.Warnings)
}

// MoveItemRequest is the request body for moving a backlog item between or within lists.
type MoveItemRequest struct {
	Type     agile.BacklogType `json:"type"`
	SprintID string            `json:"sprintId,omitempty"`
	Index    *int              `json:"index,omitempty"`
}

func (s *Server) apiMoveItem(w http.ResponseWriter, r *http.Request) {
	var req MoveItemRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.MoveItem(r.Context(), chi.URLParam(r, "itemID"), req.Type, req.SprintID, indexOrEnd(req.Index))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, s.item(res.Value), res.Warnings)
}

func (s *Server) apiUpdatePriority(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Priority agile.Priority `json:"priority"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.engine.UpdatePriority(r.Context(), chi.URLParam(r, "itemID"), req.Priority)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, s.item(item), nil)
}

func (s *Server) apiUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status agile.ItemStatus `json:"status"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.UpdateStatus(r.Context(), chi.URLParam(r, "itemID"), req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, s.item(res.Value), res.Warnings)
}

func (s *Server) apiAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssigneeID *string `json:"assigneeId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.engine.Assign(r.Context(), chi.URLParam(r, "itemID"), req.AssigneeID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, s.item(item), nil)
}

// --- Sprints ---

func (s *Server) apiListSprints(w http.ResponseWriter, r *http.Request) {
	sprints, err := s.engine.ListSprints(r.Context(), chi.URLParam(r, "boardID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, sprints, nil)
}

func (s *Server) apiCreateSprint(w http.ResponseWriter, r *http.Request) {
	var req agile.NewSprint
	if !s.decode(w, r, &req) {
		return
	}
	sprint, err := s.engine.CreateSprint(r.Context(), chi.URLParam(r, "boardID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, sprint, nil)
}

func (s *Server) apiGetSprint(w http.ResponseWriter, r *http.Request) {
	sprint, err := s.engine.GetSprint(r.Context(), chi.URLParam(r, "sprintID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, sprint, nil)
}

func (s *Server) apiUpdateSprint(w http.ResponseWriter, r *http.Request) {
	var req agile.SprintPatch
	if !s.decode(w, r, &req) {
		return
	}
	sprint, err := s.engine.UpdateSprint(r.Context(), chi.URLParam(r, "sprintID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, sprint, nil)
}

func (s *Server) apiSprintBacklog(w http.ResponseWriter, r *http.Request) {
	items, err := s.engine.SprintBacklog(r.Context(), chi.URLParam(r, "sprintID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, s.items(items), nil)
}

func (s *Server) apiStartSprint(w http.ResponseWriter, r *http.Request) {
	sprint, err := s.engine.StartSprint(r.Context(), chi.URLParam(r, "sprintID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, sprint, nil)
}

func (s *Server) apiCompleteSprint(w http.ResponseWriter, r *http.Request) {
	sprint, err := s.engine.CompleteSprint(r.Context(), chi.URLParam(r, "sprintID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, sprint, nil)
}

// CarryOverRequest is the request body for carrying unfinished items out of a completed sprint.
type CarryOverRequest struct {
	Type     agile.BacklogType `json:"type"`
	SprintID string            `json:"sprintId,omitempty"`
}

func (s *Server) apiCarryOver(w http.ResponseWriter, r *http.Request) {
	var req CarryOverRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.CarryOver(r.Context(), chi.URLParam(r, "sprintID"), req.Type, req.SprintID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, s.items(res.Value), res.Warnings)
}

func (s *Server) apiSprintProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.SprintProgress(r.Context(), chi.URLParam(r, "sprintID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, p, nil)
}

func (s *Server) apiBurndown(w http.ResponseWriter, r *http.Request) {
	points, err := s.engine.Burndown(r.Context(), chi.URLParam(r, "sprintID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, points, nil)
}

// --- Helpers ---

// indexOrEnd maps an omitted index to the end of the destination list.
func indexOrEnd(index *int) int {
	if index == nil {
		return math.MaxInt
	}
	return *index
}

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// decode reads a JSON body into v. An empty body leaves v zero.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.jsonError(w, http.StatusRequestEntityTooLarge, string(agile.KindInvalidInput),
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		s.jsonError(w, http.StatusBadRequest, string(agile.KindInvalidInput), fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) ok(w http.ResponseWriter, code int, data any, warnings []agile.Warning) {
	s.jsonResponse(w, code, envelope{Data: data, Warnings: warnings})
}

// statusFor maps an engine error to an HTTP status code.
func statusFor(kind agile.ErrorKind) int {
	switch kind.Category() {
	case agile.CategoryValidation:
		if kind == agile.KindInvalidInput {
			return http.StatusBadRequest
		}
		return http.StatusUnprocessableEntity
	case agile.CategoryConflict:
		return http.StatusConflict
	case agile.CategoryNotFound:
		return http.StatusNotFound
	case agile.CategoryForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := agile.KindOf(err)
	code := statusFor(kind)
	if code == http.StatusInternalServerError {
		s.log.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	s.jsonError(w, code, string(kind), err.Error())
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// jsonError writes a JSON error response.
func (s *Server) jsonError(w http.ResponseWriter, code int, kind, message string) {
	s.jsonResponse(w, code, errorBody{Error: kind, Message: message})
}
