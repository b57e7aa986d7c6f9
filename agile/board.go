package agile

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// NewBoard describes a board to create. Columns may be empty, in which case the template for
// the board type is used.
type NewBoard struct {
	ProjectID string         `json:"projectId"`
	Name      string         `json:"name"`
	Type      BoardType      `json:"type"`
	Settings  *BoardSettings `json:"settings,omitempty"`
	Columns   []NewColumn    `json:"columns,omitempty"`
}

// NewColumn describes a column to create. A nil Position appends; a nil IsDoneColumn marks the
// column done when its name is one of the configured done names.
type NewColumn struct {
	Name         string `json:"name"`
	WIPLimit     *int   `json:"wipLimit,omitempty"`
	IsDoneColumn *bool  `json:"isDoneColumn,omitempty"`
	Position     *int   `json:"position,omitempty"`
}

// ColumnPatch holds the column fields to change. Nil fields are left alone.
type ColumnPatch struct {
	Name          *string `json:"name,omitempty"`
	WIPLimit      *int    `json:"wipLimit,omitempty"`
	ClearWIPLimit bool    `json:"clearWipLimit,omitempty"`
	IsDoneColumn  *bool   `json:"isDoneColumn,omitempty"`
}

// CreateBoard creates a board with its initial columns.
func (e *Engine) CreateBoard(ctx context.Context, in NewBoard) (*BoardView, error) {
	const op = "createBoard"

	name := strings.TrimSpace(in.Name)
	if in.ProjectID == "" {
		return nil, invalidInput(op, "project id is required")
	}
	if name == "" {
		return nil, invalidInput(op, "board name is required")
	}
	if in.Type == "" {
		in.Type = BoardTypeKanban
	}
	if !in.Type.IsValid() {
		return nil, invalidInput(op, "unknown board type %q", in.Type)
	}
	settings := e.templates.Settings
	if in.Settings != nil {
		settings = *in.Settings
	}
	if err := settings.Validate(); err != nil {
		return nil, invalidInput(op, "%v", err)
	}

	specs := in.Columns
	if len(specs) == 0 {
		for _, n := range e.templates.columns(in.Type) {
			specs = append(specs, NewColumn{Name: n})
		}
	}
	if len(specs) > settings.MaxColumns {
		return nil, invalidInput(op, "%d columns exceed the board limit of %d", len(specs), settings.MaxColumns)
	}

	var view *BoardView
	_, err := e.mutate(ctx, op, ActionCreateBoard, in.ProjectID, func(tx Tx, m *mutation) error {
		board := &Board{
			ID:        e.newID(),
			ProjectID: in.ProjectID,
			Name:      name,
			Type:      in.Type,
			Settings:  settings,
			CreatedAt: m.at,
			UpdatedAt: m.at,
		}
		if err := tx.InsertBoard(board); err != nil {
			return err
		}

		view = &BoardView{Board: *board}
		seen := make(map[string]bool, len(specs))
		seq := NewSequence(nil)
		var cols []*Column
		for _, nc := range specs {
			col, err := e.buildColumn(op, board.ID, nc, m)
			if err != nil {
				return err
			}
			key := foldName(col.Name)
			if seen[key] {
				return newError(KindDuplicateColumnName, op, "column %q appears twice", col.Name)
			}
			seen[key] = true

			index := seq.Len()
			if nc.Position != nil {
				index = *nc.Position
			}
			if _, err := seq.Insert(col.ID, index); err != nil {
				return err
			}
			cols = append(cols, col)
		}

		byID := make(map[string]*Column, len(cols))
		for _, col := range cols {
			col.Order = seq.IndexOf(col.ID)
			byID[col.ID] = col
			if err := tx.InsertColumn(col); err != nil {
				return err
			}
		}
		for _, id := range seq.IDs() {
			view.Columns = append(view.Columns, &ColumnView{Column: *byID[id], Cards: []*Card{}})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("board created", zap.String("board", view.ID), zap.String("project", view.ProjectID), zap.Int("columns", len(view.Columns)))
	return view, nil
}

func (e *Engine) buildColumn(op, boardID string, nc NewColumn, m *mutation) (*Column, error) {
	name := strings.TrimSpace(nc.Name)
	if name == "" {
		return nil, invalidInput(op, "column name is required")
	}
	if nc.WIPLimit != nil && *nc.WIPLimit < 1 {
		return nil, invalidInput(op, "wip limit must be positive, got %d", *nc.WIPLimit)
	}
	done := e.templates.isDoneName(name)
	if nc.IsDoneColumn != nil {
		done = *nc.IsDoneColumn
	}
	col := &Column{
		ID:           e.newID(),
		BoardID:      boardID,
		Name:         name,
		IsDoneColumn: done,
		CreatedAt:    m.at,
		UpdatedAt:    m.at,
	}
	if nc.WIPLimit != nil {
		col.WIPLimit = intPtr(*nc.WIPLimit)
	}
	return col, nil
}

// GetBoard returns the board with its ordered columns and cards.
func (e *Engine) GetBoard(ctx context.Context, boardID string) (*BoardView, error) {
	var view *BoardView
	err := e.view(ctx, "getBoard", func(tx Tx) error {
		board, err := tx.GetBoard(boardID)
		if err != nil {
			return err
		}
		cols, err := tx.ListColumns(boardID)
		if err != nil {
			return err
		}
		view = &BoardView{Board: *board, Columns: make([]*ColumnView, 0, len(cols))}
		for _, col := range cols {
			cards, err := tx.ListCards(col.ID)
			if err != nil {
				return err
			}
			if cards == nil {
				cards = []*Card{}
			}
			view.Columns = append(view.Columns, &ColumnView{
				Column:    *col,
				Cards:     cards,
				CardCount: len(cards),
				OverWIP:   col.WIPLimit != nil && len(cards) > *col.WIPLimit,
			})
		}
		return nil
	})
	return view, err
}

// GetColumn returns one column.
func (e *Engine) GetColumn(ctx context.Context, columnID string) (*Column, error) {
	var col *Column
	err := e.view(ctx, "getColumn", func(tx Tx) error {
		var err error
		col, err = tx.GetColumn(columnID)
		return err
	})
	return col, err
}

// ListBoards returns the boards of a project, or every board when projectID is empty.
func (e *Engine) ListBoards(ctx context.Context, projectID string) ([]*Board, error) {
	var boards []*Board
	err := e.view(ctx, "listBoards", func(tx Tx) error {
		var err error
		boards, err = tx.ListBoards(projectID)
		return err
	})
	return boards, err
}

// UpdateBoardSettings replaces the settings of a board.
func (e *Engine) UpdateBoardSettings(ctx context.Context, boardID string, settings BoardSettings) (*Board, error) {
	const op = "updateBoardSettings"
	if err := settings.Validate(); err != nil {
		return nil, invalidInput(op, "%v", err)
	}

	var board *Board
	_, err := e.mutate(ctx, op, ActionUpdateBoard, boardID, func(tx Tx, m *mutation) error {
		var err error
		board, err = tx.GetBoard(boardID)
		if err != nil {
			return err
		}
		cols, err := tx.ListColumns(boardID)
		if err != nil {
			return err
		}
		if len(cols) > settings.MaxColumns {
			return invalidInput(op, "board already has %d columns, more than %d", len(cols), settings.MaxColumns)
		}
		board.Settings = settings
		board.UpdatedAt = m.at
		return tx.UpdateBoard(board)
	})
	if err != nil {
		return nil, err
	}
	return board, nil
}

// CreateColumn adds a column to a board at the requested position.
func (e *Engine) CreateColumn(ctx context.Context, boardID string, in NewColumn) (*Column, error) {
	const op = "createColumn"

	var col *Column
	_, err := e.mutate(ctx, op, ActionCreateColumn, boardID, func(tx Tx, m *mutation) error {
		board, err := tx.GetBoard(boardID)
		if err != nil {
			return err
		}
		col, err = e.buildColumn(op, board.ID, in, m)
		if err != nil {
			return err
		}

		cols, err := tx.ListColumns(board.ID)
		if err != nil {
			return err
		}
		if err := checkColumnName(op, cols, col.Name, ""); err != nil {
			return err
		}
		if len(cols) >= board.Settings.MaxColumns {
			return invalidInput(op, "board %s already has the maximum of %d columns", board.ID, board.Settings.MaxColumns)
		}

		seq := columnSequence(cols)
		index := seq.Len()
		if in.Position != nil {
			index = *in.Position
		}
		placements, err := seq.Insert(col.ID, index)
		if err != nil {
			return err
		}
		order, rest := placementFor(col.ID, placements)
		col.Order = order
		if err := tx.SetColumnOrders(rest); err != nil {
			return err
		}
		return tx.InsertColumn(col)
	})
	if err != nil {
		return nil, err
	}
	return col, nil
}

func checkColumnName(op string, cols []*Column, name, exceptID string) error {
	folded := foldName(name)
	for _, c := range cols {
		if c.ID != exceptID && foldName(c.Name) == folded {
			return newError(KindDuplicateColumnName, op, "column %q already exists on board %s", c.Name, c.BoardID)
		}
	}
	return nil
}

// UpdateColumn renames a column, changes its WIP limit or its done flag. Toggling the done
// flag has no retroactive effect on cards already in the column.
func (e *Engine) UpdateColumn(ctx context.Context, columnID string, patch ColumnPatch) (*Column, error) {
	const op = "updateColumn"
	if patch.WIPLimit != nil && *patch.WIPLimit < 1 {
		return nil, invalidInput(op, "wip limit must be positive, got %d", *patch.WIPLimit)
	}

	var col *Column
	_, err := e.mutate(ctx, op, ActionUpdateColumn, columnID, func(tx Tx, m *mutation) error {
		var err error
		col, err = tx.GetColumn(columnID)
		if err != nil {
			return err
		}

		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return invalidInput(op, "column name is required")
			}
			cols, err := tx.ListColumns(col.BoardID)
			if err != nil {
				return err
			}
			if err := checkColumnName(op, cols, name, col.ID); err != nil {
				return err
			}
			if name != col.Name {
				col.Name = name
				if err := e.syncCardStatus(tx, col, m); err != nil {
					return err
				}
			}
		}
		switch {
		case patch.ClearWIPLimit:
			col.WIPLimit = nil
		case patch.WIPLimit != nil:
			col.WIPLimit = intPtr(*patch.WIPLimit)
		}
		if patch.IsDoneColumn != nil {
			col.IsDoneColumn = *patch.IsDoneColumn
		}
		col.UpdatedAt = m.at
		return tx.UpdateColumn(col)
	})
	if err != nil {
		return nil, err
	}
	return col, nil
}

// syncCardStatus keeps the status of the cards in col equal to its name.
func (e *Engine) syncCardStatus(tx Tx, col *Column, m *mutation) error {
	cards, err := tx.ListCards(col.ID)
	if err != nil {
		return err
	}
	for _, c := range cards {
		c.Status = col.Name
		c.UpdatedAt = m.at
		if err := tx.UpdateCard(c); err != nil {
			return err
		}
	}
	return nil
}

// DeleteColumn removes an empty column and closes the gap it leaves in the board order.
func (e *Engine) DeleteColumn(ctx context.Context, columnID string) error {
	const op = "deleteColumn"

	_, err := e.mutate(ctx, op, ActionDeleteColumn, columnID, func(tx Tx, m *mutation) error {
		col, err := tx.GetColumn(columnID)
		if err != nil {
			return err
		}
		n, err := tx.CountCards(col.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return newError(KindColumnNotEmpty, op, "column %q still holds %d cards", col.Name, n)
		}

		cols, err := tx.ListColumns(col.BoardID)
		if err != nil {
			return err
		}
		placements, err := columnSequence(cols).Remove(col.ID)
		if err != nil {
			return err
		}
		if err := tx.DeleteColumn(col.ID); err != nil {
			return err
		}
		return tx.SetColumnOrders(placements)
	})
	return err
}

// MoveColumn reorders a column within its board. destBoardID may be empty; when given it must
// be the column's own board.
func (e *Engine) MoveColumn(ctx context.Context, columnID, destBoardID string, index int) (*Column, error) {
	const op = "moveColumn"

	var col *Column
	_, err := e.mutate(ctx, op, ActionMoveColumn, columnID, func(tx Tx, m *mutation) error {
		var err error
		col, err = tx.GetColumn(columnID)
		if err != nil {
			return err
		}
		if destBoardID != "" && destBoardID != col.BoardID {
			return newError(KindCrossBoardMoveForbidden, op, "column %s belongs to board %s, not %s", col.ID, col.BoardID, destBoardID)
		}

		cols, err := tx.ListColumns(col.BoardID)
		if err != nil {
			return err
		}
		placements, err := columnSequence(cols).Move(col.ID, index)
		if err != nil {
			return err
		}
		if len(placements) == 0 {
			return nil
		}
		if order, _ := placementFor(col.ID, placements); order >= 0 {
			col.Order = order
		}
		return tx.SetColumnOrders(placements)
	})
	if err != nil {
		return nil, err
	}
	return col, nil
}
