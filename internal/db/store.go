package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
)

// Store implements agile.Store on top of SQLite.
type Store struct {
	db *DB
}

// NewStore creates a new store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

var _ agile.Store = (*Store)(nil)

var errReadOnly = errors.New("write attempted in a read-only transaction")

// Update runs fn inside one write transaction.
func (s *Store) Update(ctx context.Context, fn func(tx agile.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// View runs fn against a consistent snapshot. Writes fail.
func (s *Store) View(ctx context.Context, fn func(tx agile.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	return fn(&sqlTx{ctx: ctx, tx: tx, readOnly: true})
}

type sqlTx struct {
	ctx      context.Context
	tx       *sql.Tx
	readOnly bool
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func (t *sqlTx) exec(query string, args ...interface{}) (sql.Result, error) {
	if t.readOnly {
		return nil, errReadOnly
	}
	return t.tx.ExecContext(t.ctx, query, args...)
}

// execOne runs a single-row update and reports a missing row as not found.
func (t *sqlTx) execOne(entity, id, query string, args ...interface{}) error {
	res, err := t.exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	if n == 0 {
		return agile.NotFoundError(entity, id)
	}
	return nil
}

func (t *sqlTx) setOrders(entity, table string, p []agile.Placement) error {
	if len(p) == 0 {
		return nil
	}
	if t.readOnly {
		return errReadOnly
	}
	stmt, err := t.tx.PrepareContext(t.ctx, "UPDATE "+table+" SET position = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare %s reorder: %w", entity, err)
	}
	defer stmt.Close()

	for _, pl := range p {
		res, err := stmt.ExecContext(t.ctx, pl.Order, pl.ID)
		if err != nil {
			return fmt.Errorf("failed to reorder %s: %w", entity, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return agile.NotFoundError(entity, pl.ID)
		}
	}
	return nil
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return agile.NotFoundError(entity, id)
	}
	return fmt.Errorf("failed to get %s: %w", entity, err)
}

// --- Boards ---

const boardColumns = `id, project_id, name, type, max_columns, default_sprint_days, created_at, updated_at`

func scanBoard(row scanner) (*agile.Board, error) {
	b := &agile.Board{}
	if err := row.Scan(&b.ID, &b.ProjectID, &b.Name, &b.Type,
		&b.Settings.MaxColumns, &b.Settings.DefaultSprintDays, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func (t *sqlTx) GetBoard(id string) (*agile.Board, error) {
	row := t.tx.QueryRowContext(t.ctx, "SELECT "+boardColumns+" FROM boards WHERE id = ?", id)
	b, err := scanBoard(row)
	if err != nil {
		return nil, notFound(err, "board", id)
	}
	return b, nil
}

func (t *sqlTx) ListBoards(projectID string) ([]*agile.Board, error) {
	query := "SELECT " + boardColumns + " FROM boards"
	var args []interface{}
	if projectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY created_at, id"

	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	defer rows.Close()

	var boards []*agile.Board
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan board: %w", err)
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

func (t *sqlTx) InsertBoard(b *agile.Board) error {
	_, err := t.exec(`
		INSERT INTO boards (`+boardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.ProjectID, b.Name, string(b.Type), b.Settings.MaxColumns, b.Settings.DefaultSprintDays,
		b.CreatedAt.UTC(), b.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert board: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdateBoard(b *agile.Board) error {
	return t.execOne("board", b.ID, `
		UPDATE boards SET project_id = ?, name = ?, type = ?, max_columns = ?,
			default_sprint_days = ?, updated_at = ?
		WHERE id = ?
	`, b.ProjectID, b.Name, string(b.Type), b.Settings.MaxColumns, b.Settings.DefaultSprintDays,
		b.UpdatedAt.UTC(), b.ID)
}

// --- Columns ---

const columnColumns = `id, board_id, name, position, wip_limit, is_done, created_at, updated_at`

func scanColumn(row scanner) (*agile.Column, error) {
	c := &agile.Column{}
	var wip sql.NullInt64
	if err := row.Scan(&c.ID, &c.BoardID, &c.Name, &c.Order, &wip, &c.IsDoneColumn,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.WIPLimit = fromNullInt(wip)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (t *sqlTx) GetColumn(id string) (*agile.Column, error) {
	row := t.tx.QueryRowContext(t.ctx, "SELECT "+columnColumns+" FROM board_columns WHERE id = ?", id)
	c, err := scanColumn(row)
	if err != nil {
		return nil, notFound(err, "column", id)
	}
	return c, nil
}

func (t *sqlTx) ListColumns(boardID string) ([]*agile.Column, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		"SELECT "+columnColumns+" FROM board_columns WHERE board_id = ? ORDER BY position, id", boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns: %w", err)
	}
	defer rows.Close()

	var cols []*agile.Column
	for rows.Next() {
		c, err := scanColumn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (t *sqlTx) InsertColumn(c *agile.Column) error {
	_, err := t.exec(`
		INSERT INTO board_columns (`+columnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.BoardID, c.Name, c.Order, nullInt(c.WIPLimit), c.IsDoneColumn,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert column: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdateColumn(c *agile.Column) error {
	return t.execOne("column", c.ID, `
		UPDATE board_columns SET board_id = ?, name = ?, position = ?, wip_limit = ?,
			is_done = ?, updated_at = ?
		WHERE id = ?
	`, c.BoardID, c.Name, c.Order, nullInt(c.WIPLimit), c.IsDoneColumn, c.UpdatedAt.UTC(), c.ID)
}

func (t *sqlTx) DeleteColumn(id string) error {
	return t.execOne("column", id, "DELETE FROM board_columns WHERE id = ?", id)
}

func (t *sqlTx) SetColumnOrders(p []agile.Placement) error {
	return t.setOrders("column", "board_columns", p)
}

// --- Cards ---

const cardColumns = `id, board_id, column_id, position, title, description, sprint_id, epic_id,
	backlog_item_id, type, priority, story_points, status, labels, due_date, created_at, updated_at`

func scanCard(row scanner) (*agile.Card, error) {
	c := &agile.Card{}
	var (
		description, sprintID, epicID, itemID, labels sql.NullString
		points                                        sql.NullInt64
		due                                           sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.BoardID, &c.ColumnID, &c.Order, &c.Title, &description,
		&sprintID, &epicID, &itemID, &c.Type, &c.Priority, &points, &c.Status, &labels, &due,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Description = description.String
	c.SprintID = fromNullString(sprintID)
	c.EpicID = fromNullString(epicID)
	c.BacklogItemID = fromNullString(itemID)
	c.StoryPoints = fromNullInt(points)
	c.DueDate = fromNullTime(due)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if labels.Valid && labels.String != "" {
		if err := json.Unmarshal([]byte(labels.String), &c.Labels); err != nil {
			return nil, fmt.Errorf("failed to decode labels of card %s: %w", c.ID, err)
		}
	}
	return c, nil
}

func encodeLabels(labels []string) (sql.NullString, error) {
	if len(labels) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func (t *sqlTx) GetCard(id string) (*agile.Card, error) {
	row := t.tx.QueryRowContext(t.ctx, "SELECT "+cardColumns+" FROM cards WHERE id = ?", id)
	c, err := scanCard(row)
	if err != nil {
		return nil, notFound(err, "card", id)
	}
	return c, nil
}

func (t *sqlTx) ListCards(columnID string) ([]*agile.Card, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		"SELECT "+cardColumns+" FROM cards WHERE column_id = ? ORDER BY position, id", columnID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var cards []*agile.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func (t *sqlTx) CountCards(columnID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(t.ctx, "SELECT COUNT(*) FROM cards WHERE column_id = ?", columnID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return n, nil
}

func (t *sqlTx) InsertCard(c *agile.Card) error {
	labels, err := encodeLabels(c.Labels)
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}
	_, err = t.exec(`
		INSERT INTO cards (`+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.BoardID, c.ColumnID, c.Order, c.Title, c.Description,
		nullString(c.SprintID), nullString(c.EpicID), nullString(c.BacklogItemID),
		string(c.Type), string(c.Priority), nullInt(c.StoryPoints), c.Status, labels, nullTime(c.DueDate),
		c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert card: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdateCard(c *agile.Card) error {
	labels, err := encodeLabels(c.Labels)
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}
	return t.execOne("card", c.ID, `
		UPDATE cards SET board_id = ?, column_id = ?, position = ?, title = ?, description = ?,
			sprint_id = ?, epic_id = ?, backlog_item_id = ?, type = ?, priority = ?,
			story_points = ?, status = ?, labels = ?, due_date = ?, updated_at = ?
		WHERE id = ?
	`, c.BoardID, c.ColumnID, c.Order, c.Title, c.Description,
		nullString(c.SprintID), nullString(c.EpicID), nullString(c.BacklogItemID),
		string(c.Type), string(c.Priority), nullInt(c.StoryPoints), c.Status, labels, nullTime(c.DueDate),
		c.UpdatedAt.UTC(), c.ID)
}

func (t *sqlTx) DeleteCard(id string) error {
	return t.execOne("card", id, "DELETE FROM cards WHERE id = ?", id)
}

func (t *sqlTx) SetCardOrders(p []agile.Placement) error {
	return t.setOrders("card", "cards", p)
}

// --- Backlog items ---

const itemColumns = `id, project_id, card_id, epic_id, sprint_id, type, title, description, priority,
	story_points, status, assignee_id, position, completed_at, created_at, updated_at`

func scanItem(row scanner) (*agile.BacklogItem, error) {
	i := &agile.BacklogItem{}
	var (
		cardID, epicID, sprintID, description, assignee sql.NullString
		points                                          sql.NullInt64
		completed                                       sql.NullTime
	)
	if err := row.Scan(&i.ID, &i.ProjectID, &cardID, &epicID, &sprintID, &i.Type, &i.Title,
		&description, &i.Priority, &points, &i.Status, &assignee, &i.Order, &completed,
		&i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	i.CardID = fromNullString(cardID)
	i.EpicID = fromNullString(epicID)
	i.SprintID = fromNullString(sprintID)
	i.Description = description.String
	i.StoryPoints = fromNullInt(points)
	i.AssigneeID = fromNullString(assignee)
	i.CompletedAt = fromNullTime(completed)
	i.CreatedAt = i.CreatedAt.UTC()
	i.UpdatedAt = i.UpdatedAt.UTC()
	return i, nil
}

func (t *sqlTx) queryItems(query string, args ...interface{}) ([]*agile.BacklogItem, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list backlog items: %w", err)
	}
	defer rows.Close()

	var items []*agile.BacklogItem
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backlog item: %w", err)
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (t *sqlTx) GetItem(id string) (*agile.BacklogItem, error) {
	row := t.tx.QueryRowContext(t.ctx, "SELECT "+itemColumns+" FROM backlog_items WHERE id = ?", id)
	i, err := scanItem(row)
	if err != nil {
		return nil, notFound(err, "backlog item", id)
	}
	return i, nil
}

func (t *sqlTx) ListItems(list agile.ItemList) ([]*agile.BacklogItem, error) {
	if list.Type == agile.BacklogSprint {
		return t.queryItems(`
			SELECT `+itemColumns+` FROM backlog_items
			WHERE type = ? AND sprint_id = ? AND status != ?
			ORDER BY position, id
		`, string(agile.BacklogSprint), list.SprintID, string(agile.StatusRemoved))
	}
	// An item typed sprint without a sprint id falls back to the product list.
	return t.queryItems(`
		SELECT `+itemColumns+` FROM backlog_items
		WHERE project_id = ? AND status != ? AND (type != ? OR sprint_id IS NULL)
		ORDER BY position, id
	`, list.ProjectID, string(agile.StatusRemoved), string(agile.BacklogSprint))
}

func (t *sqlTx) ListRemovedItems(projectID string) ([]*agile.BacklogItem, error) {
	return t.queryItems(`
		SELECT `+itemColumns+` FROM backlog_items
		WHERE project_id = ? AND status = ?
		ORDER BY updated_at, id
	`, projectID, string(agile.StatusRemoved))
}

func (t *sqlTx) InsertItem(i *agile.BacklogItem) error {
	_, err := t.exec(`
		INSERT INTO backlog_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, i.ID, i.ProjectID, nullString(i.CardID), nullString(i.EpicID), nullString(i.SprintID),
		string(i.Type), i.Title, i.Description, string(i.Priority), nullInt(i.StoryPoints), string(i.Status),
		nullString(i.AssigneeID), i.Order, nullTime(i.CompletedAt), i.CreatedAt.UTC(), i.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert backlog item: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdateItem(i *agile.BacklogItem) error {
	return t.execOne("backlog item", i.ID, `
		UPDATE backlog_items SET project_id = ?, card_id = ?, epic_id = ?, sprint_id = ?, type = ?,
			title = ?, description = ?, priority = ?, story_points = ?, status = ?, assignee_id = ?,
			position = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, i.ProjectID, nullString(i.CardID), nullString(i.EpicID), nullString(i.SprintID), string(i.Type),
		i.Title, i.Description, string(i.Priority), nullInt(i.StoryPoints), string(i.Status), nullString(i.AssigneeID),
		i.Order, nullTime(i.CompletedAt), i.UpdatedAt.UTC(), i.ID)
}

func (t *sqlTx) SetItemOrders(p []agile.Placement) error {
	return t.setOrders("backlog item", "backlog_items", p)
}

// --- Sprints ---

const sprintColumns = `id, board_id, project_id, name, goal, start_date, end_date, status, planned_points,
	completed_points, velocity, team_capacity, completed_at, created_at, updated_at`

func scanSprint(row scanner) (*agile.Sprint, error) {
	s := &agile.Sprint{}
	var (
		goal                  sql.NullString
		start, end, completed sql.NullTime
		capacity              sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.BoardID, &s.ProjectID, &s.Name, &goal, &start, &end, &s.Status,
		&s.PlannedStoryPoints, &s.CompletedStoryPoints, &s.Velocity, &capacity, &completed,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Goal = goal.String
	s.StartDate = fromNullTime(start)
	s.EndDate = fromNullTime(end)
	s.TeamCapacity = fromNullInt(capacity)
	s.CompletedAt = fromNullTime(completed)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

func (t *sqlTx) GetSprint(id string) (*agile.Sprint, error) {
	row := t.tx.QueryRowContext(t.ctx, "SELECT "+sprintColumns+" FROM sprints WHERE id = ?", id)
	s, err := scanSprint(row)
	if err != nil {
		return nil, notFound(err, "sprint", id)
	}
	return s, nil
}

func (t *sqlTx) ListSprints(boardID string) ([]*agile.Sprint, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		"SELECT "+sprintColumns+" FROM sprints WHERE board_id = ? ORDER BY created_at, id", boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sprints: %w", err)
	}
	defer rows.Close()

	var sprints []*agile.Sprint
	for rows.Next() {
		s, err := scanSprint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sprint: %w", err)
		}
		sprints = append(sprints, s)
	}
	return sprints, rows.Err()
}

func (t *sqlTx) InsertSprint(s *agile.Sprint) error {
	_, err := t.exec(`
		INSERT INTO sprints (`+sprintColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.BoardID, s.ProjectID, s.Name, s.Goal, nullTime(s.StartDate), nullTime(s.EndDate),
		string(s.Status), s.PlannedStoryPoints, s.CompletedStoryPoints, s.Velocity, nullInt(s.TeamCapacity),
		nullTime(s.CompletedAt), s.CreatedAt.UTC(), s.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert sprint: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdateSprint(s *agile.Sprint) error {
	return t.execOne("sprint", s.ID, `
		UPDATE sprints SET board_id = ?, project_id = ?, name = ?, goal = ?, start_date = ?,
			end_date = ?, status = ?, planned_points = ?, completed_points = ?, velocity = ?,
			team_capacity = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, s.BoardID, s.ProjectID, s.Name, s.Goal, nullTime(s.StartDate), nullTime(s.EndDate),
		string(s.Status), s.PlannedStoryPoints, s.CompletedStoryPoints, s.Velocity, nullInt(s.TeamCapacity),
		nullTime(s.CompletedAt), s.UpdatedAt.UTC(), s.ID)
}

// --- Nullable column helpers ---

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func fromNullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.UTC(), Valid: true}
}

func fromNullTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}
