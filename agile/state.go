package agile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const stateVersion = "1.0.0"

// snapshot is the whole dataset of a State. Records are never mutated in place once stored,
// so cloning a snapshot only copies the maps.
type snapshot struct {
	Version   string                  `json:"version"`
	UpdatedAt time.Time               `json:"updatedAt"`
	Boards    map[string]*Board       `json:"boards"`
	Columns   map[string]*Column      `json:"columns"`
	Cards     map[string]*Card        `json:"cards"`
	Items     map[string]*BacklogItem `json:"items"`
	Sprints   map[string]*Sprint      `json:"sprints"`
}

func newSnapshot() *snapshot {
	return &snapshot{
		Version: stateVersion,
		Boards:  make(map[string]*Board),
		Columns: make(map[string]*Column),
		Cards:   make(map[string]*Card),
		Items:   make(map[string]*BacklogItem),
		Sprints: make(map[string]*Sprint),
	}
}

func (s *snapshot) clone() *snapshot {
	return &snapshot{
		Version:   s.Version,
		UpdatedAt: s.UpdatedAt,
		Boards:    copyMap(s.Boards),
		Columns:   copyMap(s.Columns),
		Cards:     copyMap(s.Cards),
		Items:     copyMap(s.Items),
		Sprints:   copyMap(s.Sprints),
	}
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// State is an in-memory Store with optional JSON file persistence. Update works on a private
// copy of the dataset and swaps it in only when fn succeeds (and, with a file path, only after
// the file has been written), so a failed transaction leaves nothing behind.
type State struct {
	mu       sync.RWMutex
	data     *snapshot
	filePath string
}

// NewState creates a state. An empty filePath keeps everything in memory.
func NewState(filePath string) *State {
	return &State{
		data:     newSnapshot(),
		filePath: filePath,
	}
}

// Load reads the dataset from disk. A missing file yields an empty dataset.
func (s *State) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filePath == "" {
		return nil
	}

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.data = newSnapshot()
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	snap := newSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	s.data = snap
	return nil
}

// Save writes the dataset to disk.
func (s *State) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(s.data)
}

func (s *State) write(snap *snapshot) error {
	if s.filePath == "" {
		return nil
	}

	snap.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Write atomically
	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

// Update implements Store.
func (s *State) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	tx := &stateTx{data: work}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}
	if err := s.write(work); err != nil {
		return err
	}
	s.data = work
	return nil
}

// View implements Store.
func (s *State) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&stateTx{data: s.data, readOnly: true})
}

var errReadOnly = errors.New("write attempted in a read-only transaction")

type stateTx struct {
	data     *snapshot
	readOnly bool
	dirty    bool
}

// writable marks the transaction dirty, or fails when it is read-only.
func (t *stateTx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	t.dirty = true
	return nil
}

// --- Boards ---

func (t *stateTx) GetBoard(id string) (*Board, error) {
	b, ok := t.data.Boards[id]
	if !ok {
		return nil, NotFoundError("board", id)
	}
	return b.clone(), nil
}

func (t *stateTx) ListBoards(projectID string) ([]*Board, error) {
	var out []*Board
	for _, b := range t.data.Boards {
		if projectID == "" || b.ProjectID == projectID {
			out = append(out, b.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *stateTx) InsertBoard(b *Board) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.Boards[b.ID]; ok {
		return fmt.Errorf("board %s already exists", b.ID)
	}
	t.data.Boards[b.ID] = b.clone()
	return nil
}

func (t *stateTx) UpdateBoard(b *Board) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.Boards[b.ID]; !ok {
		return NotFoundError("board", b.ID)
	}
	t.data.Boards[b.ID] = b.clone()
	return nil
}

// --- Columns ---

func (t *stateTx) GetColumn(id string) (*Column, error) {
	c, ok := t.data.Columns[id]
	if !ok {
		return nil, NotFoundError("column", id)
	}
	return c.clone(), nil
}

func (t *stateTx) ListColumns(boardID string) ([]*Column, error) {
	var out []*Column
	for _, c := range t.data.Columns {
		if c.BoardID == boardID {
			out = append(out, c.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *stateTx) InsertColumn(c *Column) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.Columns[c.ID]; ok {
		return fmt.Errorf("column %s already exists", c.ID)
	}
	t.data.Columns[c.ID] = c.clone()
	return nil
}

func (t *stateTx) UpdateColumn(c *Column) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.Columns[c.ID]; !ok {
		return NotFoundError("column", c.ID)
	}
	t.data.Columns[c.ID] = c.clone()
	return nil
}

func (t *stateTx) DeleteColumn(id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.Columns[id]; !ok {
		return NotFoundError("column", id)
	}
	delete(t.data.Columns, id)
	return nil
}

func (t *stateTx) SetColumnOrders(p []Placement) error {
	if len(p) == 0 {
		return nil
	}
	if err := t.writable(); err != nil {
		return err
	}
	for _, pl := range p {
		c, ok := t.data.Columns[pl.ID]
		if !ok {
			return NotFoundError("column", pl.ID)
		}
		c = c.clone()
		c.Order = pl.Order
		t.data.Columns[pl.ID] = c
	}
	return nil
}

// --- Cards ---

func (t *stateTx) GetCard(id string) (*Card, error) {
	c, ok := t.data.Cards[id]
	if !ok {
		return nil, NotFoundError("card", id)
	}
	return c.clone(), nil
}

func (t *stateTx) ListCards(columnID string) ([]*Card, error) {
	var out []*Card
	for _, c := range t.data.Cards {
		if c.ColumnID == columnID {
			out = append(out, c.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *stateTx) CountCards(columnID string) (int, error) {
	n := 0
	for _, c := range t.data.Cards {
		if c.ColumnID == columnID {
			n++
		}
	}
	return n, nil
}

func (t *stateTx) InsertCard(c *Card) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.Cards[c.ID]; ok {
		return fmt.Errorf("card %s already exists", c.ID)
	}
	t.data.Cards[c.ID] = c.clone()
	return nil
}

func (t *stateTx) UpdateCard(c *Card) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.Cards[c.ID]; !ok {
		return NotFoundError("card", c.ID)
	}
	t.data.Cards[c.ID] = c.clone()
	return nil
}

func (t *stateTx) DeleteCard(id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.Cards[id]; !ok {
		return NotFoundError("card", id)
	}
	delete(t.data.Cards, id)
	return nil
}

func (t *stateTx) SetCardOrders(p []Placement) error {
	if len(p) == 0 {
		return nil
	}
	if err := t.writable(); err != nil {
		return err
	}
	for _, pl := range p {
		c, ok := t.data.Cards[pl.ID]
		if !ok {
			return NotFoundError("card", pl.ID)
		}
		c = c.clone()
		c.Order = pl.Order
		t.data.Cards[pl.ID] = c
	}
	return nil
}

// --- Backlog items ---

func (t *stateTx) GetItem(id string) (*BacklogItem, error) {
	i, ok := t.data.Items[id]
	if !ok {
		return nil, NotFoundError("backlog item", id)
	}
	return i.clone(), nil
}

func (t *stateTx) ListItems(list ItemList) ([]*BacklogItem, error) {
	var out []*BacklogItem
	for _, i := range t.data.Items {
		if i.Status == StatusRemoved || i.List() != list {
			continue
		}
		out = append(out, i.clone())
	}
	sortItems(out)
	return out, nil
}

func (t *stateTx) ListRemovedItems(projectID string) ([]*BacklogItem, error) {
	var out []*BacklogItem
	for _, i := range t.data.Items {
		if i.Status == StatusRemoved && i.ProjectID == projectID {
			out = append(out, i.clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].UpdatedAt.Before(out[b].UpdatedAt)
	})
	return out, nil
}

func (t *stateTx) InsertItem(i *BacklogItem) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.Items[i.ID]; ok {
		return fmt.Errorf("backlog item %s already exists", i.ID)
	}
	t.data.Items[i.ID] = i.clone()
	return nil
}

func (t *stateTx) UpdateItem(i *BacklogItem) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.Items[i.ID]; !ok {
		return NotFoundError("backlog item", i.ID)
	}
	t.data.Items[i.ID] = i.clone()
	return nil
}

func (t *stateTx) SetItemOrders(p []Placement) error {
	if len(p) == 0 {
		return nil
	}
	if err := t.writable(); err != nil {
		return err
	}
	for _, pl := range p {
		i, ok := t.data.Items[pl.ID]
		if !ok {
			return NotFoundError("backlog item", pl.ID)
		}
		i = i.clone()
		i.Order = pl.Order
		t.data.Items[pl.ID] = i
	}
	return nil
}

// --- Sprints ---

func (t *stateTx) GetSprint(id string) (*Sprint, error) {
	s, ok := t.data.Sprints[id]
	if !ok {
		return nil, NotFoundError("sprint", id)
	}
	return s.clone(), nil
}

func (t *stateTx) ListSprints(boardID string) ([]*Sprint, error) {
	var out []*Sprint
	for _, s := range t.data.Sprints {
		if s.BoardID == boardID {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *stateTx) InsertSprint(s *Sprint) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.Sprints[s.ID]; ok {
		return fmt.Errorf("sprint %s already exists", s.ID)
	}
	t.data.Sprints[s.ID] = s.clone()
	return nil
}

func (t *stateTx) UpdateSprint(s *Sprint) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.Sprints[s.ID]; !ok {
		return NotFoundError("sprint", s.ID)
	}
	t.data.Sprints[s.ID] = s.clone()
	return nil
}

func sortItems(items []*BacklogItem) {
	sort.Slice(items, func(a, b int) bool {
		if items[a].Order != items[b].Order {
			return items[a].Order < items[b].Order
		}
		return items[a].ID < items[b].ID
	})
}

// --- copies ---

func (b *Board) clone() *Board {
	cp := *b
	return &cp
}

func (c *Column) clone() *Column {
	cp := *c
	if c.WIPLimit != nil {
		cp.WIPLimit = intPtr(*c.WIPLimit)
	}
	return &cp
}

func (c *Card) clone() *Card {
	cp := *c
	cp.SprintID = cloneStr(c.SprintID)
	cp.EpicID = cloneStr(c.EpicID)
	cp.BacklogItemID = cloneStr(c.BacklogItemID)
	if c.StoryPoints != nil {
		cp.StoryPoints = intPtr(*c.StoryPoints)
	}
	if c.DueDate != nil {
		cp.DueDate = timePtr(*c.DueDate)
	}
	if c.Labels != nil {
		cp.Labels = append([]string(nil), c.Labels...)
	}
	return &cp
}

func (i *BacklogItem) clone() *BacklogItem {
	cp := *i
	cp.CardID = cloneStr(i.CardID)
	cp.EpicID = cloneStr(i.EpicID)
	cp.SprintID = cloneStr(i.SprintID)
	cp.AssigneeID = cloneStr(i.AssigneeID)
	if i.StoryPoints != nil {
		cp.StoryPoints = intPtr(*i.StoryPoints)
	}
	if i.CompletedAt != nil {
		cp.CompletedAt = timePtr(*i.CompletedAt)
	}
	return &cp
}

func (s *Sprint) clone() *Sprint {
	cp := *s
	if s.StartDate != nil {
		cp.StartDate = timePtr(*s.StartDate)
	}
	if s.EndDate != nil {
		cp.EndDate = timePtr(*s.EndDate)
	}
	if s.TeamCapacity != nil {
		cp.TeamCapacity = intPtr(*s.TeamCapacity)
	}
	if s.CompletedAt != nil {
		cp.CompletedAt = timePtr(*s.CompletedAt)
	}
	return &cp
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	return strPtr(*s)
}
