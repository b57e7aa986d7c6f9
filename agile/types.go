// Package agile implements the board, backlog and sprint rules of the agile workspace.
// Boards hold ordered columns, columns hold ordered cards, and backlog items live either in a
// project's product backlog or in one sprint's backlog. Every mutation goes through an Engine
// operation so that ordering, WIP accounting and sprint bookkeeping stay consistent.
package agile

import (
	"fmt"
	"time"
)

// BoardType distinguishes continuous-flow boards from sprint-driven ones.
type BoardType string

const (
	BoardTypeKanban BoardType = "kanban"
	BoardTypeScrum  BoardType = "scrum"
)

// IsValid reports whether the board type is known.
func (t BoardType) IsValid() bool {
	switch t {
	case BoardTypeKanban, BoardTypeScrum:
		return true
	}
	return false
}

// CardType is the kind of work a card visualizes.
type CardType string

const (
	CardTypeStory      CardType = "story"
	CardTypeTask       CardType = "task"
	CardTypeBug        CardType = "bug"
	CardTypeEpicMarker CardType = "epic-marker"
)

// IsValid reports whether the card type is known.
func (t CardType) IsValid() bool {
	switch t {
	case CardTypeStory, CardTypeTask, CardTypeBug, CardTypeEpicMarker:
		return true
	}
	return false
}

// Priority is shared by cards and backlog items.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// IsValid reports whether the priority is known.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Rank orders priorities, higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 0
}

// BacklogType says which list a backlog item belongs to.
type BacklogType string

const (
	BacklogProduct BacklogType = "product"
	BacklogSprint  BacklogType = "sprint"
)

// IsValid reports whether the backlog type is known.
func (t BacklogType) IsValid() bool {
	return t == BacklogProduct || t == BacklogSprint
}

// ItemStatus is the lifecycle state of a backlog item.
type ItemStatus string

const (
	StatusNew        ItemStatus = "new"
	StatusReady      ItemStatus = "ready"
	StatusInProgress ItemStatus = "in_progress"
	StatusDone       ItemStatus = "done"
	StatusRemoved    ItemStatus = "removed"
)

// IsValid reports whether the status is known.
func (s ItemStatus) IsValid() bool {
	switch s {
	case StatusNew, StatusReady, StatusInProgress, StatusDone, StatusRemoved:
		return true
	}
	return false
}

// IsTerminal reports whether no transition may leave the status.
func (s ItemStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusRemoved
}

// SprintStatus is the lifecycle state of a sprint.
type SprintStatus string

const (
	SprintPlanning  SprintStatus = "planning"
	SprintActive    SprintStatus = "active"
	SprintCompleted SprintStatus = "completed"
)

// IsValid reports whether the sprint status is known.
func (s SprintStatus) IsValid() bool {
	switch s {
	case SprintPlanning, SprintActive, SprintCompleted:
		return true
	}
	return false
}

// BoardSettings is the fixed set of per-board options.
type BoardSettings struct {
	// MaxColumns caps the number of columns on the board.
	MaxColumns int `json:"maxColumns" yaml:"max_columns"`
	// DefaultSprintDays is the planned length used when a sprint has no end date.
	DefaultSprintDays int `json:"defaultSprintDays" yaml:"default_sprint_days"`
}

const (
	// MaxBoardColumns is the hard upper bound for BoardSettings.MaxColumns.
	MaxBoardColumns = 127
	maxSprintDays   = 90
)

// DefaultBoardSettings returns the settings applied to boards created without any.
func DefaultBoardSettings() BoardSettings {
	return BoardSettings{
		MaxColumns:        20,
		DefaultSprintDays: 14,
	}
}

// Validate checks every setting is within its documented range.
func (s BoardSettings) Validate() error {
	if s.MaxColumns < 1 || s.MaxColumns > MaxBoardColumns {
		return fmt.Errorf("maxColumns must be between 1 and %d, got %d", MaxBoardColumns, s.MaxColumns)
	}
	if s.DefaultSprintDays < 1 || s.DefaultSprintDays > maxSprintDays {
		return fmt.Errorf("defaultSprintDays must be between 1 and %d, got %d", maxSprintDays, s.DefaultSprintDays)
	}
	return nil
}

// Board is a named kanban or scrum workspace belonging to a project.
type Board struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"projectId"`
	Name      string        `json:"name"`
	Type      BoardType     `json:"type"`
	Settings  BoardSettings `json:"settings"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Column is one stage of a board.
type Column struct {
	ID           string    `json:"id"`
	BoardID      string    `json:"boardId"`
	Name         string    `json:"name"`
	Order        int       `json:"order"`
	WIPLimit     *int      `json:"wipLimit,omitempty"`
	IsDoneColumn bool      `json:"isDoneColumn"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Card is a unit of visualized work placed in exactly one column.
type Card struct {
	ID            string     `json:"id"`
	BoardID       string     `json:"boardId"`
	ColumnID      string     `json:"columnId"`
	Order         int        `json:"order"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	SprintID      *string    `json:"sprintId,omitempty"`
	EpicID        *string    `json:"epicId,omitempty"`
	BacklogItemID *string    `json:"backlogItemId,omitempty"`
	Type          CardType   `json:"type"`
	Priority      Priority   `json:"priority"`
	StoryPoints   *int       `json:"storyPoints,omitempty"`
	Status        string     `json:"status"`
	Labels        []string   `json:"labels,omitempty"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// BacklogItem is a unit of planned work in the product backlog or a sprint backlog.
type BacklogItem struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"projectId"`
	CardID      *string     `json:"cardId,omitempty"`
	EpicID      *string     `json:"epicId,omitempty"`
	SprintID    *string     `json:"sprintId,omitempty"`
	Type        BacklogType `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Priority    Priority    `json:"priority"`
	StoryPoints *int        `json:"storyPoints,omitempty"`
	Status      ItemStatus  `json:"status"`
	AssigneeID  *string     `json:"assigneeId,omitempty"`
	Order       int         `json:"order"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Points returns the item's story points, zero when unestimated.
func (i *BacklogItem) Points() int {
	if i.StoryPoints == nil {
		return 0
	}
	return *i.StoryPoints
}

// List identifies the backlog list the item currently belongs to.
func (i *BacklogItem) List() ItemList {
	if i.Type == BacklogSprint && i.SprintID != nil {
		return SprintList(*i.SprintID)
	}
	return ProductList(i.ProjectID)
}

// Sprint is a time-boxed commitment of backlog items on a board.
type Sprint struct {
	ID                   string       `json:"id"`
	BoardID              string       `json:"boardId"`
	ProjectID            string       `json:"projectId"`
	Name                 string       `json:"name"`
	Goal                 string       `json:"goal,omitempty"`
	StartDate            *time.Time   `json:"startDate,omitempty"`
	EndDate              *time.Time   `json:"endDate,omitempty"`
	Status               SprintStatus `json:"status"`
	PlannedStoryPoints   int          `json:"plannedStoryPoints"`
	CompletedStoryPoints int          `json:"completedStoryPoints"`
	Velocity             float64      `json:"velocity"`
	TeamCapacity         *int         `json:"teamCapacity,omitempty"`
	CompletedAt          *time.Time   `json:"completedAt,omitempty"`
	CreatedAt            time.Time    `json:"createdAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`
}

// ItemList names one ordered backlog list: a project's product backlog or a sprint backlog.
type ItemList struct {
	Type      BacklogType `json:"type"`
	ProjectID string      `json:"projectId,omitempty"`
	SprintID  string      `json:"sprintId,omitempty"`
}

// ProductList is the product backlog of a project.
func ProductList(projectID string) ItemList {
	return ItemList{Type: BacklogProduct, ProjectID: projectID}
}

// SprintList is the backlog of a sprint.
func SprintList(sprintID string) ItemList {
	return ItemList{Type: BacklogSprint, SprintID: sprintID}
}

func (l ItemList) String() string {
	if l.Type == BacklogSprint {
		return "sprint:" + l.SprintID
	}
	return "product:" + l.ProjectID
}

// ColumnView is a column with its ordered cards.
type ColumnView struct {
	Column
	Cards     []*Card `json:"cards"`
	CardCount int     `json:"cardCount"`
	OverWIP   bool    `json:"overWip"`
}

// BoardView is a board with its ordered columns and cards.
type BoardView struct {
	Board
	Columns []*ColumnView `json:"columns"`
}

func strPtr(s string) *string {
	return &s
}

func intPtr(n int) *int {
	return &n
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func equalStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
