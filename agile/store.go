package agile

import "context"

// Store is the persistence collaborator. Update runs fn inside one read-write transaction:
// either every write fn made is committed or none is. View runs fn against a consistent
// snapshot and must not be used for writes.
//
// Both the in-memory State and the SQLite store in internal/db implement it.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of record operations available inside a transaction. Getters return an
// error satisfying IsNotFound when the record does not exist. Returned records are copies;
// changes are persisted only through the Insert/Update/Set methods.
type Tx interface {
	// Boards
	GetBoard(id string) (*Board, error)
	ListBoards(projectID string) ([]*Board, error)
	InsertBoard(b *Board) error
	UpdateBoard(b *Board) error

	// Columns, ordered by Order then ID
	GetColumn(id string) (*Column, error)
	ListColumns(boardID string) ([]*Column, error)
	InsertColumn(c *Column) error
	UpdateColumn(c *Column) error
	DeleteColumn(id string) error
	SetColumnOrders(p []Placement) error

	// Cards, ordered by Order then ID
	GetCard(id string) (*Card, error)
	ListCards(columnID string) ([]*Card, error)
	CountCards(columnID string) (int, error)
	InsertCard(c *Card) error
	UpdateCard(c *Card) error
	DeleteCard(id string) error
	SetCardOrders(p []Placement) error

	// Backlog items. ListItems returns the non-removed members of one list in order.
	GetItem(id string) (*BacklogItem, error)
	ListItems(list ItemList) ([]*BacklogItem, error)
	ListRemovedItems(projectID string) ([]*BacklogItem, error)
	InsertItem(i *BacklogItem) error
	UpdateItem(i *BacklogItem) error
	SetItemOrders(p []Placement) error

	// Sprints, ordered by creation time
	GetSprint(id string) (*Sprint, error)
	ListSprints(boardID string) ([]*Sprint, error)
	InsertSprint(s *Sprint) error
	UpdateSprint(s *Sprint) error
}
