package agile

import (
	"context"
	"strings"
)

// NewItem describes a product backlog item to create.
type NewItem struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	StoryPoints *int       `json:"storyPoints,omitempty"`
	EpicID      *string    `json:"epicId,omitempty"`
	AssigneeID  *string    `json:"assigneeId,omitempty"`
	Status      ItemStatus `json:"status,omitempty"`
}

// ItemPatch holds the descriptive item fields to change.
type ItemPatch struct {
	Title            *string `json:"title,omitempty"`
	Description      *string `json:"description,omitempty"`
	StoryPoints      *int    `json:"storyPoints,omitempty"`
	ClearStoryPoints bool    `json:"clearStoryPoints,omitempty"`
	EpicID           *string `json:"epicId,omitempty"`
	ClearEpic        bool    `json:"clearEpic,omitempty"`
}

// CreateItem appends a new item to the product backlog of a project.
func (e *Engine) CreateItem(ctx context.Context, projectID string, in NewItem) (*BacklogItem, error) {
	const op = "createItem"

	title := strings.TrimSpace(in.Title)
	if projectID == "" {
		return nil, invalidInput(op, "project id is required")
	}
	if title == "" {
		return nil, invalidInput(op, "item title is required")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.IsValid() {
		return nil, invalidInput(op, "unknown priority %q", in.Priority)
	}
	if in.Status == "" {
		in.Status = StatusNew
	}
	if !in.Status.IsValid() || in.Status == StatusRemoved {
		return nil, invalidInput(op, "items cannot be created with status %q", in.Status)
	}
	if err := validatePoints(op, in.StoryPoints); err != nil {
		return nil, err
	}

	var item *BacklogItem
	_, err := e.mutate(ctx, op, ActionCreateItem, projectID, func(tx Tx, m *mutation) error {
		items, err := tx.ListItems(ProductList(projectID))
		if err != nil {
			return err
		}
		item = &BacklogItem{
			ID:          e.newID(),
			ProjectID:   projectID,
			EpicID:      cloneStr(in.EpicID),
			AssigneeID:  cloneStr(in.AssigneeID),
			Type:        BacklogProduct,
			Title:       title,
			Description: in.Description,
			Priority:    in.Priority,
			Status:      in.Status,
			CreatedAt:   m.at,
			UpdatedAt:   m.at,
		}
		if in.StoryPoints != nil {
			item.StoryPoints = intPtr(*in.StoryPoints)
		}
		if item.Status == StatusDone {
			item.CompletedAt = timePtr(m.at)
		}

		seq := itemSequence(items)
		placements, err := seq.Insert(item.ID, seq.Len())
		if err != nil {
			return err
		}
		order, rest := placementFor(item.ID, placements)
		item.Order = order
		if err := tx.SetItemOrders(rest); err != nil {
			return err
		}
		return tx.InsertItem(item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// GetItem returns one item, removed ones included.
func (e *Engine) GetItem(ctx context.Context, itemID string) (*BacklogItem, error) {
	var item *BacklogItem
	err := e.view(ctx, "getItem", func(tx Tx) error {
		var err error
		item, err = tx.GetItem(itemID)
		return err
	})
	return item, err
}

// ProductBacklog lists the product backlog of a project in order.
func (e *Engine) ProductBacklog(ctx context.Context, projectID string) ([]*BacklogItem, error) {
	var items []*BacklogItem
	err := e.view(ctx, "productBacklog", func(tx Tx) error {
		var err error
		items, err = tx.ListItems(ProductList(projectID))
		return err
	})
	return items, err
}

// SprintBacklog lists the backlog of a sprint in order.
func (e *Engine) SprintBacklog(ctx context.Context, sprintID string) ([]*BacklogItem, error) {
	var items []*BacklogItem
	err := e.view(ctx, "sprintBacklog", func(tx Tx) error {
		if _, err := tx.GetSprint(sprintID); err != nil {
			return err
		}
		var err error
		items, err = tx.ListItems(SprintList(sprintID))
		return err
	})
	return items, err
}

// RemovedItems lists the removed items of a project for audit.
func (e *Engine) RemovedItems(ctx context.Context, projectID string) ([]*BacklogItem, error) {
	var items []*BacklogItem
	err := e.view(ctx, "removedItems", func(tx Tx) error {
		var err error
		items, err = tx.ListRemovedItems(projectID)
		return err
	})
	return items, err
}

// editItem loads a live item, applies fn and saves it.
func (e *Engine) editItem(ctx context.Context, op string, itemID string, fn func(tx Tx, m *mutation, item *BacklogItem) error) (*BacklogItem, []Warning, error) {
	var item *BacklogItem
	warnings, err := e.mutate(ctx, op, ActionUpdateItem, itemID, func(tx Tx, m *mutation) error {
		var err error
		item, err = tx.GetItem(itemID)
		if err != nil {
			return err
		}
		if item.Status == StatusRemoved {
			return newError(KindInvalidState, op, "backlog item %s has been removed", item.ID)
		}
		if err := fn(tx, m, item); err != nil {
			return err
		}
		item.UpdatedAt = m.at
		return tx.UpdateItem(item)
	})
	if err != nil {
		return nil, nil, err
	}
	return item, warnings, nil
}

// UpdateItem changes the descriptive fields of an item.
func (e *Engine) UpdateItem(ctx context.Context, itemID string, patch ItemPatch) (*BacklogItem, error) {
	const op = "updateItem"
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, invalidInput(op, "item title is required")
	}
	if err := validatePoints(op, patch.StoryPoints); err != nil {
		return nil, err
	}

	item, _, err := e.editItem(ctx, op, itemID, func(tx Tx, m *mutation, item *BacklogItem) error {
		if patch.Title != nil {
			item.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			item.Description = *patch.Description
		}
		switch {
		case patch.ClearEpic:
			item.EpicID = nil
		case patch.EpicID != nil:
			item.EpicID = strPtr(*patch.EpicID)
		}

		pointsChanged := false
		switch {
		case patch.ClearStoryPoints:
			pointsChanged = item.StoryPoints != nil
			item.StoryPoints = nil
		case patch.StoryPoints != nil:
			pointsChanged = item.Points() != *patch.StoryPoints || item.StoryPoints == nil
			item.StoryPoints = intPtr(*patch.StoryPoints)
		}
		if !pointsChanged {
			return nil
		}
		// The refresh reads the stored item, so persist first.
		item.UpdatedAt = m.at
		if err := tx.UpdateItem(item); err != nil {
			return err
		}
		return e.refreshSprint(tx, m, item.SprintID)
	})
	return item, err
}

// UpdatePriority sets the priority of an item.
func (e *Engine) UpdatePriority(ctx context.Context, itemID string, p Priority) (*BacklogItem, error) {
	const op = "updatePriority"
	if !p.IsValid() {
		return nil, invalidInput(op, "unknown priority %q", p)
	}
	item, _, err := e.editItem(ctx, op, itemID, func(tx Tx, m *mutation, item *BacklogItem) error {
		item.Priority = p
		return nil
	})
	return item, err
}

// Assign sets or clears the assignee of an item.
func (e *Engine) Assign(ctx context.Context, itemID string, userID *string) (*BacklogItem, error) {
	const op = "assign"
	if userID != nil && *userID == "" {
		userID = nil
	}
	item, _, err := e.editItem(ctx, op, itemID, func(tx Tx, m *mutation, item *BacklogItem) error {
		item.AssigneeID = cloneStr(userID)
		return nil
	})
	return item, err
}

// UpdateStatus sets the status of an item. Any legal target is accepted from a live status;
// done and removed items cannot change. Setting removed is the same as Remove.
func (e *Engine) UpdateStatus(ctx context.Context, itemID string, status ItemStatus) (Result[*BacklogItem], error) {
	const op = "updateStatus"
	if !status.IsValid() {
		return Result[*BacklogItem]{}, invalidInput(op, "unknown status %q", status)
	}
	if status == StatusRemoved {
		return e.Remove(ctx, itemID)
	}

	var item *BacklogItem
	warnings, err := e.mutate(ctx, op, ActionUpdateItem, itemID, func(tx Tx, m *mutation) error {
		var err error
		item, err = tx.GetItem(itemID)
		if err != nil {
			return err
		}
		if item.Status == status {
			return nil
		}
		if item.Status.IsTerminal() {
			return newError(KindInvalidState, op, "backlog item %s is %s", item.ID, item.Status)
		}
		if err := e.saveItemStatus(tx, m, item, status); err != nil {
			return err
		}
		if status == StatusDone {
			return e.itemCompleted(tx, m, item)
		}
		return nil
	})
	if err != nil {
		return Result[*BacklogItem]{}, err
	}
	return Result[*BacklogItem]{Value: item, Warnings: warnings}, nil
}

// saveItemStatus persists a status change and refreshes the totals of the item's sprint.
func (e *Engine) saveItemStatus(tx Tx, m *mutation, item *BacklogItem, status ItemStatus) error {
	item.Status = status
	if status == StatusDone {
		item.CompletedAt = timePtr(m.at)
	} else {
		item.CompletedAt = nil
	}
	item.UpdatedAt = m.at
	if err := tx.UpdateItem(item); err != nil {
		return err
	}
	return e.refreshSprint(tx, m, item.SprintID)
}

// Remove archives an item: it leaves its list, stops counting toward sprint totals and loses
// its card link, but stays readable through GetItem and RemovedItems.
func (e *Engine) Remove(ctx context.Context, itemID string) (Result[*BacklogItem], error) {
	const op = "remove"

	var item *BacklogItem
	warnings, err := e.mutate(ctx, op, ActionRemoveItem, itemID, func(tx Tx, m *mutation) error {
		var err error
		item, err = tx.GetItem(itemID)
		if err != nil {
			return err
		}
		if item.Status.IsTerminal() {
			return newError(KindInvalidState, op, "backlog item %s is %s", item.ID, item.Status)
		}

		items, err := tx.ListItems(item.List())
		if err != nil {
			return err
		}
		seq := itemSequence(items)
		var placements []Placement
		if seq.IndexOf(item.ID) >= 0 {
			if placements, err = seq.Remove(item.ID); err != nil {
				return err
			}
		}
		if err := e.itemRemoved(tx, m, item); err != nil {
			return err
		}
		item.Status = StatusRemoved
		item.CompletedAt = nil
		item.UpdatedAt = m.at
		if err := tx.UpdateItem(item); err != nil {
			return err
		}
		if err := tx.SetItemOrders(placements); err != nil {
			return err
		}
		return e.refreshSprint(tx, m, item.SprintID)
	})
	if err != nil {
		return Result[*BacklogItem]{}, err
	}
	return Result[*BacklogItem]{Value: item, Warnings: warnings}, nil
}

// MoveItem moves an item to index within the product backlog (destSprintID empty) or the
// backlog of destSprintID, which must belong to the item's project.
func (e *Engine) MoveItem(ctx context.Context, itemID string, destType BacklogType, destSprintID string, index int) (Result[*BacklogItem], error) {
	const op = "moveItem"

	var item *BacklogItem
	warnings, err := e.mutate(ctx, op, ActionMoveItem, itemID, func(tx Tx, m *mutation) error {
		var err error
		item, err = tx.GetItem(itemID)
		if err != nil {
			return err
		}
		return e.moveItem(op, tx, m, item, destType, destSprintID, index)
	})
	if err != nil {
		return Result[*BacklogItem]{}, err
	}
	return Result[*BacklogItem]{Value: item, Warnings: warnings}, nil
}

func (e *Engine) moveItem(op string, tx Tx, m *mutation, item *BacklogItem, destType BacklogType, destSprintID string, index int) error {
	if item.Status == StatusRemoved {
		return newError(KindInvalidState, op, "backlog item %s has been removed", item.ID)
	}
	dest, err := destination(op, tx, item, destType, destSprintID)
	if err != nil {
		return err
	}

	src := item.List()
	if src == dest {
		items, err := tx.ListItems(src)
		if err != nil {
			return err
		}
		placements, err := itemSequence(items).Move(item.ID, index)
		if err != nil {
			return err
		}
		if len(placements) == 0 {
			return nil
		}
		if order, _ := placementFor(item.ID, placements); order >= 0 {
			item.Order = order
		}
		return tx.SetItemOrders(placements)
	}

	srcItems, err := tx.ListItems(src)
	if err != nil {
		return err
	}
	removed, err := itemSequence(srcItems).Remove(item.ID)
	if err != nil {
		return err
	}
	destItems, err := tx.ListItems(dest)
	if err != nil {
		return err
	}
	inserted, err := itemSequence(destItems).Insert(item.ID, index)
	if err != nil {
		return err
	}
	order, rest := placementFor(item.ID, inserted)

	oldSprint := item.SprintID
	item.Type = dest.Type
	item.SprintID = nil
	if dest.Type == BacklogSprint {
		item.SprintID = strPtr(dest.SprintID)
	}
	item.Order = order
	item.UpdatedAt = m.at
	if err := tx.UpdateItem(item); err != nil {
		return err
	}
	if err := tx.SetItemOrders(removed); err != nil {
		return err
	}
	if err := tx.SetItemOrders(rest); err != nil {
		return err
	}

	if err := e.refreshSprint(tx, m, oldSprint); err != nil {
		return err
	}
	if err := e.refreshSprint(tx, m, item.SprintID); err != nil {
		return err
	}
	return e.itemListChanged(tx, m, item)
}

// destination validates a move target and returns the list it names.
func destination(op string, tx Tx, item *BacklogItem, destType BacklogType, destSprintID string) (ItemList, error) {
	switch destType {
	case BacklogProduct:
		if destSprintID != "" {
			return ItemList{}, newError(KindInvalidDestination, op, "the product backlog takes no sprint, got %s", destSprintID)
		}
		return ProductList(item.ProjectID), nil
	case BacklogSprint:
		if destSprintID == "" {
			return ItemList{}, newError(KindInvalidDestination, op, "a sprint backlog needs a sprint")
		}
		sprint, err := tx.GetSprint(destSprintID)
		if err != nil {
			return ItemList{}, err
		}
		if sprint.ProjectID != item.ProjectID {
			return ItemList{}, newError(KindInvalidDestination, op, "sprint %s belongs to project %s, item %s to project %s",
				sprint.ID, sprint.ProjectID, item.ID, item.ProjectID)
		}
		if sprint.Status == SprintCompleted {
			return ItemList{}, newError(KindInvalidDestination, op, "sprint %s is completed", sprint.ID)
		}
		return SprintList(sprint.ID), nil
	}
	return ItemList{}, invalidInput(op, "unknown backlog type %q", destType)
}
