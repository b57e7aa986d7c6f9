package agile

// The bridge keeps a card and its backlog item in step. Inconsistencies between the two sides
// are reported as warnings; they never fail the operation that triggered the bookkeeping.

// link establishes the card/item link on both sides. card must already be persisted.
func (e *Engine) link(op string, tx Tx, m *mutation, card *Card, col *Column, itemID string) error {
	item, err := tx.GetItem(itemID)
	if err != nil {
		return err
	}
	if item.Status == StatusRemoved {
		return invalidInput(op, "backlog item %s has been removed", item.ID)
	}
	if item.CardID != nil && *item.CardID != card.ID {
		return invalidInput(op, "backlog item %s is already linked to card %s", item.ID, *item.CardID)
	}

	board, err := tx.GetBoard(card.BoardID)
	if err != nil {
		return err
	}
	if board.ProjectID != item.ProjectID {
		m.warn(WarningBridgeInconsistent, card.ID, "card %s is on a board of project %s, backlog item %s belongs to project %s",
			card.ID, board.ProjectID, item.ID, item.ProjectID)
	}

	card.BacklogItemID = strPtr(item.ID)
	if item.SprintID != nil {
		card.SprintID = strPtr(*item.SprintID)
	}
	card.UpdatedAt = m.at
	if err := tx.UpdateCard(card); err != nil {
		return err
	}

	item.CardID = strPtr(card.ID)
	item.UpdatedAt = m.at
	if !col.IsDoneColumn {
		return tx.UpdateItem(item)
	}
	m.emit(Event{Kind: EventCardCompleted, BoardID: card.BoardID, ColumnID: col.ID, CardID: card.ID, ItemID: item.ID})
	if item.Status == StatusDone {
		return tx.UpdateItem(item)
	}
	return e.saveItemStatus(tx, m, item, StatusDone)
}

// unlinkItem clears the item side of the card's link.
func (e *Engine) unlinkItem(tx Tx, m *mutation, card *Card) error {
	if card.BacklogItemID == nil {
		return nil
	}
	item, err := tx.GetItem(*card.BacklogItemID)
	if IsNotFound(err) {
		m.warn(WarningBridgeInconsistent, card.ID, "card %s links missing backlog item %s", card.ID, *card.BacklogItemID)
		return nil
	}
	if err != nil {
		return err
	}
	if item.CardID == nil || *item.CardID != card.ID {
		m.warn(WarningBridgeInconsistent, item.ID, "backlog item %s does not link back to card %s", item.ID, card.ID)
		return nil
	}
	item.CardID = nil
	item.UpdatedAt = m.at
	return tx.UpdateItem(item)
}

// linkedItem returns the backlog item linked to card, or nil when there is none or the link
// is broken.
func (e *Engine) linkedItem(tx Tx, m *mutation, card *Card) (*BacklogItem, error) {
	if card.BacklogItemID == nil {
		return nil, nil
	}
	item, err := tx.GetItem(*card.BacklogItemID)
	if IsNotFound(err) {
		m.warn(WarningBridgeInconsistent, card.ID, "card %s links missing backlog item %s", card.ID, *card.BacklogItemID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if item.CardID == nil || *item.CardID != card.ID {
		m.warn(WarningBridgeInconsistent, item.ID, "backlog item %s does not link back to card %s", item.ID, card.ID)
		return nil, nil
	}
	if item.Status == StatusRemoved {
		m.warn(WarningBridgeInconsistent, item.ID, "card %s is linked to removed backlog item %s", card.ID, item.ID)
		return nil, nil
	}
	return item, nil
}

// linkedCard returns the card linked to item, or nil when there is none or the link is broken.
func (e *Engine) linkedCard(tx Tx, m *mutation, item *BacklogItem) (*Card, error) {
	if item.CardID == nil {
		return nil, nil
	}
	card, err := tx.GetCard(*item.CardID)
	if IsNotFound(err) {
		m.warn(WarningBridgeInconsistent, item.ID, "backlog item %s links missing card %s", item.ID, *item.CardID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if card.BacklogItemID == nil || *card.BacklogItemID != item.ID {
		m.warn(WarningBridgeInconsistent, card.ID, "card %s does not link back to backlog item %s", card.ID, item.ID)
		return nil, nil
	}
	return card, nil
}

// cardMoved applies the done-column rules after card moved from src to another column dest.
func (e *Engine) cardMoved(tx Tx, m *mutation, card *Card, src, dest *Column) error {
	item, err := e.linkedItem(tx, m, card)
	if err != nil || item == nil {
		return err
	}

	switch {
	case dest.IsDoneColumn:
		m.emit(Event{Kind: EventCardCompleted, BoardID: card.BoardID, ColumnID: dest.ID, CardID: card.ID, ItemID: item.ID})
		if item.Status != StatusDone {
			return e.saveItemStatus(tx, m, item, StatusDone)
		}
	case src.IsDoneColumn && item.Status == StatusDone:
		// Reopened work has demonstrably been started.
		return e.saveItemStatus(tx, m, item, StatusInProgress)
	}
	return nil
}

// itemCompleted moves the card of a newly done item to the end of the first done column of its
// board, unless it already sits in a done column.
func (e *Engine) itemCompleted(tx Tx, m *mutation, item *BacklogItem) error {
	card, err := e.linkedCard(tx, m, item)
	if err != nil || card == nil {
		return err
	}
	src, err := tx.GetColumn(card.ColumnID)
	if err != nil {
		return err
	}
	if src.IsDoneColumn {
		return nil
	}

	cols, err := tx.ListColumns(card.BoardID)
	if err != nil {
		return err
	}
	var dest *Column
	for _, c := range cols {
		if c.IsDoneColumn {
			dest = c
			break
		}
	}
	if dest == nil {
		m.warn(WarningBridgeInconsistent, card.ID, "board %s has no done column for card %s", card.BoardID, card.ID)
		return nil
	}

	n, err := tx.CountCards(dest.ID)
	if err != nil {
		return err
	}
	if _, err := e.moveCard(tx, m, card, src, dest, n); err != nil {
		return err
	}
	m.emit(Event{Kind: EventCardCompleted, BoardID: card.BoardID, ColumnID: dest.ID, CardID: card.ID, ItemID: item.ID})
	return nil
}

// itemListChanged points the linked card at the item's sprint, or clears its sprint when the
// item went back to the product backlog. The card keeps its column.
func (e *Engine) itemListChanged(tx Tx, m *mutation, item *BacklogItem) error {
	card, err := e.linkedCard(tx, m, item)
	if err != nil || card == nil {
		return err
	}
	if equalStrPtr(card.SprintID, item.SprintID) {
		return nil
	}
	if item.SprintID != nil {
		sprint, err := tx.GetSprint(*item.SprintID)
		if err != nil {
			return err
		}
		if sprint.BoardID != card.BoardID {
			m.warn(WarningBridgeInconsistent, card.ID, "card %s is on board %s, sprint %s runs on board %s",
				card.ID, card.BoardID, sprint.ID, sprint.BoardID)
		}
	}
	card.SprintID = cloneStr(item.SprintID)
	card.UpdatedAt = m.at
	return tx.UpdateCard(card)
}

// itemRemoved clears the link between a removed item and its card. The card stays where it is.
func (e *Engine) itemRemoved(tx Tx, m *mutation, item *BacklogItem) error {
	card, err := e.linkedCard(tx, m, item)
	item.CardID = nil
	if err != nil || card == nil {
		return err
	}
	card.BacklogItemID = nil
	card.UpdatedAt = m.at
	return tx.UpdateCard(card)
}
