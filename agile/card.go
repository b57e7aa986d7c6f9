package agile

import (
	"context"
	"strings"
	"time"
)

// NewCard describes a card to create. A nil Position appends to the column.
type NewCard struct {
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Type          CardType   `json:"type,omitempty"`
	Priority      Priority   `json:"priority,omitempty"`
	StoryPoints   *int       `json:"storyPoints,omitempty"`
	Labels        []string   `json:"labels,omitempty"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	EpicID        *string    `json:"epicId,omitempty"`
	SprintID      *string    `json:"sprintId,omitempty"`
	BacklogItemID *string    `json:"backlogItemId,omitempty"`
	Position      *int       `json:"position,omitempty"`
}

// CardPatch holds the card fields to change. Nil fields are left alone; the Clear flags unset
// nullable fields.
type CardPatch struct {
	Title            *string    `json:"title,omitempty"`
	Description      *string    `json:"description,omitempty"`
	Type             *CardType  `json:"type,omitempty"`
	Priority         *Priority  `json:"priority,omitempty"`
	StoryPoints      *int       `json:"storyPoints,omitempty"`
	ClearStoryPoints bool       `json:"clearStoryPoints,omitempty"`
	Labels           *[]string  `json:"labels,omitempty"`
	DueDate          *time.Time `json:"dueDate,omitempty"`
	ClearDueDate     bool       `json:"clearDueDate,omitempty"`
	EpicID           *string    `json:"epicId,omitempty"`
	ClearEpic        bool       `json:"clearEpic,omitempty"`
}

func (n *NewCard) validate(op string) error {
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" {
		return invalidInput(op, "card title is required")
	}
	if n.Type == "" {
		n.Type = CardTypeStory
	}
	if !n.Type.IsValid() {
		return invalidInput(op, "unknown card type %q", n.Type)
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	if !n.Priority.IsValid() {
		return invalidInput(op, "unknown priority %q", n.Priority)
	}
	return validatePoints(op, n.StoryPoints)
}

// CreateCard places a new card in a column. When a backlog item id is given the card is linked
// to it, and creating the card straight into a done column completes the item.
func (e *Engine) CreateCard(ctx context.Context, columnID string, in NewCard) (Result[*Card], error) {
	const op = "createCard"
	if err := in.validate(op); err != nil {
		return Result[*Card]{}, err
	}

	var card *Card
	warnings, err := e.mutate(ctx, op, ActionCreateCard, columnID, func(tx Tx, m *mutation) error {
		col, err := tx.GetColumn(columnID)
		if err != nil {
			return err
		}
		if in.SprintID != nil {
			if err := checkCardSprint(op, tx, col.BoardID, *in.SprintID); err != nil {
				return err
			}
		}

		card = &Card{
			ID:          e.newID(),
			BoardID:     col.BoardID,
			ColumnID:    col.ID,
			Title:       in.Title,
			Description: in.Description,
			SprintID:    cloneStr(in.SprintID),
			EpicID:      cloneStr(in.EpicID),
			Type:        in.Type,
			Priority:    in.Priority,
			Status:      col.Name,
			Labels:      append([]string(nil), in.Labels...),
			CreatedAt:   m.at,
			UpdatedAt:   m.at,
		}
		if in.StoryPoints != nil {
			card.StoryPoints = intPtr(*in.StoryPoints)
		}
		if in.DueDate != nil {
			card.DueDate = timePtr(*in.DueDate)
		}

		cards, err := tx.ListCards(col.ID)
		if err != nil {
			return err
		}
		e.checkWIP(col, len(cards), card.ID, m)

		seq := cardSequence(cards)
		index := seq.Len()
		if in.Position != nil {
			index = *in.Position
		}
		placements, err := seq.Insert(card.ID, index)
		if err != nil {
			return err
		}
		order, rest := placementFor(card.ID, placements)
		card.Order = order
		if err := tx.SetCardOrders(rest); err != nil {
			return err
		}
		if err := tx.InsertCard(card); err != nil {
			return err
		}

		if in.BacklogItemID != nil {
			return e.link(op, tx, m, card, col, *in.BacklogItemID)
		}
		return nil
	})
	if err != nil {
		return Result[*Card]{}, err
	}
	return Result[*Card]{Value: card, Warnings: warnings}, nil
}

func checkCardSprint(op string, tx Tx, boardID, sprintID string) error {
	sprint, err := tx.GetSprint(sprintID)
	if err != nil {
		return err
	}
	if sprint.BoardID != boardID {
		return invalidInput(op, "sprint %s belongs to board %s, not %s", sprint.ID, sprint.BoardID, boardID)
	}
	return nil
}

// checkWIP attaches a WipExceeded warning and event when adding one card to a column holding
// count cards goes above its limit. The card is placed regardless.
func (e *Engine) checkWIP(col *Column, count int, cardID string, m *mutation) {
	if col.WIPLimit == nil || count+1 <= *col.WIPLimit {
		return
	}
	m.warn(WarningWipExceeded, col.ID, "column %q holds %d cards, limit is %d", col.Name, count+1, *col.WIPLimit)
	m.emit(Event{
		Kind:     EventWipExceeded,
		BoardID:  col.BoardID,
		ColumnID: col.ID,
		CardID:   cardID,
	})
}

// GetCard returns one card.
func (e *Engine) GetCard(ctx context.Context, cardID string) (*Card, error) {
	var card *Card
	err := e.view(ctx, "getCard", func(tx Tx) error {
		var err error
		card, err = tx.GetCard(cardID)
		return err
	})
	return card, err
}

// UpdateCard changes the descriptive fields of a card.
func (e *Engine) UpdateCard(ctx context.Context, cardID string, patch CardPatch) (*Card, error) {
	const op = "updateCard"
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, invalidInput(op, "card title is required")
	}
	if patch.Type != nil && !patch.Type.IsValid() {
		return nil, invalidInput(op, "unknown card type %q", *patch.Type)
	}
	if patch.Priority != nil && !patch.Priority.IsValid() {
		return nil, invalidInput(op, "unknown priority %q", *patch.Priority)
	}
	if err := validatePoints(op, patch.StoryPoints); err != nil {
		return nil, err
	}

	var card *Card
	_, err := e.mutate(ctx, op, ActionUpdateCard, cardID, func(tx Tx, m *mutation) error {
		var err error
		card, err = tx.GetCard(cardID)
		if err != nil {
			return err
		}
		if patch.Title != nil {
			card.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			card.Description = *patch.Description
		}
		if patch.Type != nil {
			card.Type = *patch.Type
		}
		if patch.Priority != nil {
			card.Priority = *patch.Priority
		}
		switch {
		case patch.ClearStoryPoints:
			card.StoryPoints = nil
		case patch.StoryPoints != nil:
			card.StoryPoints = intPtr(*patch.StoryPoints)
		}
		if patch.Labels != nil {
			card.Labels = append([]string(nil), (*patch.Labels)...)
		}
		switch {
		case patch.ClearDueDate:
			card.DueDate = nil
		case patch.DueDate != nil:
			card.DueDate = timePtr(*patch.DueDate)
		}
		switch {
		case patch.ClearEpic:
			card.EpicID = nil
		case patch.EpicID != nil:
			card.EpicID = strPtr(*patch.EpicID)
		}
		card.UpdatedAt = m.at
		return tx.UpdateCard(card)
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// DeleteCard removes a card from its column. A linked backlog item loses its card link and is
// otherwise untouched.
func (e *Engine) DeleteCard(ctx context.Context, cardID string) ([]Warning, error) {
	const op = "deleteCard"

	return e.mutate(ctx, op, ActionDeleteCard, cardID, func(tx Tx, m *mutation) error {
		card, err := tx.GetCard(cardID)
		if err != nil {
			return err
		}
		cards, err := tx.ListCards(card.ColumnID)
		if err != nil {
			return err
		}
		placements, err := cardSequence(cards).Remove(card.ID)
		if err != nil {
			return err
		}
		if err := tx.DeleteCard(card.ID); err != nil {
			return err
		}
		if err := tx.SetCardOrders(placements); err != nil {
			return err
		}
		return e.unlinkItem(tx, m, card)
	})
}

// MoveCard moves a card to index within destColumnID, which must be on the card's board.
// Exceeding the destination's WIP limit is reported, never refused.
func (e *Engine) MoveCard(ctx context.Context, cardID, destColumnID string, index int) (Result[*Card], error) {
	const op = "moveCard"

	var card *Card
	warnings, err := e.mutate(ctx, op, ActionMoveCard, cardID, func(tx Tx, m *mutation) error {
		var err error
		card, err = tx.GetCard(cardID)
		if err != nil {
			return err
		}
		dest, err := tx.GetColumn(destColumnID)
		if err != nil {
			return err
		}
		if dest.BoardID != card.BoardID {
			return newError(KindCrossBoardMoveForbidden, op, "column %s is on board %s, card %s is on board %s", dest.ID, dest.BoardID, card.ID, card.BoardID)
		}
		src, err := tx.GetColumn(card.ColumnID)
		if err != nil {
			return err
		}
		card, err = e.moveCard(tx, m, card, src, dest, index)
		if err != nil {
			return err
		}
		if src.ID != dest.ID {
			return e.cardMoved(tx, m, card, src, dest)
		}
		return nil
	})
	if err != nil {
		return Result[*Card]{}, err
	}
	return Result[*Card]{Value: card, Warnings: warnings}, nil
}

// moveCard relocates card from src to dest without any bridge bookkeeping. A move to the
// card's current rank writes nothing.
func (e *Engine) moveCard(tx Tx, m *mutation, card *Card, src, dest *Column, index int) (*Card, error) {
	if src.ID == dest.ID {
		cards, err := tx.ListCards(src.ID)
		if err != nil {
			return nil, err
		}
		placements, err := cardSequence(cards).Move(card.ID, index)
		if err != nil {
			return nil, err
		}
		if len(placements) == 0 {
			return card, nil
		}
		if order, _ := placementFor(card.ID, placements); order >= 0 {
			card.Order = order
		}
		return card, tx.SetCardOrders(placements)
	}

	srcCards, err := tx.ListCards(src.ID)
	if err != nil {
		return nil, err
	}
	removed, err := cardSequence(srcCards).Remove(card.ID)
	if err != nil {
		return nil, err
	}

	destCards, err := tx.ListCards(dest.ID)
	if err != nil {
		return nil, err
	}
	e.checkWIP(dest, len(destCards), card.ID, m)
	inserted, err := cardSequence(destCards).Insert(card.ID, index)
	if err != nil {
		return nil, err
	}
	order, rest := placementFor(card.ID, inserted)

	card.ColumnID = dest.ID
	card.Order = order
	card.Status = dest.Name
	card.UpdatedAt = m.at
	if err := tx.UpdateCard(card); err != nil {
		return nil, err
	}
	if err := tx.SetCardOrders(removed); err != nil {
		return nil, err
	}
	if err := tx.SetCardOrders(rest); err != nil {
		return nil, err
	}
	return card, nil
}

// LinkCard links a card to a backlog item. Neither side may already be linked elsewhere.
func (e *Engine) LinkCard(ctx context.Context, cardID, itemID string) (Result[*Card], error) {
	const op = "linkCard"

	var card *Card
	warnings, err := e.mutate(ctx, op, ActionLinkCard, cardID, func(tx Tx, m *mutation) error {
		var err error
		card, err = tx.GetCard(cardID)
		if err != nil {
			return err
		}
		if card.BacklogItemID != nil {
			if *card.BacklogItemID == itemID {
				return nil
			}
			return invalidInput(op, "card %s is already linked to backlog item %s", card.ID, *card.BacklogItemID)
		}
		col, err := tx.GetColumn(card.ColumnID)
		if err != nil {
			return err
		}
		return e.link(op, tx, m, card, col, itemID)
	})
	if err != nil {
		return Result[*Card]{}, err
	}
	return Result[*Card]{Value: card, Warnings: warnings}, nil
}

// UnlinkCard clears the link between a card and its backlog item.
func (e *Engine) UnlinkCard(ctx context.Context, cardID string) (Result[*Card], error) {
	const op = "unlinkCard"

	var card *Card
	warnings, err := e.mutate(ctx, op, ActionLinkCard, cardID, func(tx Tx, m *mutation) error {
		var err error
		card, err = tx.GetCard(cardID)
		if err != nil {
			return err
		}
		if card.BacklogItemID == nil {
			return nil
		}
		if err := e.unlinkItem(tx, m, card); err != nil {
			return err
		}
		card.BacklogItemID = nil
		card.UpdatedAt = m.at
		return tx.UpdateCard(card)
	})
	if err != nil {
		return Result[*Card]{}, err
	}
	return Result[*Card]{Value: card, Warnings: warnings}, nil
}
