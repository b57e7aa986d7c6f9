package agile_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile/agiletest"
)

func TestState_Contract(t *testing.T) {
	agiletest.Run(t, func(t *testing.T) agile.Store {
		return agile.NewState("")
	})
}

func TestState_FileContract(t *testing.T) {
	agiletest.Run(t, func(t *testing.T) agile.Store {
		return agile.NewState(filepath.Join(t.TempDir(), "board.json"))
	})
}

func TestState_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "board.json")
	ctx := context.Background()

	s := agile.NewState(path)
	require.NoError(t, s.Load(), "a missing file is an empty dataset")
	e := agile.NewEngine(s)

	b, err := e.CreateBoard(ctx, agile.NewBoard{ProjectID: "p", Name: "Team"})
	require.NoError(t, err)
	item, err := e.CreateItem(ctx, "p", agile.NewItem{Title: "persisted"})
	require.NoError(t, err)

	reloaded := agile.NewState(path)
	require.NoError(t, reloaded.Load())
	e2 := agile.NewEngine(reloaded)

	view, err := e2.GetBoard(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Team", view.Name)
	assert.Len(t, view.Columns, 3)

	got, err := e2.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Title)
}

func TestState_NoopMoveLeavesFileUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.json")
	ctx := context.Background()
	e := agile.NewEngine(agile.NewState(path))

	b, err := e.CreateBoard(ctx, agile.NewBoard{ProjectID: "p", Name: "Team"})
	require.NoError(t, err)
	col := b.Columns[0].ID
	card, err := e.CreateCard(ctx, col, agile.NewCard{Title: "stay"})
	require.NoError(t, err)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = e.MoveCard(ctx, card.Value.ID, col, 0)
	require.NoError(t, err)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestState_FailedUpdateLeavesNothing(t *testing.T) {
	s := agile.NewState("")
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx agile.Tx) error {
		require.NoError(t, tx.InsertBoard(&agile.Board{ID: "b1", ProjectID: "p", Name: "x"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(tx agile.Tx) error {
		_, err := tx.GetBoard("b1")
		return err
	})
	assert.True(t, agile.IsNotFound(err))
}

func TestState_ViewIsReadOnly(t *testing.T) {
	s := agile.NewState("")
	err := s.View(context.Background(), func(tx agile.Tx) error {
		return tx.InsertBoard(&agile.Board{ID: "b1"})
	})
	assert.Error(t, err)
}

func TestState_ReturnsCopies(t *testing.T) {
	s := agile.NewState("")
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx agile.Tx) error {
		return tx.InsertCard(&agile.Card{ID: "c1", ColumnID: "col", Labels: []string{"a"}})
	}))

	require.NoError(t, s.View(ctx, func(tx agile.Tx) error {
		c, err := tx.GetCard("c1")
		require.NoError(t, err)
		c.Labels[0] = "mutated"
		c.Title = "mutated"
		return nil
	}))

	require.NoError(t, s.View(ctx, func(tx agile.Tx) error {
		c, err := tx.GetCard("c1")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, c.Labels)
		assert.Empty(t, c.Title)
		return nil
	}))
}

func TestState_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := agile.NewState("").Update(ctx, func(agile.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
