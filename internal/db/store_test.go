package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile/agiletest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "agile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStore_Contract(t *testing.T) {
	agiletest.Run(t, func(t *testing.T) agile.Store {
		return NewStore(openTestDB(t))
	})
}

func TestOpen_Migrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agile.db")
	db, err := Open(path)
	require.NoError(t, err)

	v, err := db.Version()
	require.NoError(t, err)
	assert.Equal(t, LatestVersion(), v)
	assert.Equal(t, path, db.Path())
	require.NoError(t, db.Close())

	// Reopening applies nothing new.
	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	v, err = db.Version()
	require.NoError(t, err)
	assert.Equal(t, LatestVersion(), v)
}

func TestStore_RoundTripsNullableFields(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 9, 30, 15, 123000000, time.UTC)
	due := at.Add(72 * time.Hour)

	require.NoError(t, s.Update(ctx, func(tx agile.Tx) error {
		if err := tx.InsertBoard(&agile.Board{ID: "b1", ProjectID: "p", Name: "Team", Type: agile.BoardTypeScrum,
			Settings: agile.DefaultBoardSettings(), CreatedAt: at, UpdatedAt: at}); err != nil {
			return err
		}
		if err := tx.InsertColumn(&agile.Column{ID: "col1", BoardID: "b1", Name: "Done", WIPLimit: intp(3),
			IsDoneColumn: true, CreatedAt: at, UpdatedAt: at}); err != nil {
			return err
		}
		return tx.InsertCard(&agile.Card{ID: "c1", BoardID: "b1", ColumnID: "col1", Title: "Ship",
			Type: agile.CardTypeBug, Priority: agile.PriorityHigh, StoryPoints: intp(5), Status: "Done",
			Labels: []string{"api", "urgent"}, DueDate: &due, BacklogItemID: strp("i1"),
			CreatedAt: at, UpdatedAt: at})
	}))

	require.NoError(t, s.View(ctx, func(tx agile.Tx) error {
		col, err := tx.GetColumn("col1")
		require.NoError(t, err)
		assert.True(t, col.IsDoneColumn)
		require.NotNil(t, col.WIPLimit)
		assert.Equal(t, 3, *col.WIPLimit)

		c, err := tx.GetCard("c1")
		require.NoError(t, err)
		assert.Equal(t, []string{"api", "urgent"}, c.Labels)
		assert.Equal(t, agile.CardTypeBug, c.Type)
		assert.Nil(t, c.SprintID)
		assert.Nil(t, c.EpicID)
		require.NotNil(t, c.BacklogItemID)
		assert.Equal(t, "i1", *c.BacklogItemID)
		require.NotNil(t, c.DueDate)
		assert.True(t, due.Equal(*c.DueDate))
		assert.True(t, at.Equal(c.CreatedAt))
		return nil
	}))
}

func TestStore_ViewIsReadOnly(t *testing.T) {
	s := NewStore(openTestDB(t))
	err := s.View(context.Background(), func(tx agile.Tx) error {
		return tx.InsertBoard(&agile.Board{ID: "b1"})
	})
	assert.ErrorIs(t, err, errReadOnly)
}

func TestStore_MissingRowsAreNotFound(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	err := s.View(ctx, func(tx agile.Tx) error {
		_, err := tx.GetSprint("nope")
		return err
	})
	assert.True(t, agile.IsNotFound(err))

	err = s.Update(ctx, func(tx agile.Tx) error {
		return tx.SetItemOrders([]agile.Placement{{ID: "nope", Order: 1}})
	})
	assert.True(t, agile.IsNotFound(err))

	err = s.Update(ctx, func(tx agile.Tx) error {
		return tx.DeleteCard("nope")
	})
	assert.True(t, agile.IsNotFound(err))
}

func intp(n int) *int       { return &n }
func strp(s string) *string { return &s }
