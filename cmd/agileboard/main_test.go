package main

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
)

type cli struct {
	t    *testing.T
	args []string
}

func newCLI(t *testing.T) *cli {
	t.Setenv("AGILEBOARD_DB", "")
	t.Setenv("AGILEBOARD_DB_DRIVER", "")
	dbPath := filepath.Join(t.TempDir(), "board.db")
	return &cli{t: t, args: []string{"--db", dbPath, "--driver", "sqlite"}}
}

func (c *cli) exec(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(append([]string(nil), c.args...), args...))
	err := cmd.Execute()
	return out.String(), err
}

// run executes args and decodes the data field of the output into v.
func (c *cli) run(v any, args ...string) {
	c.t.Helper()
	out, err := c.exec(args...)
	require.NoError(c.t, err, "agileboard %v", args)
	if v == nil {
		return
	}
	env := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(c.t, json.Unmarshal([]byte(out), &env))
	require.NoError(c.t, json.Unmarshal(env.Data, v))
}

func TestCLI_SprintFlow(t *testing.T) {
	c := newCLI(t)

	var board agile.BoardView
	c.run(&board, "board", "create", "--project", "p1", "--type", "scrum", "Team")
	require.Len(t, board.Columns, 5)
	todo, done := board.Columns[1], board.Columns[4]
	assert.Equal(t, "To Do", todo.Name)
	assert.True(t, done.IsDoneColumn)

	var item agile.BacklogItem
	c.run(&item, "item", "add", "p1", "Login page", "--points", "5")

	var sprint agile.Sprint
	c.run(&sprint, "sprint", "create", board.ID, "Sprint 1", "--start", "2026-03-02", "--end", "2026-03-13")
	assert.Equal(t, agile.SprintPlanning, sprint.Status)

	var moved agile.BacklogItem
	c.run(&moved, "item", "move", item.ID, "--sprint", sprint.ID)
	assert.Equal(t, agile.BacklogSprint, moved.Type)

	var started agile.Sprint
	c.run(&started, "sprint", "start", sprint.ID)
	assert.Equal(t, agile.SprintActive, started.Status)
	assert.Equal(t, 5, started.PlannedStoryPoints)

	var card agile.Card
	c.run(&card, "card", "add", todo.ID, "Login page", "--item", item.ID)
	require.NotNil(t, card.SprintID)
	assert.Equal(t, sprint.ID, *card.SprintID)

	c.run(nil, "card", "move", card.ID, done.ID)

	var backlog []*agile.BacklogItem
	c.run(&backlog, "item", "list", "--sprint", sprint.ID)
	require.Len(t, backlog, 1)
	assert.Equal(t, agile.StatusDone, backlog[0].Status)

	var progress agile.Progress
	c.run(&progress, "sprint", "progress", sprint.ID)
	assert.Equal(t, 5, progress.CompletedPoints)
	assert.Equal(t, 100, progress.CompletionPercentage)

	var completed agile.Sprint
	c.run(&completed, "sprint", "complete", sprint.ID)
	assert.Equal(t, agile.SprintCompleted, completed.Status)
}

func TestCLI_ErrorsCarryCategory(t *testing.T) {
	c := newCLI(t)

	var board agile.BoardView
	c.run(&board, "board", "create", "--project", "p1", "Ops")
	col := board.Columns[0]
	c.run(nil, "card", "add", col.ID, "Patch servers")

	_, err := c.exec("column", "delete", col.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict: ")
	assert.ErrorIs(t, err, &agile.Error{Kind: agile.KindColumnNotEmpty})

	_, err = c.exec("board", "show", "missing")
	assert.ErrorIs(t, err, &agile.Error{Kind: agile.KindNotFound})
}

func TestCLI_ColumnMoveDefaultsToOwnBoard(t *testing.T) {
	c := newCLI(t)

	var board agile.BoardView
	c.run(&board, "board", "create", "--project", "p1", "Ops")
	last := board.Columns[len(board.Columns)-1]

	var col agile.Column
	c.run(&col, "column", "move", last.ID, "--index", "0")
	assert.Equal(t, 0, col.Order)

	var view agile.BoardView
	c.run(&view, "board", "show", board.ID)
	assert.Equal(t, last.ID, view.Columns[0].ID)
}

func TestCLI_Migrate(t *testing.T) {
	c := newCLI(t)
	out, err := c.exec("migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 2")
}

func TestCLI_MemoryDriverDoesNotPersist(t *testing.T) {
	c := newCLI(t)
	c.args = []string{"--driver", "memory"}

	c.run(nil, "board", "create", "--project", "p1", "Scratch")

	var boards []*agile.Board
	c.run(&boards, "board", "list", "p1")
	assert.Empty(t, boards)
}

func TestCLI_Version(t *testing.T) {
	out, err := (&cli{t: t}).exec("version")
	require.NoError(t, err)
	assert.Contains(t, out, "agileboard dev")
}
