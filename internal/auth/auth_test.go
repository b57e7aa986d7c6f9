package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
)

func testPolicy() Policy {
	return Policy{
		DefaultRole: "viewer",
		Roles: map[string][]string{
			"admin":     {"*"},
			"developer": {"card.*", "item.update", "item.move"},
			"viewer":    nil,
		},
		Users: map[string]string{
			"alice": "admin",
			"bob":   "developer",
		},
	}
}

func TestAuthorizer_Authorize(t *testing.T) {
	a, err := New(testPolicy(), nil)
	require.NoError(t, err)

	tests := []struct {
		actor  string
		action agile.Action
		want   bool
	}{
		{"alice", agile.ActionStartSprint, true},
		{"bob", agile.ActionMoveCard, true},
		{"bob", agile.ActionLinkCard, true},
		{"bob", agile.ActionMoveItem, true},
		{"bob", agile.ActionRemoveItem, false},
		{"bob", agile.ActionCreateBoard, false},
		{"carol", agile.ActionMoveCard, false},
		{"", agile.ActionMoveCard, false},
	}
	for _, tt := range tests {
		t.Run(tt.actor+"/"+string(tt.action), func(t *testing.T) {
			got, err := a.Authorize(context.Background(), tt.actor, tt.action, "r1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthorizer_Anonymous(t *testing.T) {
	p := testPolicy()
	p.AllowAnonymous = true
	p.DefaultRole = "developer"
	a, err := New(p, nil)
	require.NoError(t, err)

	ok, err := a.Authorize(context.Background(), "", agile.ActionUpdateCard, "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "developer", a.RoleOf(""))
}

func TestDefaultPolicy(t *testing.T) {
	a, err := New(DefaultPolicy(), nil)
	require.NoError(t, err)
	ok, err := a.Authorize(context.Background(), "", agile.ActionCarryOver, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPolicy_Validate(t *testing.T) {
	p := testPolicy()
	p.DefaultRole = "ghost"
	assert.ErrorContains(t, p.Validate(), `default role "ghost"`)

	p = testPolicy()
	p.Users["dave"] = "ghost"
	assert.ErrorContains(t, p.Validate(), `user "dave"`)

	p = testPolicy()
	p.Roles["broken"] = []string{"card.["}
	assert.ErrorContains(t, p.Validate(), "bad action pattern")

	_, err := New(p, nil)
	assert.Error(t, err)
}

func TestAuthorizer_DeniesThroughEngine(t *testing.T) {
	a, err := New(testPolicy(), nil)
	require.NoError(t, err)
	e := agile.NewEngine(agile.NewState(""), agile.WithAuthorizer(a))

	ctx := agile.WithActor(context.Background(), "bob")
	_, err = e.CreateBoard(ctx, agile.NewBoard{ProjectID: "p", Name: "Team"})
	assert.ErrorIs(t, err, agile.ErrForbidden)

	ctx = agile.WithActor(context.Background(), "alice")
	_, err = e.CreateBoard(ctx, agile.NewBoard{ProjectID: "p", Name: "Team"})
	assert.NoError(t, err)
}
