package agile

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dense(ids ...string) []Ranked {
	out := make([]Ranked, len(ids))
	for i, id := range ids {
		out[i] = Ranked{ID: id, Order: i}
	}
	return out
}

func TestSequence_Insert(t *testing.T) {
	tests := []struct {
		name  string
		start []Ranked
		index int
		want  []Placement
		order []string
	}{
		{
			name:  "empty list",
			index: 0,
			want:  []Placement{{ID: "x", Order: 0}},
			order: []string{"x"},
		},
		{
			name:  "append writes only the new member",
			start: dense("a", "b"),
			index: 2,
			want:  []Placement{{ID: "x", Order: 2}},
			order: []string{"a", "b", "x"},
		},
		{
			name:  "front shifts everyone",
			start: dense("a", "b", "c"),
			index: 0,
			want:  []Placement{{ID: "x", Order: 0}, {ID: "a", Order: 1}, {ID: "b", Order: 2}, {ID: "c", Order: 3}},
			order: []string{"x", "a", "b", "c"},
		},
		{
			name:  "middle shifts the tail",
			start: dense("a", "b", "c"),
			index: 1,
			want:  []Placement{{ID: "x", Order: 1}, {ID: "b", Order: 2}, {ID: "c", Order: 3}},
			order: []string{"a", "x", "b", "c"},
		},
		{
			name:  "index past the end is clamped",
			start: dense("a"),
			index: 99,
			want:  []Placement{{ID: "x", Order: 1}},
			order: []string{"a", "x"},
		},
		{
			name:  "negative index is clamped",
			start: dense("a"),
			index: -4,
			want:  []Placement{{ID: "x", Order: 0}, {ID: "a", Order: 1}},
			order: []string{"x", "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := NewSequence(tt.start)
			got, err := seq.Insert("x", tt.index)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("placements mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.order, seq.IDs()); diff != "" {
				t.Errorf("order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSequence_InsertDuplicate(t *testing.T) {
	seq := NewSequence(dense("a"))
	_, err := seq.Insert("a", 0)
	assert.Error(t, err)
}

func TestSequence_Move(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		index int
		want  []Placement
		order []string
	}{
		{
			name:  "to current position is a no-op",
			id:    "b",
			index: 1,
			want:  nil,
			order: []string{"a", "b", "c", "d"},
		},
		{
			name:  "last to first shifts every other member by one",
			id:    "d",
			index: 0,
			want:  []Placement{{ID: "d", Order: 0}, {ID: "a", Order: 1}, {ID: "b", Order: 2}, {ID: "c", Order: 3}},
			order: []string{"d", "a", "b", "c"},
		},
		{
			name:  "first to last shifts every other member by one",
			id:    "a",
			index: 3,
			want:  []Placement{{ID: "b", Order: 0}, {ID: "c", Order: 1}, {ID: "d", Order: 2}, {ID: "a", Order: 3}},
			order: []string{"b", "c", "d", "a"},
		},
		{
			name:  "only the span between the ranks is written",
			id:    "b",
			index: 2,
			want:  []Placement{{ID: "c", Order: 1}, {ID: "b", Order: 2}},
			order: []string{"a", "c", "b", "d"},
		},
		{
			name:  "index past the end is clamped to the last rank",
			id:    "c",
			index: 50,
			want:  []Placement{{ID: "d", Order: 2}, {ID: "c", Order: 3}},
			order: []string{"a", "b", "d", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := NewSequence(dense("a", "b", "c", "d"))
			got, err := seq.Move(tt.id, tt.index)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("placements mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.order, seq.IDs()); diff != "" {
				t.Errorf("order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSequence_MoveUnknown(t *testing.T) {
	seq := NewSequence(dense("a"))
	_, err := seq.Move("zz", 0)
	assert.Error(t, err)
}

func TestSequence_Remove(t *testing.T) {
	seq := NewSequence(dense("a", "b", "c", "d"))

	got, err := seq.Remove("b")
	require.NoError(t, err)
	assert.Equal(t, []Placement{{ID: "c", Order: 1}, {ID: "d", Order: 2}}, got)
	assert.Equal(t, []string{"a", "c", "d"}, seq.IDs())

	got, err = seq.Remove("d")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = seq.Remove("b")
	assert.Error(t, err)
}

func TestSequence_RepairsGapsAndTies(t *testing.T) {
	seq := NewSequence([]Ranked{
		{ID: "c", Order: 9},
		{ID: "b", Order: 4},
		{ID: "a", Order: 4},
		{ID: "d", Order: 0},
	})
	assert.Equal(t, []string{"d", "a", "b", "c"}, seq.IDs())

	got := seq.Normalize()
	want := []Placement{{ID: "a", Order: 1}, {ID: "b", Order: 2}, {ID: "c", Order: 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("placements mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, seq.Normalize(), "a repaired sequence needs no further writes")
}

// Applies random operations against a simulated store and checks the persisted orders stay
// a dense 0..N-1 ranking after each one.
func TestSequence_StaysDense(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	stored := map[string]int{}
	next := 0

	load := func() *Sequence {
		var members []Ranked
		for id, o := range stored {
			members = append(members, Ranked{ID: id, Order: o})
		}
		return NewSequence(members)
	}
	apply := func(p []Placement) {
		for _, pl := range p {
			stored[pl.ID] = pl.Order
		}
	}

	for step := 0; step < 500; step++ {
		seq := load()
		switch op := rng.Intn(3); {
		case op == 0 || seq.Len() == 0:
			id := fmt.Sprintf("m%03d", next)
			next++
			p, err := seq.Insert(id, rng.Intn(seq.Len()+1))
			require.NoError(t, err)
			apply(p)
		case op == 1:
			ids := seq.IDs()
			p, err := seq.Move(ids[rng.Intn(len(ids))], rng.Intn(len(ids)))
			require.NoError(t, err)
			apply(p)
		default:
			ids := seq.IDs()
			id := ids[rng.Intn(len(ids))]
			p, err := seq.Remove(id)
			require.NoError(t, err)
			delete(stored, id)
			apply(p)
		}

		orders := make([]int, 0, len(stored))
		for _, o := range stored {
			orders = append(orders, o)
		}
		sort.Ints(orders)
		for i, o := range orders {
			require.Equal(t, i, o, "step %d: orders %v are not dense", step, orders)
		}
	}
}
