package agile

import (
	"fmt"
	"sort"
)

// Ranked is one member of an ordered list as currently persisted.
type Ranked struct {
	ID    string
	Order int
}

// Placement is a rank that must be written for one list member.
type Placement struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// Sequence is a list in its persisted order. Orders are dense zero-based ranks; any gap or
// tie found in stored data is repaired by the next placement computed from the sequence.
type Sequence struct {
	ids    []string
	stored map[string]int
}

// NewSequence sorts members by stored order, breaking ties by id so that repairs are
// deterministic.
func NewSequence(members []Ranked) *Sequence {
	sorted := make([]Ranked, len(members))
	copy(sorted, members)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Order != sorted[j].Order {
			return sorted[i].Order < sorted[j].Order
		}
		return sorted[i].ID < sorted[j].ID
	})

	s := &Sequence{
		ids:    make([]string, len(sorted)),
		stored: make(map[string]int, len(sorted)),
	}
	for i, m := range sorted {
		s.ids[i] = m.ID
		s.stored[m.ID] = m.Order
	}
	return s
}

// Len returns the number of members.
func (s *Sequence) Len() int {
	return len(s.ids)
}

// IDs returns the members in order.
func (s *Sequence) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// IndexOf returns the current rank of id, or -1.
func (s *Sequence) IndexOf(id string) int {
	for i, v := range s.ids {
		if v == id {
			return i
		}
	}
	return -1
}

// Insert places id at index (clamped to the list bounds) and returns the ranks to write.
// The inserted member is always part of the result.
func (s *Sequence) Insert(id string, index int) ([]Placement, error) {
	if s.IndexOf(id) >= 0 {
		return nil, fmt.Errorf("%s is already in the list", id)
	}
	index = clamp(index, 0, len(s.ids))

	ids := make([]string, 0, len(s.ids)+1)
	ids = append(ids, s.ids[:index]...)
	ids = append(ids, id)
	ids = append(ids, s.ids[index:]...)
	s.ids = ids

	return s.rerank(id), nil
}

// Move relocates id to index (clamped to the list bounds). Moving a member to its current
// rank in a dense list yields no placements.
func (s *Sequence) Move(id string, index int) ([]Placement, error) {
	from := s.IndexOf(id)
	if from < 0 {
		return nil, fmt.Errorf("%s is not in the list", id)
	}
	index = clamp(index, 0, len(s.ids)-1)

	if from != index {
		ids := make([]string, 0, len(s.ids))
		ids = append(ids, s.ids[:from]...)
		ids = append(ids, s.ids[from+1:]...)
		rest := append([]string{id}, ids[index:]...)
		s.ids = append(ids[:index], rest...)
	}

	return s.rerank(""), nil
}

// Remove drops id and returns the ranks to write for the members that remain.
func (s *Sequence) Remove(id string) ([]Placement, error) {
	from := s.IndexOf(id)
	if from < 0 {
		return nil, fmt.Errorf("%s is not in the list", id)
	}
	ids := make([]string, 0, len(s.ids)-1)
	ids = append(ids, s.ids[:from]...)
	ids = append(ids, s.ids[from+1:]...)
	s.ids = ids
	delete(s.stored, id)

	return s.rerank(""), nil
}

// Normalize returns the placements needed to turn the stored orders into 0..N-1.
func (s *Sequence) Normalize() []Placement {
	return s.rerank("")
}

// rerank assigns dense ranks and reports every member whose stored order differs.
// force is reported unconditionally.
func (s *Sequence) rerank(force string) []Placement {
	var out []Placement
	for i, id := range s.ids {
		old, known := s.stored[id]
		if id == force || !known || old != i {
			out = append(out, Placement{ID: id, Order: i})
		}
		s.stored[id] = i
	}
	return out
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
