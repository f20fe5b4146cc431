// Package rounds models a game's round tree and decides where a team goes
// next.
package rounds

import (
	"sort"

	"quizmaster/internal/domain"
)

// Hierarchy is an arena of a game's rounds keyed by id, with a derived
// children index. It never follows pointers between rounds, so parent
// cycles or dangling parents in stored data cannot loop it.
type Hierarchy struct {
	rounds   []domain.Round
	index    map[string]int
	children map[string][]int
	order    []int
}

// NewHierarchy builds the arena. Rounds whose parent is unknown are treated
// as top level.
func NewHierarchy(rs []domain.Round) *Hierarchy {
	h := &Hierarchy{
		rounds:   append([]domain.Round(nil), rs...),
		index:    make(map[string]int, len(rs)),
		children: make(map[string][]int),
	}
	for i, r := range h.rounds {
		h.index[r.ID] = i
	}

	var top []int
	for i, r := range h.rounds {
		if r.ParentID == "" || r.ParentID == r.ID || !h.known(r.ParentID) {
			top = append(top, i)
			continue
		}
		h.children[r.ParentID] = append(h.children[r.ParentID], i)
	}
	h.sortByOrder(top)
	for parent := range h.children {
		h.sortByOrder(h.children[parent])
	}

	// Breadth first: every top-level round, then their children grouped by
	// parent position, and so on down.
	visited := make([]bool, len(h.rounds))
	queue := top
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		if visited[i] {
			continue
		}
		visited[i] = true
		h.order = append(h.order, i)
		queue = append(queue, h.children[h.rounds[i].ID]...)
	}
	// Members of a parent cycle are unreachable from the top.
	var rest []int
	for i := range h.rounds {
		if !visited[i] {
			rest = append(rest, i)
		}
	}
	h.sortByOrder(rest)
	h.order = append(h.order, rest...)
	return h
}

func (h *Hierarchy) known(id string) bool {
	_, ok := h.index[id]
	return ok
}

func (h *Hierarchy) sortByOrder(idx []int) {
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := h.rounds[idx[a]], h.rounds[idx[b]]
		if ra.Order != rb.Order {
			return ra.Order < rb.Order
		}
		if !ra.CreatedAt.Equal(rb.CreatedAt) {
			return ra.CreatedAt.Before(rb.CreatedAt)
		}
		return ra.ID < rb.ID
	})
}

// Get returns the round with id.
func (h *Hierarchy) Get(id string) (domain.Round, bool) {
	i, ok := h.index[id]
	if !ok {
		return domain.Round{}, false
	}
	return h.rounds[i], true
}

// Ordered returns all rounds, top level first.
func (h *Hierarchy) Ordered() []domain.Round {
	out := make([]domain.Round, 0, len(h.order))
	for _, i := range h.order {
		out = append(out, h.rounds[i])
	}
	return out
}

// TopLevel returns the rounds without a (known) parent, in order.
func (h *Hierarchy) TopLevel() []domain.Round {
	var out []domain.Round
	for _, i := range h.order {
		r := h.rounds[i]
		if r.ParentID == "" || r.ParentID == r.ID || !h.known(r.ParentID) {
			out = append(out, r)
		}
	}
	return out
}

// Children returns the direct children of id, in order.
func (h *Hierarchy) Children(id string) []domain.Round {
	idx := h.children[id]
	out := make([]domain.Round, 0, len(idx))
	for _, i := range idx {
		out = append(out, h.rounds[i])
	}
	return out
}

// IsLeaf reports whether id names a round with no children. Only leaves
// accept submissions.
func (h *Hierarchy) IsLeaf(id string) bool {
	return h.known(id) && len(h.children[id]) == 0
}

// Leaves returns every leaf round in hierarchy order.
func (h *Hierarchy) Leaves() []domain.Round {
	var out []domain.Round
	for _, i := range h.order {
		if len(h.children[h.rounds[i].ID]) == 0 {
			out = append(out, h.rounds[i])
		}
	}
	return out
}

// FinalRound is the leaf with the highest order value. Ties go to the leaf
// that comes last in hierarchy order.
func (h *Hierarchy) FinalRound() (domain.Round, bool) {
	var (
		final domain.Round
		found bool
	)
	for _, r := range h.Leaves() {
		if !found || r.Order >= final.Order {
			final = r
			found = true
		}
	}
	return final, found
}

// MaxChildOrder returns the highest order among the children of parentID,
// or among top-level rounds when parentID is empty. It returns 0 when there
// are none.
func (h *Hierarchy) MaxChildOrder(parentID string) int {
	var siblings []domain.Round
	if parentID == "" {
		siblings = h.TopLevel()
	} else {
		siblings = h.Children(parentID)
	}
	highest := 0
	for _, r := range siblings {
		if r.Order > highest {
			highest = r.Order
		}
	}
	return highest
}

// IsDescendant reports whether id sits anywhere below ancestorID.
func (h *Hierarchy) IsDescendant(id, ancestorID string) bool {
	seen := make(map[string]bool)
	for cur, ok := h.Get(id); ok && cur.ParentID != ""; cur, ok = h.Get(cur.ParentID) {
		if seen[cur.ID] {
			return false
		}
		seen[cur.ID] = true
		if cur.ParentID == ancestorID {
			return true
		}
	}
	return false
}
