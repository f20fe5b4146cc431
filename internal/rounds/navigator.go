package rounds

import "quizmaster/internal/domain"

// StepKind says what a team should be shown next.
type StepKind string

const (
	StepRound    StepKind = "round"
	StepWaiting  StepKind = "waiting"
	StepGameOver StepKind = "game_over"
	StepPaused   StepKind = "paused"
)

// Step is the navigator's answer. Round is set only for StepRound and
// PauseMode only for StepPaused.
type Step struct {
	Kind      StepKind         `json:"kind"`
	Round     *domain.Round    `json:"round,omitempty"`
	PauseMode domain.PauseMode `json:"pauseMode,omitempty"`
}

// TeamState is what the navigator needs to know about one team: the rounds
// it has answers in and the rounds it may resubmit.
type TeamState struct {
	Submitted map[string]bool
	Resubmit  map[string]bool
}

// Next picks the round a team should see. A paused game shows the pause
// screen. Otherwise the first open leaf, in hierarchy order, that the team
// has not submitted (or may resubmit) wins. With nothing to answer the game
// is over once every leaf is closed and submitted, and waiting until then.
func Next(game domain.Game, h *Hierarchy, st TeamState) Step {
	if game.PauseMode != domain.PauseNone {
		return Step{Kind: StepPaused, PauseMode: game.PauseMode}
	}

	leaves := h.Leaves()
	for _, r := range leaves {
		if !r.Open {
			continue
		}
		if !st.Submitted[r.ID] || st.Resubmit[r.ID] {
			r := r
			return Step{Kind: StepRound, Round: &r}
		}
	}

	if len(leaves) == 0 {
		return Step{Kind: StepWaiting}
	}
	for _, r := range leaves {
		if r.Open || !st.Submitted[r.ID] {
			return Step{Kind: StepWaiting}
		}
	}
	return Step{Kind: StepGameOver}
}

// NextSibling returns the sub-round a team should move to right after
// submitting roundID: the first higher-ordered sibling under the same parent
// that is an open leaf the team has not submitted yet. Top-level rounds have
// no siblings in this sense.
func NextSibling(h *Hierarchy, roundID string, st TeamState) (domain.Round, bool) {
	cur, ok := h.Get(roundID)
	if !ok || cur.ParentID == "" {
		return domain.Round{}, false
	}
	for _, r := range h.Children(cur.ParentID) {
		if r.ID == cur.ID || r.Order <= cur.Order {
			continue
		}
		if r.Open && h.IsLeaf(r.ID) && !st.Submitted[r.ID] {
			return r, true
		}
	}
	return domain.Round{}, false
}

// Progress counts top-level rounds a team has completed. A top-level round
// counts when the team answered it directly or answered every one of its
// children.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// ProgressFor computes Progress from the set of submitted round ids.
func ProgressFor(h *Hierarchy, submitted map[string]bool) Progress {
	top := h.TopLevel()
	p := Progress{Total: len(top)}
	for _, r := range top {
		if submitted[r.ID] {
			p.Completed++
			continue
		}
		children := h.Children(r.ID)
		if len(children) == 0 {
			continue
		}
		done := true
		for _, c := range children {
			if !submitted[c.ID] {
				done = false
				break
			}
		}
		if done {
			p.Completed++
		}
	}
	return p
}
