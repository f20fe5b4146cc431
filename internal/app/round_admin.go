package app

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"quizmaster/internal/domain"
)

// NewRound describes a round to create. A nil Open defaults to open.
type NewRound struct {
	ParentID  string
	Name      string
	Questions []domain.Question
	Open      *bool
}

// CreateRound appends a round after its siblings.
func (e *Engine) CreateRound(ctx context.Context, gameID string, spec NewRound) (round domain.Round, err error) {
	ctx, end := e.start(ctx, "CreateRound", attribute.String("game_id", gameID))
	defer func() { end(err) }()

	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return domain.Round{}, invalid("round name is required")
	}
	if err := validateQuestions(spec.Questions); err != nil {
		return domain.Round{}, err
	}

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockGame(ctx, gameID); err != nil {
			return err
		}
		h, err := txHierarchy(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if spec.ParentID != "" {
			if _, ok := h.Get(spec.ParentID); !ok {
				return domain.ErrRoundNotFound
			}
		}
		open := true
		if spec.Open != nil {
			open = *spec.Open
		}
		round = domain.Round{
			ID:        e.newID(),
			GameID:    gameID,
			ParentID:  spec.ParentID,
			Name:      name,
			Order:     h.MaxChildOrder(spec.ParentID) + 1,
			Open:      open,
			Questions: spec.Questions,
			CreatedAt: e.now(),
		}
		return tx.CreateRound(ctx, round)
	})
	if err != nil {
		return domain.Round{}, err
	}
	e.rounds.Invalidate(ctx, gameID)
	return round, nil
}

// Rounds lists a game's rounds, top level first.
func (e *Engine) Rounds(ctx context.Context, gameID string) ([]domain.Round, error) {
	h, err := e.hierarchy(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return h.Ordered(), nil
}

// RenameRound changes a round's display name.
func (e *Engine) RenameRound(ctx context.Context, roundID, name string) (err error) {
	ctx, end := e.start(ctx, "RenameRound", attribute.String("round_id", roundID))
	defer func() { end(err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("round name is required")
	}
	var gameID string
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LockRound(ctx, roundID, true)
		if err != nil {
			return err
		}
		r.Name = name
		gameID = r.GameID
		return tx.UpdateRound(ctx, r)
	})
	if err != nil {
		return err
	}
	e.rounds.Invalidate(ctx, gameID)
	return nil
}

// SetRoundOpen opens or closes a round. Closing the last open leaf round
// announces that the game is being finalised.
func (e *Engine) SetRoundOpen(ctx context.Context, roundID string, open bool) (round domain.Round, err error) {
	ctx, end := e.start(ctx, "SetRoundOpen", attribute.String("round_id", roundID))
	defer func() { end(err) }()

	var allClosed bool
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LockRound(ctx, roundID, true)
		if err != nil {
			return err
		}
		r.Open = open
		if err := tx.UpdateRound(ctx, r); err != nil {
			return err
		}
		round = r
		if open {
			return nil
		}
		h, err := txHierarchy(ctx, tx, r.GameID)
		if err != nil {
			return err
		}
		leaves := h.Leaves()
		allClosed = len(leaves) > 0
		for _, leaf := range leaves {
			if leaf.Open {
				allClosed = false
				break
			}
		}
		return nil
	})
	if err != nil {
		return domain.Round{}, err
	}
	e.rounds.Invalidate(ctx, round.GameID)

	e.emit(ctx, domain.Event{
		Type:    domain.EventRoundStatusChanged,
		GameID:  round.GameID,
		RoundID: round.ID,
		Data:    map[string]any{"isOpen": round.Open},
	})
	if allClosed {
		e.emit(ctx, domain.Event{Type: domain.EventGameFinalising, GameID: round.GameID})
	}
	return round, nil
}

// RoundMove repositions one round. A nil ParentID keeps the current parent;
// a pointer to "" moves the round to the top level.
type RoundMove struct {
	RoundID  string
	Order    int
	ParentID *string
}

// ReorderRounds applies moves atomically. Moves naming rounds of another
// game are ignored; a move that would make a round its own ancestor is
// rejected.
func (e *Engine) ReorderRounds(ctx context.Context, gameID string, moves []RoundMove) (err error) {
	ctx, end := e.start(ctx, "ReorderRounds", attribute.String("game_id", gameID))
	defer func() { end(err) }()

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockGame(ctx, gameID); err != nil {
			return err
		}
		current, err := tx.Rounds(ctx, gameID)
		if err != nil {
			return err
		}
		byID := make(map[string]*domain.Round, len(current))
		for i := range current {
			byID[current[i].ID] = &current[i]
		}

		// Moved rows are rewritten whole, so take their locks and work on
		// the locked copies; ids are sorted to keep lock order stable.
		var moved []string
		for _, m := range moves {
			if _, ok := byID[m.RoundID]; ok {
				moved = append(moved, m.RoundID)
			}
		}
		sort.Strings(moved)
		for i, id := range moved {
			if i > 0 && moved[i-1] == id {
				continue
			}
			locked, err := tx.LockRound(ctx, id, true)
			if err != nil {
				return err
			}
			*byID[id] = locked
		}

		changed := make(map[string]bool)
		for _, m := range moves {
			r, ok := byID[m.RoundID]
			if !ok {
				continue
			}
			r.Order = m.Order
			if m.ParentID != nil {
				if *m.ParentID != "" {
					if _, ok := byID[*m.ParentID]; !ok {
						return domain.ErrRoundNotFound
					}
				}
				r.ParentID = *m.ParentID
			}
			changed[r.ID] = true
		}

		for id := range changed {
			if hasCycle(byID, id) {
				return invalid("round %s cannot be moved under itself", id)
			}
		}
		for id := range changed {
			if err := tx.UpdateRound(ctx, *byID[id]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.rounds.Invalidate(ctx, gameID)
	e.emit(ctx, domain.Event{Type: domain.EventRoundsReordered, Audience: domain.AudienceAdmin, GameID: gameID})
	return nil
}

func hasCycle(byID map[string]*domain.Round, start string) bool {
	seen := map[string]bool{start: true}
	for cur := byID[start]; cur != nil && cur.ParentID != ""; cur = byID[cur.ParentID] {
		if seen[cur.ParentID] {
			return true
		}
		seen[cur.ParentID] = true
	}
	return false
}

// StartTimer stores a countdown on the round so any instance can report it.
func (e *Engine) StartTimer(ctx context.Context, roundID string, seconds int) (endsAt time.Time, err error) {
	ctx, end := e.start(ctx, "StartTimer", attribute.String("round_id", roundID))
	defer func() { end(err) }()

	if seconds <= 0 {
		return time.Time{}, invalid("timer must run for at least one second")
	}
	var gameID string
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LockRound(ctx, roundID, true)
		if err != nil {
			return err
		}
		endsAt = e.now().Add(time.Duration(seconds) * time.Second)
		r.TimerEndsAt = &endsAt
		gameID = r.GameID
		return tx.UpdateRound(ctx, r)
	})
	if err != nil {
		return time.Time{}, err
	}
	e.rounds.Invalidate(ctx, gameID)
	e.emit(ctx, domain.Event{
		Type:    domain.EventTimerStarted,
		GameID:  gameID,
		RoundID: roundID,
		Data:    map[string]any{"seconds": seconds, "endsAt": endsAt},
	})
	return endsAt, nil
}

// StopTimer clears a round's countdown.
func (e *Engine) StopTimer(ctx context.Context, roundID string) (err error) {
	ctx, end := e.start(ctx, "StopTimer", attribute.String("round_id", roundID))
	defer func() { end(err) }()

	var gameID string
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LockRound(ctx, roundID, true)
		if err != nil {
			return err
		}
		r.TimerEndsAt = nil
		gameID = r.GameID
		return tx.UpdateRound(ctx, r)
	})
	if err != nil {
		return err
	}
	e.rounds.Invalidate(ctx, gameID)
	e.emit(ctx, domain.Event{Type: domain.EventTimerStopped, GameID: gameID, RoundID: roundID})
	return nil
}

// Timer is a running countdown.
type Timer struct {
	RoundID   string    `json:"roundId"`
	EndsAt    time.Time `json:"endsAt"`
	Remaining int       `json:"remaining"`
}

// ActiveTimers lists running countdowns of a game. Expired timers are
// cleared as a side effect.
func (e *Engine) ActiveTimers(ctx context.Context, gameID string) ([]Timer, error) {
	var (
		timers  []Timer
		expired bool
	)
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		timers, expired = nil, false
		rs, err := tx.Rounds(ctx, gameID)
		if err != nil {
			return err
		}
		now := e.now()
		for _, r := range rs {
			if r.TimerEndsAt == nil {
				continue
			}
			remaining := int(r.TimerEndsAt.Sub(now) / time.Second)
			if remaining > 0 {
				timers = append(timers, Timer{RoundID: r.ID, EndsAt: *r.TimerEndsAt, Remaining: remaining})
				continue
			}
			locked, err := tx.LockRound(ctx, r.ID, true)
			if err != nil {
				return err
			}
			locked.TimerEndsAt = nil
			if err := tx.UpdateRound(ctx, locked); err != nil {
				return err
			}
			expired = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		e.rounds.Invalidate(ctx, gameID)
	}
	return timers, nil
}

func validateQuestions(qs []domain.Question) error {
	seen := make(map[string]bool, len(qs))
	for _, q := range qs {
		if strings.TrimSpace(q.ID) == "" {
			return invalid("question id is required")
		}
		if seen[q.ID] {
			return invalid("duplicate question id %q", q.ID)
		}
		seen[q.ID] = true
	}
	return nil
}
