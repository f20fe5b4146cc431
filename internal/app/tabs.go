package app

import (
	"context"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"quizmaster/internal/domain"
	"quizmaster/internal/standings"
)

// AwayStatus is a team's away-from-page record. Counted is false when the
// report was ignored.
type AwayStatus struct {
	TeamID      string  `json:"teamId"`
	AwaySeconds int     `json:"awaySeconds"`
	SwitchCount int     `json:"switchCount"`
	Penalty     float64 `json:"penalty"`
	Counted     bool    `json:"counted"`
}

func awayStatus(t domain.Team, counted bool) AwayStatus {
	return AwayStatus{
		TeamID:      t.ID,
		AwaySeconds: t.TabAwaySeconds,
		SwitchCount: t.TabSwitchCount,
		Penalty:     standings.TabPenalty(t.TabAwaySeconds),
		Counted:     counted,
	}
}

const (
	// maxAwayReport bounds one client-measured batch to a day.
	maxAwayReport = 24 * 60 * 60
	// maxAwaySeconds matches the INTEGER column holding the total.
	maxAwaySeconds = math.MaxInt32
)

// addAway adds seconds to total, saturating at maxAwaySeconds.
func addAway(total, seconds int) int {
	if seconds >= maxAwaySeconds-total {
		return maxAwaySeconds
	}
	return total + seconds
}

type trackingRule int

const (
	// countDuringPause lets reports through while the game is paused.
	countDuringPause trackingRule = iota + 1
	skipDuringPause
)

// trackAway applies fn to the team when away tracking is live: tracking
// enabled, at least one leaf round open and, unless rule allows it, no pause.
func (e *Engine) trackAway(ctx context.Context, teamID string, rule trackingRule, fn func(t *domain.Team)) (status AwayStatus, err error) {
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.LockTeam(ctx, teamID)
		if err != nil {
			return err
		}
		g, err := tx.Game(ctx, t.GameID)
		if err != nil {
			return err
		}
		status = awayStatus(t, false)
		if !g.TabPenaltyEnabled || (rule == skipDuringPause && g.PauseMode != domain.PauseNone) {
			return nil
		}
		h, err := txHierarchy(ctx, tx, t.GameID)
		if err != nil {
			return err
		}
		open := false
		for _, leaf := range h.Leaves() {
			if leaf.Open {
				open = true
				break
			}
		}
		if !open {
			return nil
		}
		fn(&t)
		status = awayStatus(t, true)
		return tx.UpdateTeam(ctx, t)
	})
	return status, err
}

// TickAwayTime adds one away second for a team whose page is hidden.
func (e *Engine) TickAwayTime(ctx context.Context, teamID string) (AwayStatus, error) {
	st, err := e.trackAway(ctx, teamID, skipDuringPause, func(t *domain.Team) {
		t.TabAwaySeconds = addAway(t.TabAwaySeconds, 1)
	})
	if err != nil || !st.Counted {
		return st, err
	}
	team, err := e.store.Team(ctx, teamID)
	if err != nil {
		return st, err
	}
	e.emit(ctx, awayEvent(domain.EventTabTimeUpdated, team.GameID, st))
	return st, nil
}

// ReportTabSwitch counts one switch away from the quiz page.
func (e *Engine) ReportTabSwitch(ctx context.Context, teamID string) (AwayStatus, error) {
	st, err := e.trackAway(ctx, teamID, skipDuringPause, func(t *domain.Team) {
		t.TabSwitchCount++
	})
	if err != nil || !st.Counted {
		return st, err
	}
	team, err := e.store.Team(ctx, teamID)
	if err != nil {
		return st, err
	}
	e.emit(ctx, awayEvent(domain.EventTabSwitchUpdated, team.GameID, st))
	return st, nil
}

// ReportAwayTime adds a batch of away seconds measured by the client. A
// pause does not suppress it. A batch longer than a day is rejected.
func (e *Engine) ReportAwayTime(ctx context.Context, teamID string, seconds int) (AwayStatus, error) {
	if seconds <= 0 {
		return AwayStatus{}, invalid("away time must be positive")
	}
	if seconds > maxAwayReport {
		return AwayStatus{}, invalid("away time must be at most %d seconds", maxAwayReport)
	}
	st, err := e.trackAway(ctx, teamID, countDuringPause, func(t *domain.Team) {
		t.TabAwaySeconds = addAway(t.TabAwaySeconds, seconds)
	})
	if err != nil || !st.Counted {
		return st, err
	}
	team, err := e.store.Team(ctx, teamID)
	if err != nil {
		return st, err
	}
	e.emit(ctx, awayEvent(domain.EventTabTimeUpdated, team.GameID, st))
	return st, nil
}

// ResetTabPenalty clears a team's away seconds and switch count.
func (e *Engine) ResetTabPenalty(ctx context.Context, teamID string) (st AwayStatus, err error) {
	ctx, end := e.start(ctx, "ResetTabPenalty", attribute.String("team_id", teamID))
	defer func() { end(err) }()

	team, err := e.updateTeam(ctx, teamID, func(t *domain.Team) error {
		t.TabAwaySeconds = 0
		t.TabSwitchCount = 0
		return nil
	})
	if err != nil {
		return AwayStatus{}, err
	}
	st = awayStatus(team, true)
	e.emit(ctx, awayEvent(domain.EventTabPenaltyUpdated, team.GameID, st))
	return st, nil
}

// SetTabAwaySeconds overwrites a team's away seconds. Values are clamped
// to [0, math.MaxInt32].
func (e *Engine) SetTabAwaySeconds(ctx context.Context, teamID string, seconds int) (st AwayStatus, err error) {
	ctx, end := e.start(ctx, "SetTabAwaySeconds", attribute.String("team_id", teamID))
	defer func() { end(err) }()

	switch {
	case seconds < 0:
		seconds = 0
	case seconds > maxAwaySeconds:
		seconds = maxAwaySeconds
	}
	team, err := e.updateTeam(ctx, teamID, func(t *domain.Team) error {
		t.TabAwaySeconds = seconds
		return nil
	})
	if err != nil {
		return AwayStatus{}, err
	}
	st = awayStatus(team, true)
	e.emit(ctx, awayEvent(domain.EventTabPenaltyUpdated, team.GameID, st))
	return st, nil
}

// ResetAllTabPenalties clears away records of every team in a game.
func (e *Engine) ResetAllTabPenalties(ctx context.Context, gameID string) (err error) {
	ctx, end := e.start(ctx, "ResetAllTabPenalties", attribute.String("game_id", gameID))
	defer func() { end(err) }()

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockGame(ctx, gameID); err != nil {
			return err
		}
		teams, err := tx.Teams(ctx, gameID)
		if err != nil {
			return err
		}
		for _, t := range teams {
			locked, err := tx.LockTeam(ctx, t.ID)
			if err != nil {
				return err
			}
			locked.TabAwaySeconds = 0
			locked.TabSwitchCount = 0
			if err := tx.UpdateTeam(ctx, locked); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(ctx,
		domain.Event{Type: domain.EventTabPenaltyUpdated, GameID: gameID, Data: map[string]any{"reset": true}},
		domain.Event{Type: domain.EventScoreUpdated, GameID: gameID},
	)
	return nil
}

// AwayTime returns a team's current away record.
func (e *Engine) AwayTime(ctx context.Context, teamID string) (AwayStatus, error) {
	t, err := e.store.Team(ctx, teamID)
	if err != nil {
		return AwayStatus{}, err
	}
	return awayStatus(t, true), nil
}

func awayEvent(typ domain.EventType, gameID string, st AwayStatus) domain.Event {
	return domain.Event{
		Type:     typ,
		Audience: domain.AudienceAdmin,
		GameID:   gameID,
		TeamID:   st.TeamID,
		Data: map[string]any{
			"awaySeconds": st.AwaySeconds,
			"switchCount": st.SwitchCount,
			"penalty":     st.Penalty,
		},
	}
}
