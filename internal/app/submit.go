package app

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"quizmaster/internal/domain"
	"quizmaster/internal/metrics"
	"quizmaster/internal/rounds"
	"quizmaster/internal/scoring"
)

// SubmitResult reports the outcome of an accepted submission.
type SubmitResult struct {
	RoundID     string             `json:"roundId"`
	Points      map[string]float64 `json:"points"`
	Resubmitted bool               `json:"resubmitted"`
	// NextRound is the following sub-round of the same parent, when the
	// team should be taken there directly.
	NextRound *domain.Round `json:"nextRound,omitempty"`
}

// Submit records a team's answers for a leaf round. Every question of the
// round gets an answer, blank when absent from sub. A second submission
// needs a resubmission grant, which is consumed in the same transaction.
// Closed rounds reject submissions whatever the grants.
func (e *Engine) Submit(ctx context.Context, teamID, roundID string, sub domain.Submission) (res SubmitResult, err error) {
	ctx, end := e.start(ctx, "Submit", attribute.String("team_id", teamID), attribute.String("round_id", roundID))
	defer func() {
		switch {
		case err == nil && res.Resubmitted:
			e.metrics.Submission(metrics.OutcomeResubmit)
		case err == nil:
			e.metrics.Submission(metrics.OutcomeAccepted)
		case isPolicyError(err):
			e.metrics.Submission(metrics.OutcomeRejected)
		default:
			e.metrics.Submission(metrics.OutcomeStoreError)
		}
		end(err)
	}()

	var (
		gameID         string
		saved          []domain.Answer
		submittedTeams int
		totalTeams     int
	)
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		res = SubmitResult{RoundID: roundID, Points: make(map[string]float64)}

		team, err := tx.Team(ctx, teamID)
		if err != nil {
			return err
		}
		round, err := tx.LockRound(ctx, roundID, false)
		if err != nil {
			return err
		}
		if round.GameID != team.GameID {
			return domain.ErrTeamNotInGame
		}
		gameID = round.GameID
		h, err := txHierarchy(ctx, tx, round.GameID)
		if err != nil {
			return err
		}
		if !h.IsLeaf(round.ID) {
			return domain.ErrRoundIsContainer
		}
		if !round.Open {
			return domain.ErrRoundClosed
		}
		if err := tx.LockSubmission(ctx, teamID, roundID); err != nil {
			return err
		}

		existing, err := tx.TeamRoundAnswers(ctx, teamID, roundID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			consumed, err := tx.ConsumeResubmit(ctx, teamID, roundID)
			if err != nil {
				return err
			}
			if !consumed {
				return domain.ErrAlreadySubmitted
			}
			res.Resubmitted = true
		}

		saved = e.gradeSubmission(round, teamID, sub, existing)
		if err := tx.SaveAnswers(ctx, saved); err != nil {
			return err
		}
		for _, a := range saved {
			res.Points[a.QuestionID] = a.Points
		}

		submitted, err := tx.SubmittedRounds(ctx, teamID)
		if err != nil {
			return err
		}
		submitted[roundID] = true
		if next, ok := rounds.NextSibling(h, roundID, rounds.TeamState{Submitted: submitted}); ok {
			res.NextRound = &next
		}

		roundAnswers, err := tx.RoundAnswers(ctx, roundID)
		if err != nil {
			return err
		}
		teams := make(map[string]bool)
		for _, a := range roundAnswers {
			teams[a.TeamID] = true
		}
		submittedTeams = len(teams)
		allTeams, err := tx.Teams(ctx, round.GameID)
		if err != nil {
			return err
		}
		totalTeams = len(allTeams)
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}

	e.log.InfoContext(ctx, "round submitted",
		"game_id", gameID, "round_id", roundID, "team_id", teamID,
		"answers", len(saved), "resubmitted", res.Resubmitted)
	e.emit(ctx,
		domain.Event{
			Type:    domain.EventSubmissionUpdate,
			GameID:  gameID,
			RoundID: roundID,
			TeamID:  teamID,
			Data:    map[string]any{"submissions": submittedTeams, "totalTeams": totalTeams},
		},
		domain.Event{
			Type:     domain.EventScoreUpdated,
			Audience: domain.AudienceAdmin,
			GameID:   gameID,
			RoundID:  roundID,
			TeamID:   teamID,
		},
	)
	return res, nil
}

// gradeSubmission builds the answers of one submission. Existing answer ids
// are kept so a resubmission replaces rows instead of adding them.
func (e *Engine) gradeSubmission(round domain.Round, teamID string, sub domain.Submission, existing []domain.Answer) []domain.Answer {
	prior := make(map[string]domain.Answer, len(existing))
	for _, a := range existing {
		prior[a.QuestionID] = a
	}

	values := make(map[string]string, len(round.Questions))
	for _, q := range round.Questions {
		values[q.ID] = scoring.Normalize(q, sub[q.ID])
	}

	now := e.now()
	answers := make([]domain.Answer, 0, len(round.Questions))
	for _, q := range round.Questions {
		a := domain.Answer{
			ID:          e.newID(),
			TeamID:      teamID,
			RoundID:     round.ID,
			QuestionID:  q.ID,
			Text:        values[q.ID],
			Points:      scoring.Grade(q, values[q.ID], values),
			SubmittedAt: now,
		}
		if old, ok := prior[q.ID]; ok {
			a.ID = old.ID
			a.Bonus = old.Bonus
			a.Penalty = old.Penalty
			a.Notes = old.Notes
		}
		e.metrics.Graded(string(q.Kind))
		answers = append(answers, a)
	}

	deduped, zeroed := scoring.Dedup(round.Questions, answers)
	e.metrics.DedupZeroed(len(zeroed))
	return deduped
}

// GrantResubmission lets a team submit a round once more.
func (e *Engine) GrantResubmission(ctx context.Context, roundID, teamID string) (err error) {
	ctx, end := e.start(ctx, "GrantResubmission", attribute.String("team_id", teamID), attribute.String("round_id", roundID))
	defer func() { end(err) }()

	var gameID string
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		team, err := tx.Team(ctx, teamID)
		if err != nil {
			return err
		}
		round, err := tx.Round(ctx, roundID)
		if err != nil {
			return err
		}
		if round.GameID != team.GameID {
			return domain.ErrTeamNotInGame
		}
		gameID = round.GameID
		return tx.GrantResubmit(ctx, domain.ResubmitPermission{TeamID: teamID, RoundID: roundID, CreatedAt: e.now()})
	})
	if err != nil {
		return err
	}
	e.emit(ctx, domain.Event{Type: domain.EventSubmissionCleared, GameID: gameID, RoundID: roundID, TeamID: teamID})
	return nil
}

// SubmissionStatus is one team's state for a round.
type SubmissionStatus struct {
	TeamID      string `json:"teamId"`
	TeamName    string `json:"teamName"`
	Submitted   bool   `json:"submitted"`
	CanResubmit bool   `json:"canResubmit"`
}

// RoundSubmissions lists every team of the round's game, by name.
func (e *Engine) RoundSubmissions(ctx context.Context, roundID string) ([]SubmissionStatus, error) {
	round, err := e.store.Round(ctx, roundID)
	if err != nil {
		return nil, err
	}
	teams, err := e.store.Teams(ctx, round.GameID)
	if err != nil {
		return nil, err
	}
	answers, err := e.store.RoundAnswers(ctx, roundID)
	if err != nil {
		return nil, err
	}
	grants, err := e.store.RoundResubmitGrants(ctx, roundID)
	if err != nil {
		return nil, err
	}
	submitted := make(map[string]bool)
	for _, a := range answers {
		submitted[a.TeamID] = true
	}

	out := make([]SubmissionStatus, 0, len(teams))
	for _, t := range teams {
		out = append(out, SubmissionStatus{
			TeamID:      t.ID,
			TeamName:    t.Name,
			Submitted:   submitted[t.ID],
			CanResubmit: grants[t.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamName < out[j].TeamName })
	return out, nil
}
