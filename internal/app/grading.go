package app

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"quizmaster/internal/domain"
	"quizmaster/internal/scoring"
)

// regradeRound re-scores the answers to the given questions of a round and
// stores those whose points moved. The duplicate pass runs over each team's
// whole round but only demotes regraded answers, so manual overrides on
// other questions survive.
func (e *Engine) regradeRound(ctx context.Context, tx Tx, round domain.Round, questionIDs map[string]bool) ([]domain.Answer, error) {
	answers, err := tx.RoundAnswers(ctx, round.ID)
	if err != nil {
		return nil, err
	}
	byTeam := make(map[string][]domain.Answer)
	for _, a := range answers {
		byTeam[a.TeamID] = append(byTeam[a.TeamID], a)
	}

	var changed []domain.Answer
	for _, teamAnswers := range byTeam {
		values := make(map[string]string, len(teamAnswers))
		for _, a := range teamAnswers {
			values[a.QuestionID] = a.Text
		}
		before := make(map[string]float64, len(teamAnswers))
		regraded := make(map[string]bool)
		next := make([]domain.Answer, len(teamAnswers))
		for i, a := range teamAnswers {
			before[a.ID] = a.Points
			if q, ok := round.Question(a.QuestionID); ok && questionIDs[a.QuestionID] {
				a.Points = scoring.Grade(q, a.Text, values)
				regraded[a.ID] = true
				e.metrics.Graded(string(q.Kind))
			}
			next[i] = a
		}

		_, zeroed := scoring.Dedup(round.Questions, next)
		demoted := 0
		for _, id := range zeroed {
			if !regraded[id] {
				continue
			}
			for i := range next {
				if next[i].ID == id {
					next[i].Points = 0
					demoted++
				}
			}
		}
		e.metrics.DedupZeroed(demoted)

		for _, a := range next {
			if a.Points != before[a.ID] {
				changed = append(changed, a)
			}
		}
	}
	if len(changed) == 0 {
		return nil, nil
	}
	return changed, tx.SaveAnswers(ctx, changed)
}

// scoreEvents announces new answer values and a leaderboard refresh.
func scoreEvents(gameID string, answers []domain.Answer) []domain.Event {
	events := make([]domain.Event, 0, len(answers)+1)
	for _, a := range answers {
		events = append(events, domain.Event{
			Type:       domain.EventAnswerScoreUpdated,
			Audience:   domain.AudienceAdmin,
			GameID:     gameID,
			RoundID:    a.RoundID,
			QuestionID: a.QuestionID,
			TeamID:     a.TeamID,
			AnswerID:   a.ID,
			Points:     domain.Float(a.Total()),
		})
	}
	return append(events, domain.Event{Type: domain.EventScoreUpdated, GameID: gameID})
}

// regradeOne grades a single edited answer against the rest of its team's
// round and applies the duplicate pass to it.
func (e *Engine) regradeOne(ctx context.Context, tx Tx, round domain.Round, a domain.Answer) (domain.Answer, error) {
	q, ok := round.Question(a.QuestionID)
	if !ok {
		return domain.Answer{}, domain.ErrQuestionNotFound
	}
	teamAnswers, err := tx.TeamRoundAnswers(ctx, a.TeamID, round.ID)
	if err != nil {
		return domain.Answer{}, err
	}
	values := make(map[string]string, len(teamAnswers)+1)
	merged := make([]domain.Answer, 0, len(teamAnswers)+1)
	for _, other := range teamAnswers {
		if other.QuestionID == a.QuestionID {
			continue
		}
		values[other.QuestionID] = other.Text
		merged = append(merged, other)
	}
	values[a.QuestionID] = a.Text
	a.Points = scoring.Grade(q, a.Text, values)
	e.metrics.Graded(string(q.Kind))
	merged = append(merged, a)

	_, zeroed := scoring.Dedup(round.Questions, merged)
	for _, id := range zeroed {
		if id == a.ID {
			a.Points = 0
			e.metrics.DedupZeroed(1)
		}
	}
	return a, tx.SaveAnswers(ctx, []domain.Answer{a})
}

// lockAnswer takes the exclusive lock of an answer's round and reads the
// answer again under it; the first read only finds the round.
func lockAnswer(ctx context.Context, tx Tx, answerID string) (domain.Answer, domain.Round, error) {
	a, err := tx.Answer(ctx, answerID)
	if err != nil {
		return domain.Answer{}, domain.Round{}, err
	}
	round, err := tx.LockRound(ctx, a.RoundID, true)
	if err != nil {
		return domain.Answer{}, domain.Round{}, err
	}
	if a, err = tx.Answer(ctx, answerID); err != nil {
		return domain.Answer{}, domain.Round{}, err
	}
	return a, round, nil
}

// UpdateAnswerText replaces the text of an answer and grades it again.
func (e *Engine) UpdateAnswerText(ctx context.Context, answerID, text string) (answer domain.Answer, err error) {
	ctx, end := e.start(ctx, "UpdateAnswerText", attribute.String("answer_id", answerID))
	defer func() { end(err) }()

	var gameID string
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		a, round, err := lockAnswer(ctx, tx, answerID)
		if err != nil {
			return err
		}
		gameID = round.GameID
		q, ok := round.Question(a.QuestionID)
		if !ok {
			return domain.ErrQuestionNotFound
		}
		a.Text = scoring.Normalize(q, text)
		answer, err = e.regradeOne(ctx, tx, round, a)
		return err
	})
	if err != nil {
		return domain.Answer{}, err
	}
	e.emit(ctx, scoreEvents(gameID, []domain.Answer{answer})...)
	return answer, nil
}

// CreateAnswer records an answer on behalf of a team, replacing any answer
// the team already has for the question. Round state is not checked.
func (e *Engine) CreateAnswer(ctx context.Context, teamID, roundID, questionID, text string) (answer domain.Answer, err error) {
	ctx, end := e.start(ctx, "CreateAnswer",
		attribute.String("team_id", teamID),
		attribute.String("round_id", roundID),
		attribute.String("question_id", questionID))
	defer func() { end(err) }()

	var gameID string
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		team, err := tx.Team(ctx, teamID)
		if err != nil {
			return err
		}
		round, err := tx.LockRound(ctx, roundID, true)
		if err != nil {
			return err
		}
		if round.GameID != team.GameID {
			return domain.ErrTeamNotInGame
		}
		gameID = round.GameID
		q, ok := round.Question(questionID)
		if !ok {
			return domain.ErrQuestionNotFound
		}

		a := domain.Answer{
			ID:          e.newID(),
			TeamID:      teamID,
			RoundID:     roundID,
			QuestionID:  questionID,
			SubmittedAt: e.now(),
		}
		existing, err := tx.TeamRoundAnswers(ctx, teamID, roundID)
		if err != nil {
			return err
		}
		for _, old := range existing {
			if old.QuestionID == questionID {
				a = old
				break
			}
		}
		a.Text = scoring.Normalize(q, text)
		answer, err = e.regradeOne(ctx, tx, round, a)
		return err
	})
	if err != nil {
		return domain.Answer{}, err
	}
	e.emit(ctx, scoreEvents(gameID, []domain.Answer{answer})...)
	return answer, nil
}

// AnswerOverride sets answer columns directly. Nil fields are kept.
type AnswerOverride struct {
	Points  *float64
	Bonus   *float64
	Penalty *float64
	Notes   *string
}

// OverrideAnswer applies a manual correction without regrading.
func (e *Engine) OverrideAnswer(ctx context.Context, answerID string, o AnswerOverride) (answer domain.Answer, err error) {
	ctx, end := e.start(ctx, "OverrideAnswer", attribute.String("answer_id", answerID))
	defer func() { end(err) }()

	var gameID string
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		a, round, err := lockAnswer(ctx, tx, answerID)
		if err != nil {
			return err
		}
		gameID = round.GameID
		if o.Points != nil {
			a.Points = *o.Points
		}
		if o.Bonus != nil {
			a.Bonus = *o.Bonus
		}
		if o.Penalty != nil {
			a.Penalty = *o.Penalty
		}
		if o.Notes != nil {
			a.Notes = *o.Notes
		}
		answer = a
		return tx.SaveAnswers(ctx, []domain.Answer{a})
	})
	if err != nil {
		return domain.Answer{}, err
	}
	e.emit(ctx, scoreEvents(gameID, []domain.Answer{answer})...)
	return answer, nil
}

// SettleBets stores the finish order of a betting question and rescores
// every wager on it. Settling again overwrites the earlier outcome.
func (e *Engine) SettleBets(ctx context.Context, roundID, questionID string, finishOrder []string) (settled []domain.Answer, err error) {
	ctx, end := e.start(ctx, "SettleBets", attribute.String("round_id", roundID), attribute.String("question_id", questionID))
	defer func() { end(err) }()

	results := make([]string, 0, len(finishOrder))
	for _, c := range finishOrder {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, invalid("finish order contains a blank choice")
		}
		results = append(results, c)
	}

	var gameID string
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		round, err := tx.LockRound(ctx, roundID, true)
		if err != nil {
			return err
		}
		gameID = round.GameID
		idx := -1
		for i, q := range round.Questions {
			if q.ID == questionID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return domain.ErrQuestionNotFound
		}
		q := round.Questions[idx]
		if q.Kind != domain.KindBetting {
			return domain.ErrNotBettingQuestion
		}

		cfg := q.BettingRule()
		cfg.Results = results
		q.Betting = &cfg
		questions := append([]domain.Question(nil), round.Questions...)
		questions[idx] = q
		round.Questions = questions
		if err := tx.UpdateRound(ctx, round); err != nil {
			return err
		}

		answers, err := tx.RoundAnswers(ctx, roundID)
		if err != nil {
			return err
		}
		var wagers []domain.Answer
		for _, a := range answers {
			if a.QuestionID == questionID {
				wagers = append(wagers, a)
			}
		}
		updated, skipped := scoring.Settle(q, results, wagers)
		for _, id := range skipped {
			e.log.WarnContext(ctx, "unreadable wager left unsettled",
				"round_id", roundID, "question_id", questionID, "answer_id", id)
		}
		settled = updated
		if len(updated) == 0 {
			return nil
		}
		return tx.SaveAnswers(ctx, updated)
	})
	if err != nil {
		return nil, err
	}
	e.metrics.Settled()
	e.rounds.Invalidate(ctx, gameID)

	events := []domain.Event{{
		Type:       domain.EventBettingResultsSet,
		GameID:     gameID,
		RoundID:    roundID,
		QuestionID: questionID,
		Data:       map[string]any{"results": results},
	}}
	e.emit(ctx, append(events, scoreEvents(gameID, settled)...)...)
	return settled, nil
}

// BettingResults returns the stored finish order of a betting question.
func (e *Engine) BettingResults(ctx context.Context, roundID, questionID string) ([]string, error) {
	round, err := e.store.Round(ctx, roundID)
	if err != nil {
		return nil, err
	}
	q, ok := round.Question(questionID)
	if !ok {
		return nil, domain.ErrQuestionNotFound
	}
	if q.Kind != domain.KindBetting {
		return nil, domain.ErrNotBettingQuestion
	}
	return q.BettingRule().Results, nil
}

// BettingQuestions lists the betting questions of a round in order.
func (e *Engine) BettingQuestions(ctx context.Context, roundID string) ([]domain.Question, error) {
	round, err := e.store.Round(ctx, roundID)
	if err != nil {
		return nil, err
	}
	var out []domain.Question
	for _, q := range round.Questions {
		if q.Kind == domain.KindBetting {
			out = append(out, q)
		}
	}
	return out, nil
}

// TeamRoundScores sums a team's answer totals per round.
func (e *Engine) TeamRoundScores(ctx context.Context, teamID string) (map[string]float64, error) {
	team, err := e.store.Team(ctx, teamID)
	if err != nil {
		return nil, err
	}
	answers, err := e.store.GameAnswers(ctx, team.GameID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, a := range answers {
		if a.TeamID == teamID {
			out[a.RoundID] += a.Total()
		}
	}
	return out, nil
}

// OrderingSlots marks each position of an ordering answer as correct,
// adjacent or wrong.
func (e *Engine) OrderingSlots(ctx context.Context, answerID string) ([]scoring.Slot, error) {
	a, err := e.store.Answer(ctx, answerID)
	if err != nil {
		return nil, err
	}
	round, err := e.store.Round(ctx, a.RoundID)
	if err != nil {
		return nil, err
	}
	q, ok := round.Question(a.QuestionID)
	if !ok {
		return nil, domain.ErrQuestionNotFound
	}
	if q.Kind != domain.KindOrdering {
		return nil, invalid("question %s is not an ordering question", q.ID)
	}
	return scoring.OrderingSlots(q, a.Text), nil
}
