package app

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"quizmaster/internal/domain"
)

// ReplaceQuestions swaps a round's question list. Answers to questions whose
// grading changed are scored again; prompt-only edits keep their points.
func (e *Engine) ReplaceQuestions(ctx context.Context, roundID string, questions []domain.Question) (err error) {
	ctx, end := e.start(ctx, "ReplaceQuestions", attribute.String("round_id", roundID))
	defer func() { end(err) }()

	if err := validateQuestions(questions); err != nil {
		return err
	}

	var (
		gameID  string
		changed []domain.Answer
	)
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		round, err := tx.LockRound(ctx, roundID, true)
		if err != nil {
			return err
		}
		gameID = round.GameID
		regrade := make(map[string]bool)
		for _, q := range questions {
			old, ok := round.Question(q.ID)
			if !ok || !domain.GradingEqual(old, q) {
				regrade[q.ID] = true
			}
		}
		round.Questions = questions
		if err := tx.UpdateRound(ctx, round); err != nil {
			return err
		}
		changed, err = e.regradeRound(ctx, tx, round, regrade)
		return err
	})
	if err != nil {
		return err
	}
	e.rounds.Invalidate(ctx, gameID)
	if len(changed) > 0 {
		e.log.InfoContext(ctx, "answers regraded", "round_id", roundID, "answers", len(changed))
		e.emit(ctx, scoreEvents(gameID, changed)...)
	}
	return nil
}

// QuestionPatch edits a single question. Nil fields are kept. Validation
// is the text match expression or the number formula; Correct is the
// single-choice answer or the estimate target.
type QuestionPatch struct {
	Prompt     *string
	Validation *string
	Correct    *string
}

// UpdateQuestion edits one question in place and regrades its answers when
// the grading rule changed.
func (e *Engine) UpdateQuestion(ctx context.Context, roundID, questionID string, patch QuestionPatch) (question domain.Question, err error) {
	ctx, end := e.start(ctx, "UpdateQuestion", attribute.String("round_id", roundID), attribute.String("question_id", questionID))
	defer func() { end(err) }()

	var (
		gameID  string
		changed []domain.Answer
	)
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
		old := round.Questions[idx]
		q, err := applyPatch(old, patch)
		if err != nil {
			return err
		}
		questions := append([]domain.Question(nil), round.Questions...)
		questions[idx] = q
		round.Questions = questions
		if err := tx.UpdateRound(ctx, round); err != nil {
			return err
		}
		question = q
		if domain.GradingEqual(old, q) {
			return nil
		}
		changed, err = e.regradeRound(ctx, tx, round, map[string]bool{q.ID: true})
		return err
	})
	if err != nil {
		return domain.Question{}, err
	}
	e.rounds.Invalidate(ctx, gameID)
	if len(changed) > 0 {
		e.emit(ctx, scoreEvents(gameID, changed)...)
	}
	return question, nil
}

// applyPatch returns a copy of q with the patch applied. Configs are copied
// so the stored round is never aliased.
func applyPatch(q domain.Question, p QuestionPatch) (domain.Question, error) {
	if p.Prompt != nil {
		q.Prompt = *p.Prompt
	}
	if p.Validation != nil {
		switch q.Kind {
		case domain.KindText:
			cfg := q.TextRule()
			cfg.Validation = *p.Validation
			q.Text = &cfg
		case domain.KindNumber:
			cfg := q.NumberRule()
			cfg.Formula = *p.Validation
			q.Number = &cfg
		default:
			return q, invalid("%s questions have no validation", q.Kind)
		}
	}
	if p.Correct != nil {
		switch q.Kind {
		case domain.KindChoice:
			cfg := q.ChoiceRule()
			cfg.Correct = *p.Correct
			q.Choice = &cfg
		case domain.KindEstimate:
			cfg := q.EstimateRule()
			v, ok := domain.ParseNumber(*p.Correct)
			if !ok {
				return q, invalid("estimate target %q is not a number", *p.Correct)
			}
			cfg.Correct = &v
			q.Estimate = &cfg
		default:
			return q, invalid("%s questions have no correct answer field", q.Kind)
		}
	}
	return q, nil
}
