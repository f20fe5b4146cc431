package postgres

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"quizmaster/internal/domain"
)

type tx struct {
	reader
	db bun.Tx
}

func (t *tx) LockGame(ctx context.Context, gameID string) (domain.Game, error) {
	return t.selectGame(ctx, "UPDATE", "g.id = ?", gameID)
}

// LockRound takes FOR SHARE for submissions, so they run in parallel with
// each other but never interleave with a close or regrade holding FOR UPDATE.
func (t *tx) LockRound(ctx context.Context, roundID string, exclusive bool) (domain.Round, error) {
	lock := "SHARE"
	if exclusive {
		lock = "UPDATE"
	}
	return t.selectRound(ctx, lock, roundID)
}

func (t *tx) LockTeam(ctx context.Context, teamID string) (domain.Team, error) {
	return t.selectTeam(ctx, "UPDATE", "t.id = ?", teamID)
}

// LockSubmission acquires a transaction-scoped advisory lock for the
// (team, round) pair.
func (t *tx) LockSubmission(ctx context.Context, teamID, roundID string) error {
	if _, err := t.db.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", "submission:"+teamID+":"+roundID).Exec(ctx); err != nil {
		return fmt.Errorf("lock submission: %w", err)
	}
	return nil
}

func (t *tx) CreateGame(ctx context.Context, g domain.Game) error {
	if _, err := t.db.NewInsert().Model(newGameModel(g)).Exec(ctx); err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

func (t *tx) UpdateGame(ctx context.Context, g domain.Game) error {
	res, err := t.db.NewUpdate().Model(newGameModel(g)).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("update game: %w", err)
	}
	return requireRow(res, domain.ErrGameNotFound)
}

func (t *tx) CreateRound(ctx context.Context, r domain.Round) error {
	m, err := newRoundModel(r)
	if err != nil {
		return err
	}
	if _, err := t.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

func (t *tx) UpdateRound(ctx context.Context, r domain.Round) error {
	m, err := newRoundModel(r)
	if err != nil {
		return err
	}
	res, err := t.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("update round: %w", err)
	}
	return requireRow(res, domain.ErrRoundNotFound)
}

func (t *tx) CreateTeam(ctx context.Context, team domain.Team) error {
	if _, err := t.db.NewInsert().Model(newTeamModel(team)).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrTeamNameTaken
		}
		return fmt.Errorf("insert team: %w", err)
	}
	return nil
}

func (t *tx) UpdateTeam(ctx context.Context, team domain.Team) error {
	res, err := t.db.NewUpdate().Model(newTeamModel(team)).WherePK().Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrTeamNameTaken
		}
		return fmt.Errorf("update team: %w", err)
	}
	return requireRow(res, domain.ErrTeamNotFound)
}

// DeleteTeam relies on ON DELETE CASCADE for answers and grants.
func (t *tx) DeleteTeam(ctx context.Context, teamID string) error {
	res, err := t.db.NewDelete().Model((*teamModel)(nil)).Where("id = ?", teamID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	return requireRow(res, domain.ErrTeamNotFound)
}

func (t *tx) SaveAnswers(ctx context.Context, answers []domain.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	ms := make([]answerModel, len(answers))
	for i, a := range answers {
		ms[i] = newAnswerModel(a)
	}
	_, err := t.db.NewInsert().
		Model(&ms).
		On("CONFLICT (team_id, round_id, question_id) DO UPDATE").
		Set("text = EXCLUDED.text").
		Set("points = EXCLUDED.points").
		Set("bonus = EXCLUDED.bonus").
		Set("penalty = EXCLUDED.penalty").
		Set("notes = EXCLUDED.notes").
		Set("submitted_at = EXCLUDED.submitted_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert answers: %w", err)
	}
	return nil
}

func (t *tx) GrantResubmit(ctx context.Context, p domain.ResubmitPermission) error {
	_, err := t.db.NewInsert().
		Model(&resubmitModel{TeamID: p.TeamID, RoundID: p.RoundID, CreatedAt: p.CreatedAt}).
		On("CONFLICT (team_id, round_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert resubmit grant: %w", err)
	}
	return nil
}

// ConsumeResubmit deletes the grant row. A concurrent consumer blocks on the
// row lock and then sees zero affected rows.
func (t *tx) ConsumeResubmit(ctx context.Context, teamID, roundID string) (bool, error) {
	res, err := t.db.NewDelete().
		Model((*resubmitModel)(nil)).
		Where("team_id = ? AND round_id = ?", teamID, roundID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("consume resubmit grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume resubmit grant: %w", err)
	}
	return n > 0, nil
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsAffecter, sentinel error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel
	}
	return nil
}
