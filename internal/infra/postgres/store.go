// Package postgres persists games, rounds, teams and answers with bun.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"quizmaster/internal/app"
	"quizmaster/internal/domain"
)

// Store implements app.Store on Postgres.
type Store struct {
	reader
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{reader: reader{db: db}, db: db}
}

// RunInTx runs fn in a read-committed transaction. Row locks taken through
// the Lock methods are released on commit or rollback.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, btx bun.Tx) error {
		return fn(ctx, &tx{reader: reader{db: btx}, db: btx})
	})
}

// reader runs the query side against either the pool or a transaction.
type reader struct {
	db bun.IDB
}

func notFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

func (r reader) selectGame(ctx context.Context, lock, where string, arg any) (domain.Game, error) {
	m := new(gameModel)
	q := r.db.NewSelect().Model(m).Where(where, arg)
	if lock != "" {
		q = q.For(lock)
	}
	if err := q.Scan(ctx); err != nil {
		return domain.Game{}, fmt.Errorf("select game: %w", notFound(err, domain.ErrGameNotFound))
	}
	return m.toDomain(), nil
}

func (r reader) Game(ctx context.Context, gameID string) (domain.Game, error) {
	return r.selectGame(ctx, "", "g.id = ?", gameID)
}

func (r reader) GameByCode(ctx context.Context, code string) (domain.Game, error) {
	return r.selectGame(ctx, "", "g.code = ?", code)
}

func (r reader) selectRound(ctx context.Context, lock, roundID string) (domain.Round, error) {
	m := new(roundModel)
	q := r.db.NewSelect().Model(m).Where("r.id = ?", roundID)
	if lock != "" {
		q = q.For(lock)
	}
	if err := q.Scan(ctx); err != nil {
		return domain.Round{}, fmt.Errorf("select round: %w", notFound(err, domain.ErrRoundNotFound))
	}
	return m.toDomain()
}

func (r reader) Round(ctx context.Context, roundID string) (domain.Round, error) {
	return r.selectRound(ctx, "", roundID)
}

func (r reader) Rounds(ctx context.Context, gameID string) ([]domain.Round, error) {
	var ms []roundModel
	if err := r.db.NewSelect().Model(&ms).Where("r.game_id = ?", gameID).Order("r.sort_order", "r.created_at").Scan(ctx); err != nil {
		return nil, fmt.Errorf("select rounds: %w", err)
	}
	out := make([]domain.Round, 0, len(ms))
	for i := range ms {
		round, err := ms[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, round)
	}
	return out, nil
}

func (r reader) selectTeam(ctx context.Context, lock, where string, args ...any) (domain.Team, error) {
	m := new(teamModel)
	q := r.db.NewSelect().Model(m).Where(where, args...)
	if lock != "" {
		q = q.For(lock)
	}
	if err := q.Scan(ctx); err != nil {
		return domain.Team{}, fmt.Errorf("select team: %w", notFound(err, domain.ErrTeamNotFound))
	}
	return m.toDomain(), nil
}

func (r reader) Team(ctx context.Context, teamID string) (domain.Team, error) {
	return r.selectTeam(ctx, "", "t.id = ?", teamID)
}

func (r reader) TeamByName(ctx context.Context, gameID, name string) (domain.Team, error) {
	return r.selectTeam(ctx, "", "t.game_id = ? AND t.name = ?", gameID, name)
}

func (r reader) Teams(ctx context.Context, gameID string) ([]domain.Team, error) {
	var ms []teamModel
	if err := r.db.NewSelect().Model(&ms).Where("t.game_id = ?", gameID).Order("t.created_at", "t.id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("select teams: %w", err)
	}
	out := make([]domain.Team, len(ms))
	for i := range ms {
		out[i] = ms[i].toDomain()
	}
	return out, nil
}

func (r reader) Answer(ctx context.Context, answerID string) (domain.Answer, error) {
	m := new(answerModel)
	if err := r.db.NewSelect().Model(m).Where("a.id = ?", answerID).Scan(ctx); err != nil {
		return domain.Answer{}, fmt.Errorf("select answer: %w", notFound(err, domain.ErrAnswerNotFound))
	}
	return m.toDomain(), nil
}

func (r reader) selectAnswers(ctx context.Context, q *bun.SelectQuery) ([]domain.Answer, error) {
	var ms []answerModel
	if err := q.Model(&ms).Order("a.team_id", "a.round_id", "a.question_id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("select answers: %w", err)
	}
	return answersToDomain(ms), nil
}

func (r reader) GameAnswers(ctx context.Context, gameID string) ([]domain.Answer, error) {
	return r.selectAnswers(ctx, r.db.NewSelect().
		Where("a.round_id IN (SELECT id FROM rounds WHERE game_id = ?)", gameID))
}

func (r reader) RoundAnswers(ctx context.Context, roundID string) ([]domain.Answer, error) {
	return r.selectAnswers(ctx, r.db.NewSelect().Where("a.round_id = ?", roundID))
}

func (r reader) TeamRoundAnswers(ctx context.Context, teamID, roundID string) ([]domain.Answer, error) {
	return r.selectAnswers(ctx, r.db.NewSelect().Where("a.team_id = ? AND a.round_id = ?", teamID, roundID))
}

func (r reader) idSet(ctx context.Context, q *bun.SelectQuery) (map[string]bool, error) {
	var ids []string
	if err := q.Scan(ctx, &ids); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (r reader) SubmittedRounds(ctx context.Context, teamID string) (map[string]bool, error) {
	out, err := r.idSet(ctx, r.db.NewSelect().
		Model((*answerModel)(nil)).
		ColumnExpr("DISTINCT a.round_id::text").
		Where("a.team_id = ?", teamID))
	if err != nil {
		return nil, fmt.Errorf("select submitted rounds: %w", err)
	}
	return out, nil
}

func (r reader) ResubmitGrants(ctx context.Context, teamID string) (map[string]bool, error) {
	out, err := r.idSet(ctx, r.db.NewSelect().
		Model((*resubmitModel)(nil)).
		ColumnExpr("rp.round_id::text").
		Where("rp.team_id = ?", teamID))
	if err != nil {
		return nil, fmt.Errorf("select resubmit grants: %w", err)
	}
	return out, nil
}

func (r reader) RoundResubmitGrants(ctx context.Context, roundID string) (map[string]bool, error) {
	out, err := r.idSet(ctx, r.db.NewSelect().
		Model((*resubmitModel)(nil)).
		ColumnExpr("rp.team_id::text").
		Where("rp.round_id = ?", roundID))
	if err != nil {
		return nil, fmt.Errorf("select round resubmit grants: %w", err)
	}
	return out, nil
}

// isUniqueViolation reports a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}
