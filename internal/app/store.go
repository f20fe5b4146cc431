package app

import (
	"context"

	"quizmaster/internal/domain"
	"quizmaster/internal/standings"
)

// Reader is the query side of persistence. Lookups of a missing row return
// the matching domain not-found error.
type Reader interface {
	Game(ctx context.Context, gameID string) (domain.Game, error)
	GameByCode(ctx context.Context, code string) (domain.Game, error)
	Round(ctx context.Context, roundID string) (domain.Round, error)
	Rounds(ctx context.Context, gameID string) ([]domain.Round, error)
	Team(ctx context.Context, teamID string) (domain.Team, error)
	TeamByName(ctx context.Context, gameID, name string) (domain.Team, error)
	Teams(ctx context.Context, gameID string) ([]domain.Team, error)
	Answer(ctx context.Context, answerID string) (domain.Answer, error)
	GameAnswers(ctx context.Context, gameID string) ([]domain.Answer, error)
	RoundAnswers(ctx context.Context, roundID string) ([]domain.Answer, error)
	TeamRoundAnswers(ctx context.Context, teamID, roundID string) ([]domain.Answer, error)
	// SubmittedRounds returns the ids of the rounds a team has answers in.
	SubmittedRounds(ctx context.Context, teamID string) (map[string]bool, error)
	// ResubmitGrants returns the ids of the rounds a team may resubmit.
	ResubmitGrants(ctx context.Context, teamID string) (map[string]bool, error)
	RoundResubmitGrants(ctx context.Context, roundID string) (map[string]bool, error)
}

// Tx is a unit of work. Locks are held until the transaction ends.
type Tx interface {
	Reader

	// LockGame reads a game and blocks other writers of it.
	LockGame(ctx context.Context, gameID string) (domain.Game, error)
	// LockRound reads a round. Exclusive locks serialize with every
	// submission to the round; shared locks only with exclusive ones.
	LockRound(ctx context.Context, roundID string, exclusive bool) (domain.Round, error)
	LockTeam(ctx context.Context, teamID string) (domain.Team, error)
	// LockSubmission serializes submissions of one team to one round.
	LockSubmission(ctx context.Context, teamID, roundID string) error

	CreateGame(ctx context.Context, g domain.Game) error
	UpdateGame(ctx context.Context, g domain.Game) error
	CreateRound(ctx context.Context, r domain.Round) error
	UpdateRound(ctx context.Context, r domain.Round) error
	CreateTeam(ctx context.Context, t domain.Team) error
	UpdateTeam(ctx context.Context, t domain.Team) error
	// DeleteTeam removes a team with its answers and grants.
	DeleteTeam(ctx context.Context, teamID string) error
	// SaveAnswers inserts or replaces answers by (team, round, question).
	SaveAnswers(ctx context.Context, answers []domain.Answer) error
	GrantResubmit(ctx context.Context, p domain.ResubmitPermission) error
	// ConsumeResubmit deletes a grant and reports whether one existed.
	ConsumeResubmit(ctx context.Context, teamID, roundID string) (bool, error)
}

// Store is the persistence boundary of the engine.
type Store interface {
	Reader
	// RunInTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// RoundCache serves the round list of a game on read paths.
type RoundCache interface {
	Rounds(ctx context.Context, gameID string) ([]domain.Round, error)
	Invalidate(ctx context.Context, gameID string)
}

// TallyReader sums answer columns per team for a game.
type TallyReader interface {
	Tallies(ctx context.Context, gameID string) (map[string]standings.Tally, error)
}

type passthroughRounds struct {
	store Reader
}

func (p passthroughRounds) Rounds(ctx context.Context, gameID string) ([]domain.Round, error) {
	return p.store.Rounds(ctx, gameID)
}

func (passthroughRounds) Invalidate(context.Context, string) {}
