package app

import (
	"context"

	"quizmaster/internal/domain"
	"quizmaster/internal/rounds"
	"quizmaster/internal/standings"
)

// Leaderboard ranks the teams of a game for viewer. A team that has closed
// out the final round gets a hidden board without rows until the game is
// finished.
func (e *Engine) Leaderboard(ctx context.Context, gameID string, viewer domain.Principal) (standings.Board, error) {
	game, err := e.store.Game(ctx, gameID)
	if err != nil {
		return standings.Board{}, err
	}
	if teamID := domain.ViewerTeamID(viewer); teamID != "" {
		h, err := e.hierarchy(ctx, gameID)
		if err != nil {
			return standings.Board{}, err
		}
		submitted, err := e.store.SubmittedRounds(ctx, teamID)
		if err != nil {
			return standings.Board{}, err
		}
		if standings.IsHidden(game, h, teamID, submitted) {
			return standings.Board{GameID: gameID, Hidden: true}, nil
		}
	}

	teams, err := e.store.Teams(ctx, gameID)
	if err != nil {
		return standings.Board{}, err
	}
	tallies, err := e.tallyGame(ctx, gameID)
	if err != nil {
		return standings.Board{}, err
	}
	return standings.Board{GameID: gameID, Rows: standings.Rank(teams, tallies)}, nil
}

func (e *Engine) tallyGame(ctx context.Context, gameID string) (map[string]standings.Tally, error) {
	if e.tallies != nil {
		return e.tallies.Tallies(ctx, gameID)
	}
	answers, err := e.store.GameAnswers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return standings.TallyAnswers(answers), nil
}

// Scoresheet is the per-round breakdown shown to quiz masters.
func (e *Engine) Scoresheet(ctx context.Context, gameID string) (standings.Scoresheet, error) {
	game, err := e.store.Game(ctx, gameID)
	if err != nil {
		return standings.Scoresheet{}, err
	}
	h, err := e.hierarchy(ctx, gameID)
	if err != nil {
		return standings.Scoresheet{}, err
	}
	teams, err := e.store.Teams(ctx, gameID)
	if err != nil {
		return standings.Scoresheet{}, err
	}
	answers, err := e.store.GameAnswers(ctx, gameID)
	if err != nil {
		return standings.Scoresheet{}, err
	}
	return standings.BuildScoresheet(game, h, teams, answers), nil
}

func (e *Engine) teamState(ctx context.Context, teamID string) (domain.Team, rounds.TeamState, error) {
	team, err := e.store.Team(ctx, teamID)
	if err != nil {
		return domain.Team{}, rounds.TeamState{}, err
	}
	submitted, err := e.store.SubmittedRounds(ctx, teamID)
	if err != nil {
		return domain.Team{}, rounds.TeamState{}, err
	}
	grants, err := e.store.ResubmitGrants(ctx, teamID)
	if err != nil {
		return domain.Team{}, rounds.TeamState{}, err
	}
	return team, rounds.TeamState{Submitted: submitted, Resubmit: grants}, nil
}

// NextRound tells a team where to go next.
func (e *Engine) NextRound(ctx context.Context, teamID string) (rounds.Step, error) {
	team, st, err := e.teamState(ctx, teamID)
	if err != nil {
		return rounds.Step{}, err
	}
	game, err := e.store.Game(ctx, team.GameID)
	if err != nil {
		return rounds.Step{}, err
	}
	h, err := e.hierarchy(ctx, team.GameID)
	if err != nil {
		return rounds.Step{}, err
	}
	return rounds.Next(game, h, st), nil
}

// Progress counts the top-level rounds a team has completed.
func (e *Engine) Progress(ctx context.Context, teamID string) (rounds.Progress, error) {
	team, st, err := e.teamState(ctx, teamID)
	if err != nil {
		return rounds.Progress{}, err
	}
	h, err := e.hierarchy(ctx, team.GameID)
	if err != nil {
		return rounds.Progress{}, err
	}
	return rounds.ProgressFor(h, st.Submitted), nil
}
