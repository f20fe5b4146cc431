package memory

import (
	"context"

	"quizmaster/internal/domain"
)

// tx works on a private copy of the state. The store admits one transaction
// at a time, so the lock methods only need to read.
type tx struct {
	state *state
}

func (t *tx) Game(_ context.Context, gameID string) (domain.Game, error) {
	return t.state.game(gameID)
}

func (t *tx) GameByCode(_ context.Context, code string) (domain.Game, error) {
	return t.state.gameByCode(code)
}

func (t *tx) Round(_ context.Context, roundID string) (domain.Round, error) {
	return t.state.round(roundID)
}

func (t *tx) Rounds(_ context.Context, gameID string) ([]domain.Round, error) {
	return t.state.roundsOf(gameID)
}

func (t *tx) Team(_ context.Context, teamID string) (domain.Team, error) {
	return t.state.team(teamID)
}

func (t *tx) TeamByName(_ context.Context, gameID, name string) (domain.Team, error) {
	return t.state.teamByName(gameID, name)
}

func (t *tx) Teams(_ context.Context, gameID string) ([]domain.Team, error) {
	return t.state.teamsOf(gameID)
}

func (t *tx) Answer(_ context.Context, answerID string) (domain.Answer, error) {
	return t.state.answer(answerID)
}

func (t *tx) GameAnswers(_ context.Context, gameID string) ([]domain.Answer, error) {
	return t.state.gameAnswers(gameID)
}

func (t *tx) RoundAnswers(_ context.Context, roundID string) ([]domain.Answer, error) {
	return t.state.roundAnswers(roundID)
}

func (t *tx) TeamRoundAnswers(_ context.Context, teamID, roundID string) ([]domain.Answer, error) {
	return t.state.teamRoundAnswers(teamID, roundID)
}

func (t *tx) SubmittedRounds(_ context.Context, teamID string) (map[string]bool, error) {
	return t.state.submittedRounds(teamID)
}

func (t *tx) ResubmitGrants(_ context.Context, teamID string) (map[string]bool, error) {
	return t.state.resubmitGrants(teamID)
}

func (t *tx) RoundResubmitGrants(_ context.Context, roundID string) (map[string]bool, error) {
	return t.state.roundResubmitGrants(roundID)
}

func (t *tx) LockGame(ctx context.Context, gameID string) (domain.Game, error) {
	return t.Game(ctx, gameID)
}

func (t *tx) LockRound(ctx context.Context, roundID string, _ bool) (domain.Round, error) {
	return t.Round(ctx, roundID)
}

func (t *tx) LockTeam(ctx context.Context, teamID string) (domain.Team, error) {
	return t.Team(ctx, teamID)
}

func (t *tx) LockSubmission(context.Context, string, string) error {
	return nil
}

func (t *tx) CreateGame(_ context.Context, g domain.Game) error {
	t.state.games[g.ID] = copyGame(g)
	return nil
}

func (t *tx) UpdateGame(_ context.Context, g domain.Game) error {
	if _, ok := t.state.games[g.ID]; !ok {
		return domain.ErrGameNotFound
	}
	t.state.games[g.ID] = copyGame(g)
	return nil
}

func (t *tx) CreateRound(_ context.Context, r domain.Round) error {
	if _, ok := t.state.games[r.GameID]; !ok {
		return domain.ErrGameNotFound
	}
	t.state.rounds[r.ID] = copyRound(r)
	return nil
}

func (t *tx) UpdateRound(_ context.Context, r domain.Round) error {
	if _, ok := t.state.rounds[r.ID]; !ok {
		return domain.ErrRoundNotFound
	}
	t.state.rounds[r.ID] = copyRound(r)
	return nil
}

func (t *tx) CreateTeam(_ context.Context, team domain.Team) error {
	if _, err := t.state.teamByName(team.GameID, team.Name); err == nil {
		return domain.ErrTeamNameTaken
	}
	t.state.teams[team.ID] = copyTeam(team)
	return nil
}

func (t *tx) UpdateTeam(_ context.Context, team domain.Team) error {
	if _, ok := t.state.teams[team.ID]; !ok {
		return domain.ErrTeamNotFound
	}
	t.state.teams[team.ID] = copyTeam(team)
	return nil
}

func (t *tx) DeleteTeam(_ context.Context, teamID string) error {
	if _, ok := t.state.teams[teamID]; !ok {
		return domain.ErrTeamNotFound
	}
	delete(t.state.teams, teamID)
	for k := range t.state.answers {
		if k.TeamID == teamID {
			delete(t.state.answers, k)
		}
	}
	for k := range t.state.grants {
		if k.teamID == teamID {
			delete(t.state.grants, k)
		}
	}
	return nil
}

func (t *tx) SaveAnswers(_ context.Context, answers []domain.Answer) error {
	for _, a := range answers {
		t.state.answers[a.Key()] = a
	}
	return nil
}

func (t *tx) GrantResubmit(_ context.Context, p domain.ResubmitPermission) error {
	t.state.grants[grantKey{teamID: p.TeamID, roundID: p.RoundID}] = p
	return nil
}

func (t *tx) ConsumeResubmit(_ context.Context, teamID, roundID string) (bool, error) {
	k := grantKey{teamID: teamID, roundID: roundID}
	if _, ok := t.state.grants[k]; !ok {
		return false, nil
	}
	delete(t.state.grants, k)
	return true, nil
}
