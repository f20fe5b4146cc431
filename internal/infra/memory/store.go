package memory

import (
	"context"
	"sort"
	"sync"

	"quizmaster/internal/app"
	"quizmaster/internal/domain"
)

// Store is an in-memory implementation of app.Store. Transactions run one
// at a time against a copy of the state that replaces it on commit.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	games   map[string]domain.Game
	rounds  map[string]domain.Round
	teams   map[string]domain.Team
	answers map[domain.AnswerKey]domain.Answer
	grants  map[grantKey]domain.ResubmitPermission
}

type grantKey struct {
	teamID  string
	roundID string
}

func NewStore() *Store {
	return &Store{state: &state{
		games:   make(map[string]domain.Game),
		rounds:  make(map[string]domain.Round),
		teams:   make(map[string]domain.Team),
		answers: make(map[domain.AnswerKey]domain.Answer),
		grants:  make(map[grantKey]domain.ResubmitPermission),
	}}
}

// RunInTx serializes fn with every other transaction. Changes become visible
// only when fn returns nil.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &tx{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// read returns the committed state. Committed states are never mutated, so
// callers can use it without holding the lock.
func (s *Store) read() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) Game(ctx context.Context, gameID string) (domain.Game, error) {
	return s.read().game(gameID)
}

func (s *Store) GameByCode(ctx context.Context, code string) (domain.Game, error) {
	return s.read().gameByCode(code)
}

func (s *Store) Round(ctx context.Context, roundID string) (domain.Round, error) {
	return s.read().round(roundID)
}

func (s *Store) Rounds(ctx context.Context, gameID string) ([]domain.Round, error) {
	return s.read().roundsOf(gameID)
}

func (s *Store) Team(ctx context.Context, teamID string) (domain.Team, error) {
	return s.read().team(teamID)
}

func (s *Store) TeamByName(ctx context.Context, gameID, name string) (domain.Team, error) {
	return s.read().teamByName(gameID, name)
}

func (s *Store) Teams(ctx context.Context, gameID string) ([]domain.Team, error) {
	return s.read().teamsOf(gameID)
}

func (s *Store) Answer(ctx context.Context, answerID string) (domain.Answer, error) {
	return s.read().answer(answerID)
}

func (s *Store) GameAnswers(ctx context.Context, gameID string) ([]domain.Answer, error) {
	return s.read().gameAnswers(gameID)
}

func (s *Store) RoundAnswers(ctx context.Context, roundID string) ([]domain.Answer, error) {
	return s.read().roundAnswers(roundID)
}

func (s *Store) TeamRoundAnswers(ctx context.Context, teamID, roundID string) ([]domain.Answer, error) {
	return s.read().teamRoundAnswers(teamID, roundID)
}

func (s *Store) SubmittedRounds(ctx context.Context, teamID string) (map[string]bool, error) {
	return s.read().submittedRounds(teamID)
}

func (s *Store) ResubmitGrants(ctx context.Context, teamID string) (map[string]bool, error) {
	return s.read().resubmitGrants(teamID)
}

func (s *Store) RoundResubmitGrants(ctx context.Context, roundID string) (map[string]bool, error) {
	return s.read().roundResubmitGrants(roundID)
}

func (st *state) clone() *state {
	out := &state{
		games:   make(map[string]domain.Game, len(st.games)),
		rounds:  make(map[string]domain.Round, len(st.rounds)),
		teams:   make(map[string]domain.Team, len(st.teams)),
		answers: make(map[domain.AnswerKey]domain.Answer, len(st.answers)),
		grants:  make(map[grantKey]domain.ResubmitPermission, len(st.grants)),
	}
	for k, v := range st.games {
		out.games[k] = v
	}
	for k, v := range st.rounds {
		out.rounds[k] = v
	}
	for k, v := range st.teams {
		out.teams[k] = v
	}
	for k, v := range st.answers {
		out.answers[k] = v
	}
	for k, v := range st.grants {
		out.grants[k] = v
	}
	return out
}

func (st *state) game(id string) (domain.Game, error) {
	g, ok := st.games[id]
	if !ok {
		return domain.Game{}, domain.ErrGameNotFound
	}
	return copyGame(g), nil
}

func (st *state) gameByCode(code string) (domain.Game, error) {
	for _, g := range st.games {
		if g.Code == code {
			return copyGame(g), nil
		}
	}
	return domain.Game{}, domain.ErrGameNotFound
}

func (st *state) round(id string) (domain.Round, error) {
	r, ok := st.rounds[id]
	if !ok {
		return domain.Round{}, domain.ErrRoundNotFound
	}
	return copyRound(r), nil
}

func (st *state) roundsOf(gameID string) ([]domain.Round, error) {
	var out []domain.Round
	for _, r := range st.rounds {
		if r.GameID == gameID {
			out = append(out, copyRound(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st *state) team(id string) (domain.Team, error) {
	t, ok := st.teams[id]
	if !ok {
		return domain.Team{}, domain.ErrTeamNotFound
	}
	return copyTeam(t), nil
}

func (st *state) teamByName(gameID, name string) (domain.Team, error) {
	for _, t := range st.teams {
		if t.GameID == gameID && t.Name == name {
			return copyTeam(t), nil
		}
	}
	return domain.Team{}, domain.ErrTeamNotFound
}

func (st *state) teamsOf(gameID string) ([]domain.Team, error) {
	var out []domain.Team
	for _, t := range st.teams {
		if t.GameID == gameID {
			out = append(out, copyTeam(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (st *state) answer(id string) (domain.Answer, error) {
	for _, a := range st.answers {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Answer{}, domain.ErrAnswerNotFound
}

func (st *state) filterAnswers(keep func(domain.Answer) bool) []domain.Answer {
	var out []domain.Answer
	for _, a := range st.answers {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TeamID != b.TeamID {
			return a.TeamID < b.TeamID
		}
		if a.RoundID != b.RoundID {
			return a.RoundID < b.RoundID
		}
		return a.QuestionID < b.QuestionID
	})
	return out
}

func (st *state) gameAnswers(gameID string) ([]domain.Answer, error) {
	return st.filterAnswers(func(a domain.Answer) bool {
		r, ok := st.rounds[a.RoundID]
		return ok && r.GameID == gameID
	}), nil
}

func (st *state) roundAnswers(roundID string) ([]domain.Answer, error) {
	return st.filterAnswers(func(a domain.Answer) bool { return a.RoundID == roundID }), nil
}

func (st *state) teamRoundAnswers(teamID, roundID string) ([]domain.Answer, error) {
	return st.filterAnswers(func(a domain.Answer) bool {
		return a.TeamID == teamID && a.RoundID == roundID
	}), nil
}

func (st *state) submittedRounds(teamID string) (map[string]bool, error) {
	out := make(map[string]bool)
	for k := range st.answers {
		if k.TeamID == teamID {
			out[k.RoundID] = true
		}
	}
	return out, nil
}

func (st *state) resubmitGrants(teamID string) (map[string]bool, error) {
	out := make(map[string]bool)
	for k := range st.grants {
		if k.teamID == teamID {
			out[k.roundID] = true
		}
	}
	return out, nil
}

func (st *state) roundResubmitGrants(roundID string) (map[string]bool, error) {
	out := make(map[string]bool)
	for k := range st.grants {
		if k.roundID == roundID {
			out[k.teamID] = true
		}
	}
	return out, nil
}

func copyGame(g domain.Game) domain.Game {
	g.CustomColumns = append([]domain.CustomColumn(nil), g.CustomColumns...)
	return g
}

func copyRound(r domain.Round) domain.Round {
	r.Questions = append([]domain.Question(nil), r.Questions...)
	if r.TimerEndsAt != nil {
		at := *r.TimerEndsAt
		r.TimerEndsAt = &at
	}
	return r
}

func copyTeam(t domain.Team) domain.Team {
	if t.CustomScores != nil {
		scores := make(map[string]float64, len(t.CustomScores))
		for k, v := range t.CustomScores {
			scores[k] = v
		}
		t.CustomScores = scores
	}
	return t
}
