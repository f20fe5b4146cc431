package app_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"quizmaster/internal/app"
	"quizmaster/internal/domain"
	"quizmaster/internal/infra/memory"
)

var admin = domain.AdminPrincipal{AdminID: "qm"}

type quiz struct {
	engine *app.Engine
	hub    *app.Hub
	game   domain.Game
}

func newQuiz(t *testing.T) quiz {
	t.Helper()
	hub := app.NewHub(64)
	engine := app.NewEngine(memory.NewStore(), app.WithBroadcaster(hub))
	game, err := engine.CreateGame(context.Background(), "Thursday quiz")
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	return quiz{engine: engine, hub: hub, game: game}
}

func (q quiz) round(t *testing.T, spec app.NewRound) domain.Round {
	t.Helper()
	r, err := q.engine.CreateRound(context.Background(), q.game.ID, spec)
	if err != nil {
		t.Fatalf("create round %q: %v", spec.Name, err)
	}
	return r
}

func (q quiz) team(t *testing.T, name string) domain.Team {
	t.Helper()
	team, err := q.engine.RegisterTeam(context.Background(), q.game.Code, name, "pw-"+name)
	if err != nil {
		t.Fatalf("register %q: %v", name, err)
	}
	return team
}

func textQuestion(id, validation string) domain.Question {
	return domain.Question{ID: id, Kind: domain.KindText, Points: 1, Text: &domain.TextConfig{Validation: validation}}
}

func TestSubmitGradesAndRanks(t *testing.T) {
	ctx := context.Background()
	q := newQuiz(t)
	r := q.round(t, app.NewRound{Name: "Capitals", Questions: []domain.Question{
		textQuestion("q1", "Paris"),
		textQuestion("q2", "Rome"),
	}})
	owls := q.team(t, "Owls")
	foxes := q.team(t, "Foxes")

	res, err := q.engine.Submit(ctx, owls.ID, r.ID, domain.Submission{"q1": "paris", "q2": "Madrid"})
	if err != nil {
		t.Fatalf("submit owls: %v", err)
	}
	if diff := cmp.Diff(map[string]float64{"q1": 1, "q2": 0}, res.Points); diff != "" {
		t.Fatalf("points mismatch (-want +got):\n%s", diff)
	}
	if _, err := q.engine.Submit(ctx, foxes.ID, r.ID, domain.Submission{"q1": "Paris", "q2": "rome"}); err != nil {
		t.Fatalf("submit foxes: %v", err)
	}

	board, err := q.engine.Leaderboard(ctx, q.game.ID, admin)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(board.Rows))
	}
	if board.Rows[0].TeamID != foxes.ID || board.Rows[0].Total != 2 || board.Rows[1].Total != 1 {
		t.Fatalf("unexpected standings: %+v", board.Rows)
	}
}

func TestSubmitRejections(t *testing.T) {
	ctx := context.Background()
	q := newQuiz(t)
	parent := q.round(t, app.NewRound{Name: "Music"})
	child := q.round(t, app.NewRound{Name: "Intros", ParentID: parent.ID, Questions: []domain.Question{textQuestion("q1", "Queen")}})
	owls := q.team(t, "Owls")

	if _, err := q.engine.Submit(ctx, owls.ID, parent.ID, domain.Submission{"q1": "Queen"}); !errors.Is(err, domain.ErrRoundIsContainer) {
		t.Fatalf("expected container rejection, got %v", err)
	}

	if _, err := q.engine.Submit(ctx, owls.ID, child.ID, domain.Submission{"q1": "Queen"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := q.engine.Submit(ctx, owls.ID, child.ID, domain.Submission{"q1": "Queen"}); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected already submitted, got %v", err)
	}

	closed := q.round(t, app.NewRound{Name: "Closed", Questions: []domain.Question{textQuestion("q1", "x")}})
	if _, err := q.engine.SetRoundOpen(ctx, closed.ID, false); err != nil {
		t.Fatalf("close round: %v", err)
	}
	if _, err := q.engine.Submit(ctx, owls.ID, closed.ID, domain.Submission{"q1": "x"}); !errors.Is(err, domain.ErrRoundClosed) {
		t.Fatalf("expected closed round, got %v", err)
	}

	other := newQuiz(t)
	stranger := other.team(t, "Stranger")
	if _, err := q.engine.Submit(ctx, stranger.ID, child.ID, domain.Submission{"q1": "Queen"}); err == nil {
		t.Fatalf("expected a team of another game to be rejected")
	}
}

func TestSubmitMovesToNextSibling(t *testing.T) {
	ctx := context.Background()
	q := newQuiz(t)
	parent := q.round(t, app.NewRound{Name: "Film"})
	first := q.round(t, app.NewRound{Name: "Quotes", ParentID: parent.ID, Questions: []domain.Question{textQuestion("q1", "Rosebud")}})
	second := q.round(t, app.NewRound{Name: "Posters", ParentID: parent.ID, Questions: []domain.Question{textQuestion("q1", "Jaws")}})
	owls := q.team(t, "Owls")

	res, err := q.engine.Submit(ctx, owls.ID, first.ID, domain.Submission{"q1": "rosebud"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.NextRound == nil || res.NextRound.ID != second.ID {
		t.Fatalf("expected to move on to %s, got %+v", second.ID, res.NextRound)
	}
}

func TestResubmitGrantIsConsumedOnce(t *testing.T) {
	ctx := context.Background()
	q := newQuiz(t)
	r := q.round(t, app.NewRound{Name: "Only", Questions: []domain.Question{textQuestion("q1", "yes")}})
	owls := q.team(t, "Owls")

	if _, err := q.engine.Submit(ctx, owls.ID, r.ID, domain.Submission{"q1": "no"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := q.engine.GrantResubmission(ctx, r.ID, owls.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := q.engine.Submit(ctx, owls.ID, r.ID, domain.Submission{"q1": "yes"})
			if err == nil && res.Resubmitted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if accepted != 1 {
		t.Fatalf("expected exactly one resubmission, got %d", accepted)
	}

	scores, err := q.engine.TeamRoundScores(ctx, owls.ID)
	if err != nil {
		t.Fatalf("round scores: %v", err)
	}
	if scores[r.ID] != 1 {
		t.Fatalf("expected the resubmitted answer to score 1, got %v", scores[r.ID])
	}
}

func TestClosedRoundBlocksGrantedResubmission(t *testing.T) {
	ctx := context.Background()
	q := newQuiz(t)
	r := q.round(t, app.NewRound{Name: "Only", Questions: []domain.Question{textQuestion("q1", "yes")}})
	owls := q.team(t, "Owls")

	if _, err := q.engine.Submit(ctx, owls.ID, r.ID, domain.Submission{"q1": "no"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := q.engine.GrantResubmission(ctx, r.ID, owls.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := q.engine.SetRoundOpen(ctx, r.ID, false); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := q.engine.Submit(ctx, owls.ID, r.ID, domain.Submission{"q1": "yes"}); !errors.Is(err, domain.ErrRoundClosed) {
		t.Fatalf("expected ErrRoundClosed, got %v", err)
	}

	statuses, err := q.engine.RoundSubmissions(ctx, r.ID)
	if err != nil {
		t.Fatalf("round submissions: %v", err)
	}
	want := []app.SubmissionStatus{{TeamID: owls.ID, TeamName: "Owls", Submitted: true, CanResubmit: true}}
	if diff := cmp.Diff(want, statuses); diff != "" {
		t.Fatalf("grant must survive the rejected attempt (-want +got):\n%s", diff)
	}
}

func TestReplaceQuestionsRegradesChangedOnly(t *testing.T) {
	ctx := context.Background()
	q := newQuiz(t)
	r := q.round(t, app.NewRound{Name: "Rivers", Questions: []domain.Question{
		textQuestion("q1", "Nile"),
		textQuestion("q2", "Amazon"),
	}})
	owls := q.team(t, "Owls")
	if _, err := q.engine.Submit(ctx, owls.ID, r.ID, domain.Submission{"q1": "Thames", "q2": "Amazon"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	sheet, err := q.engine.Scoresheet(ctx, q.game.ID)
	if err != nil {
		t.Fatalf("scoresheet: %v", err)
	}
	if len(sheet.Rows) != 1 {
		t.Fatalf("expected one scoresheet row, got %d", len(sheet.Rows))
	}

	err = q.engine.ReplaceQuestions(ctx, r.ID, []domain.Question{
		textQuestion("q1", "Nile | Thames"),
		textQuestion("q2", "Amazon"),
	})
	if err != nil {
		t.Fatalf("replace questions: %v", err)
	}
	scores, err := q.engine.TeamRoundScores(ctx, owls.ID)
	if err != nil {
		t.Fatalf("round scores: %v", err)
	}
	if scores[r.ID] != 2 {
		t.Fatalf("expected regrade to lift the round to 2, got %v", scores[r.ID])
	}
}

func TestSettleBets(t *testing.T) {
	ctx := context.Background()
	q := newQuiz(t)
	r := q.round(t, app.NewRound{Name: "Race", Questions: []domain.Question{{
		ID:   "bet",
		Kind: domain.KindBetting,
		Betting: &domain.BettingConfig{
			Choices:     []string{"Fox", "Hare", "Owl"},
			Places:      3,
			Multipliers: []float64{3, 2, 1},
			MaxBet:      3,
		},
	}}})
	owls := q.team(t, "Owls")

	res, err := q.engine.Submit(ctx, owls.ID, r.ID, domain.Submission{"bet": domain.EncodeBet(2, "Fox")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Points["bet"] != -2 {
		t.Fatalf("expected the stake to be held as -2, got %v", res.Points["bet"])
	}

	settled, err := q.engine.SettleBets(ctx, r.ID, "bet", []string{"Fox", "Hare", "Owl"})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(settled) != 1 || settled[0].Points != 4 {
		t.Fatalf("expected a profit of 4, got %+v", settled)
	}

	results, err := q.engine.BettingResults(ctx, r.ID, "bet")
	if err != nil {
		t.Fatalf("betting results: %v", err)
	}
	if diff := cmp.Diff([]string{"Fox", "Hare", "Owl"}, results); diff != "" {
		t.Fatalf("results mismatch (-want +got):\n%s", diff)
	}

	plain := q.round(t, app.NewRound{Name: "Plain", Questions: []domain.Question{textQuestion("q1", "x")}})
	if _, err := q.engine.SettleBets(ctx, plain.ID, "q1", []string{"Fox"}); !errors.Is(err, domain.ErrNotBettingQuestion) {
		t.Fatalf("expected not-a-betting-question, got %v", err)
	}
}

func TestLeaderboardHiddenAfterFinalRound(t *testing.T) {
	ctx := context.Background()
	q := newQuiz(t)
	final := q.round(t, app.NewRound{Name: "Final", Questions: []domain.Question{textQuestion("q1", "x")}})
	owls := q.team(t, "Owls")
	foxes := q.team(t, "Foxes")
	owlView := domain.TeamPrincipal{TeamID: owls.ID, GameID: q.game.ID}

	if _, err := q.engine.Submit(ctx, owls.ID, final.ID, domain.Submission{"q1": "x"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	board, err := q.engine.Leaderboard(ctx, q.game.ID, owlView)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if board.Hidden {
		t.Fatalf("board must stay visible while the final round is open")
	}

	if _, err := q.engine.SetRoundOpen(ctx, final.ID, false); err != nil {
		t.Fatalf("close: %v", err)
	}
	board, err = q.engine.Leaderboard(ctx, q.game.ID, owlView)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if !board.Hidden || len(board.Rows) != 0 {
		t.Fatalf("expected a hidden board, got %+v", board)
	}

	// Foxes never answered the final round.
	board, err = q.engine.Leaderboard(ctx, q.game.ID, domain.TeamPrincipal{TeamID: foxes.ID, GameID: q.game.ID})
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if board.Hidden {
		t.Fatalf("board must stay visible to a team without a final answer")
	}

	if board, err = q.engine.Leaderboard(ctx, q.game.ID, admin); err != nil || board.Hidden {
		t.Fatalf("admin must always see the board: %+v, %v", board, err)
	}

	if err := q.engine.FinishGame(ctx, q.game.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}
	board, err = q.engine.Leaderboard(ctx, q.game.ID, owlView)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if board.Hidden || len(board.Rows) != 2 {
		t.Fatalf("expected the final standings, got %+v", board)
	}
}

func TestAwayTimeTracking(t *testing.T) {
	ctx := context.Background()
	q := newQuiz(t)
	r := q.round(t, app.NewRound{Name: "Live", Questions: []domain.Question{textQuestion("q1", "x")}})
	owls := q.team(t, "Owls")

	st, err := q.engine.TickAwayTime(ctx, owls.ID)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !st.Counted || st.AwaySeconds != 1 {
		t.Fatalf("expected a counted tick, got %+v", st)
	}
	if _, err := q.engine.ReportAwayTime(ctx, owls.ID, 0); err == nil {
		t.Fatalf("expected non-positive seconds to be rejected")
	}

	if _, err := q.engine.SetPause(ctx, q.game.ID, domain.PauseHalftime); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if st, err = q.engine.TickAwayTime(ctx, owls.ID); err != nil || st.Counted {
		t.Fatalf("ticks during a pause must be ignored: %+v, %v", st, err)
	}
	if _, err := q.engine.SetPause(ctx, q.game.ID, domain.PauseNone); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if _, err := q.engine.SetRoundOpen(ctx, r.ID, false); err != nil {
		t.Fatalf("close: %v", err)
	}
	if st, err = q.engine.TickAwayTime(ctx, owls.ID); err != nil || st.Counted {
		t.Fatalf("ticks without an open round must be ignored: %+v, %v", st, err)
	}

	st, err = q.engine.SetTabAwaySeconds(ctx, owls.ID, -5)
	if err != nil {
		t.Fatalf("set away seconds: %v", err)
	}
	if st.AwaySeconds != 0 {
		t.Fatalf("expected negative seconds to clamp to 0, got %d", st.AwaySeconds)
	}
}

func TestAwayTimeSaturates(t *testing.T) {
	ctx := context.Background()
	q := newQuiz(t)
	q.round(t, app.NewRound{Name: "Live", Questions: []domain.Question{textQuestion("q1", "x")}})
	owls := q.team(t, "Owls")

	if _, err := q.engine.ReportAwayTime(ctx, owls.ID, 100); err != nil {
		t.Fatalf("report: %v", err)
	}
	if _, err := q.engine.ReportAwayTime(ctx, owls.ID, math.MaxInt); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected an oversized report to be rejected, got %v", err)
	}
	st, err := q.engine.AwayTime(ctx, owls.ID)
	if err != nil {
		t.Fatalf("away time: %v", err)
	}
	if st.AwaySeconds != 100 || st.Penalty != 10 {
		t.Fatalf("rejected report changed the record: %+v", st)
	}

	st, err = q.engine.SetTabAwaySeconds(ctx, owls.ID, math.MaxInt)
	if err != nil {
		t.Fatalf("set away seconds: %v", err)
	}
	if st.AwaySeconds != math.MaxInt32 {
		t.Fatalf("expected the total to clamp to %d, got %d", math.MaxInt32, st.AwaySeconds)
	}
	if st, err = q.engine.ReportAwayTime(ctx, owls.ID, 60); err != nil {
		t.Fatalf("report at the cap: %v", err)
	}
	if st.AwaySeconds != math.MaxInt32 || st.Penalty <= 0 {
		t.Fatalf("expected the total to saturate, got %+v", st)
	}
	if st, err = q.engine.TickAwayTime(ctx, owls.ID); err != nil || st.AwaySeconds != math.MaxInt32 {
		t.Fatalf("expected a tick to saturate: %+v, %v", st, err)
	}
}

func TestDeleteCustomColumnDropsScores(t *testing.T) {
	ctx := context.Background()
	q := newQuiz(t)
	owls := q.team(t, "Owls")

	col, err := q.engine.AddCustomColumn(ctx, q.game.ID, "Picture round")
	if err != nil {
		t.Fatalf("add column: %v", err)
	}
	if err := q.engine.SetCustomScore(ctx, owls.ID, col.ID, 5); err != nil {
		t.Fatalf("set score: %v", err)
	}
	board, err := q.engine.Leaderboard(ctx, q.game.ID, admin)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if board.Rows[0].Total != 5 {
		t.Fatalf("expected custom score in total, got %v", board.Rows[0].Total)
	}

	if err := q.engine.DeleteCustomColumn(ctx, q.game.ID, col.ID); err != nil {
		t.Fatalf("delete column: %v", err)
	}
	board, err = q.engine.Leaderboard(ctx, q.game.ID, admin)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if board.Rows[0].Total != 0 {
		t.Fatalf("expected column scores to go with the column, got %v", board.Rows[0].Total)
	}
	if err := q.engine.SetCustomScore(ctx, owls.ID, col.ID, 1); !errors.Is(err, domain.ErrColumnNotFound) {
		t.Fatalf("expected column not found, got %v", err)
	}
}

func TestTeamCredentials(t *testing.T) {
	ctx := context.Background()
	q := newQuiz(t)
	owls := q.team(t, "Owls")

	if _, err := q.engine.RegisterTeam(ctx, q.game.Code, "Owls", "again"); !errors.Is(err, domain.ErrTeamNameTaken) {
		t.Fatalf("expected name taken, got %v", err)
	}
	if _, err := q.engine.SignIn(ctx, q.game.Code, "Owls", "wrong"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	team, err := q.engine.SignIn(ctx, q.game.Code, "Owls", "pw-Owls")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if team.ID != owls.ID || team.LoginCount != 1 {
		t.Fatalf("unexpected team after sign in: %+v", team)
	}

	foxes := q.team(t, "Foxes")
	foxView := domain.TeamPrincipal{TeamID: foxes.ID, GameID: q.game.ID}
	if _, err := q.engine.RenameTeam(ctx, foxView, owls.ID, "Hijacked"); !errors.Is(err, domain.ErrNotPermitted) {
		t.Fatalf("expected a team to be barred from renaming another, got %v", err)
	}
	if _, err := q.engine.RenameTeam(ctx, admin, owls.ID, "Barn Owls"); err != nil {
		t.Fatalf("admin rename: %v", err)
	}
}
