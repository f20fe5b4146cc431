package app_test

import (
	"context"
	"testing"

	"quizmaster/internal/app"
	"quizmaster/internal/domain"
	"quizmaster/internal/infra/memory"
)

// laggingStore hands out transactions whose unlocked reads return an older
// snapshot, the way a concurrent commit looks to a reader that has not yet
// taken its row locks.
type laggingStore struct {
	app.Store
	rounds  []domain.Round
	answers map[string]domain.Answer
}

func (s *laggingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, tx app.Tx) error {
		return fn(ctx, &laggingTx{Tx: tx, store: s})
	})
}

type laggingTx struct {
	app.Tx
	store  *laggingStore
	locked bool
}

func (t *laggingTx) LockRound(ctx context.Context, roundID string, exclusive bool) (domain.Round, error) {
	r, err := t.Tx.LockRound(ctx, roundID, exclusive)
	if err == nil && exclusive {
		t.locked = true
	}
	return r, err
}

func (t *laggingTx) Rounds(ctx context.Context, gameID string) ([]domain.Round, error) {
	if !t.locked && t.store.rounds != nil {
		return append([]domain.Round(nil), t.store.rounds...), nil
	}
	return t.Tx.Rounds(ctx, gameID)
}

func (t *laggingTx) Answer(ctx context.Context, answerID string) (domain.Answer, error) {
	if a, ok := t.store.answers[answerID]; ok && !t.locked {
		return a, nil
	}
	return t.Tx.Answer(ctx, answerID)
}

func newLaggingQuiz(t *testing.T) (*laggingStore, *app.Engine, domain.Game) {
	t.Helper()
	store := &laggingStore{Store: memory.NewStore(), answers: make(map[string]domain.Answer)}
	engine := app.NewEngine(store)
	game, err := engine.CreateGame(context.Background(), "Lagging quiz")
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	return store, engine, game
}

func TestReorderKeepsConcurrentClose(t *testing.T) {
	ctx := context.Background()
	store, engine, game := newLaggingQuiz(t)
	first, err := engine.CreateRound(ctx, game.ID, app.NewRound{Name: "First", Questions: []domain.Question{textQuestion("q1", "x")}})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := engine.CreateRound(ctx, game.ID, app.NewRound{Name: "Second", Questions: []domain.Question{textQuestion("q1", "x")}})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	before, err := store.Rounds(ctx, game.ID)
	if err != nil {
		t.Fatalf("rounds: %v", err)
	}
	if _, err := engine.SetRoundOpen(ctx, first.ID, false); err != nil {
		t.Fatalf("close: %v", err)
	}
	store.rounds = before

	err = engine.ReorderRounds(ctx, game.ID, []app.RoundMove{
		{RoundID: first.ID, Order: 2},
		{RoundID: second.ID, Order: 1},
	})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	store.rounds = nil

	got, err := store.Round(ctx, first.ID)
	if err != nil {
		t.Fatalf("round: %v", err)
	}
	if got.Open {
		t.Fatalf("reorder reopened a round closed before it took its locks")
	}
	if got.Order != 2 {
		t.Fatalf("expected order 2, got %d", got.Order)
	}
}

func TestAnswerEditsReadUnderRoundLock(t *testing.T) {
	ctx := context.Background()
	store, engine, game := newLaggingQuiz(t)
	r, err := engine.CreateRound(ctx, game.ID, app.NewRound{Name: "Only", Questions: []domain.Question{textQuestion("q1", "yes")}})
	if err != nil {
		t.Fatalf("create round: %v", err)
	}
	owls, err := engine.RegisterTeam(ctx, game.Code, "Owls", "pw-owls")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := engine.Submit(ctx, owls.ID, r.ID, domain.Submission{"q1": "no"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	answers, err := store.TeamRoundAnswers(ctx, owls.ID, r.ID)
	if err != nil || len(answers) != 1 {
		t.Fatalf("expected one answer, got %v, %v", answers, err)
	}
	stale := answers[0]

	if _, err := engine.UpdateAnswerText(ctx, stale.ID, "yes"); err != nil {
		t.Fatalf("update text: %v", err)
	}
	store.answers[stale.ID] = stale
	notes := "checked"
	got, err := engine.OverrideAnswer(ctx, stale.ID, app.AnswerOverride{Notes: &notes})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if got.Text != "yes" || got.Points != 1 || got.Notes != "checked" {
		t.Fatalf("override wrote over the newer answer: %+v", got)
	}

	bonus := 2.0
	if _, err := engine.OverrideAnswer(ctx, stale.ID, app.AnswerOverride{Bonus: &bonus}); err != nil {
		t.Fatalf("bonus: %v", err)
	}
	if got, err = engine.UpdateAnswerText(ctx, stale.ID, "YES"); err != nil {
		t.Fatalf("update text again: %v", err)
	}
	if got.Bonus != 2 || got.Notes != "checked" {
		t.Fatalf("text update dropped newer columns: %+v", got)
	}
}
