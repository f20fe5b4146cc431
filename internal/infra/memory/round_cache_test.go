package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quizmaster/internal/domain"
)

func TestRoundCacheCaches(t *testing.T) {
	loader := &countingLoader{rounds: map[string][]domain.Round{"g1": sampleRounds()}}
	cache := NewRoundCache(loader, time.Minute)

	if _, err := cache.Rounds(context.Background(), "g1"); err != nil {
		t.Fatalf("get rounds: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected loader once, got %d", loader.count())
	}

	if _, err := cache.Rounds(context.Background(), "g1"); err != nil {
		t.Fatalf("get rounds 2: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.count())
	}
}

func TestRoundCacheExpiresAndInvalidates(t *testing.T) {
	loader := &countingLoader{rounds: map[string][]domain.Round{"g1": sampleRounds()}}
	cache := NewRoundCache(loader, time.Minute)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.clock = func() time.Time { return now }

	ctx := context.Background()
	if _, err := cache.Rounds(ctx, "g1"); err != nil {
		t.Fatalf("get rounds: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := cache.Rounds(ctx, "g1"); err != nil {
		t.Fatalf("get rounds after ttl: %v", err)
	}
	if loader.count() != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", loader.count())
	}

	cache.Invalidate(ctx, "g1")
	if _, err := cache.Rounds(ctx, "g1"); err != nil {
		t.Fatalf("get rounds after invalidate: %v", err)
	}
	if loader.count() != 3 {
		t.Fatalf("expected reload after invalidate, loader calls %d", loader.count())
	}
}

func TestRoundCacheReturnsCopies(t *testing.T) {
	loader := &countingLoader{rounds: map[string][]domain.Round{"g1": sampleRounds()}}
	cache := NewRoundCache(loader, time.Minute)
	ctx := context.Background()

	first, err := cache.Rounds(ctx, "g1")
	if err != nil {
		t.Fatalf("get rounds: %v", err)
	}
	first[0].Name = "mutated"
	first[0].Questions[0].ID = "mutated"

	second, err := cache.Rounds(ctx, "g1")
	if err != nil {
		t.Fatalf("get rounds 2: %v", err)
	}
	if second[0].Name != "Warmup" || second[0].Questions[0].ID != "q1" {
		t.Fatalf("cached rounds were modified through a returned slice: %+v", second[0])
	}
}

func TestRoundCacheDoesNotCacheErrors(t *testing.T) {
	loader := &countingLoader{err: errors.New("db down")}
	cache := NewRoundCache(loader, time.Minute)

	if _, err := cache.Rounds(context.Background(), "g1"); err == nil {
		t.Fatalf("expected loader error")
	}
	loader.setErr(nil)
	loader.setRounds("g1", sampleRounds())
	rs, err := cache.Rounds(context.Background(), "g1")
	if err != nil {
		t.Fatalf("get rounds after recovery: %v", err)
	}
	if len(rs) != 1 {
		t.Fatalf("expected 1 round, got %d", len(rs))
	}
}

func TestRoundCacheDropsLoadOverlappingInvalidate(t *testing.T) {
	loader := &gatedLoader{
		countingLoader: countingLoader{rounds: map[string][]domain.Round{"g1": sampleRounds()}},
		entered:        make(chan struct{}, 1),
		release:        make(chan struct{}),
	}
	cache := NewRoundCache(loader, time.Minute)
	ctx := context.Background()

	done := make(chan []domain.Round)
	go func() {
		rs, _ := cache.Rounds(ctx, "g1")
		done <- rs
	}()
	<-loader.entered

	closed := sampleRounds()
	closed[0].Open = false
	loader.setRounds("g1", closed)
	cache.Invalidate(ctx, "g1")
	close(loader.release)

	if rs := <-done; !rs[0].Open {
		t.Fatalf("expected the in-flight load to return its own snapshot")
	}
	rs, err := cache.Rounds(ctx, "g1")
	if err != nil {
		t.Fatalf("get rounds after invalidate: %v", err)
	}
	if rs[0].Open {
		t.Fatalf("stale open round survived invalidation")
	}
}

// gatedLoader snapshots the rounds on entry and then waits for release.
type gatedLoader struct {
	countingLoader
	entered chan struct{}
	release chan struct{}
}

func (l *gatedLoader) Rounds(ctx context.Context, gameID string) ([]domain.Round, error) {
	rs, err := l.countingLoader.Rounds(ctx, gameID)
	select {
	case l.entered <- struct{}{}:
	default:
	}
	<-l.release
	return rs, err
}

type countingLoader struct {
	mu     sync.Mutex
	rounds map[string][]domain.Round
	err    error
	calls  int
}

func (l *countingLoader) Rounds(_ context.Context, gameID string) ([]domain.Round, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return cloneRounds(l.rounds[gameID]), nil
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func (l *countingLoader) setErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *countingLoader) setRounds(gameID string, rs []domain.Round) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rounds == nil {
		l.rounds = make(map[string][]domain.Round)
	}
	l.rounds[gameID] = rs
}

func sampleRounds() []domain.Round {
	return []domain.Round{{
		ID:     "r1",
		GameID: "g1",
		Name:   "Warmup",
		Order:  1,
		Open:   true,
		Questions: []domain.Question{
			{ID: "q1", Prompt: "Capital of France?", Kind: domain.KindText, Points: 1, Text: &domain.TextConfig{Validation: "paris"}},
		},
	}}
}
