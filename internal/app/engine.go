package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"quizmaster/internal/domain"
	"quizmaster/internal/metrics"
	"quizmaster/internal/rounds"
)

// CodeAlphabet leaves out characters that are easy to misread.
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	defaultCodeLength = 6
	maxCodeAttempts   = 20
)

// Engine implements the quiz use cases: game and round administration,
// submissions, grading and the derived standings.
type Engine struct {
	store   Store
	rounds  RoundCache
	tallies TallyReader
	bus     Broadcaster
	log     *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
	codeLen int
}

// Option configures an Engine.
type Option func(*Engine)

// WithRoundCache serves round lists on read paths from c.
func WithRoundCache(c RoundCache) Option {
	return func(e *Engine) { e.rounds = c }
}

// WithTallyReader lets leaderboards sum answers in the database.
func WithTallyReader(r TallyReader) Option {
	return func(e *Engine) { e.tallies = r }
}

// WithBroadcaster sets where events go.
func WithBroadcaster(b Broadcaster) Option {
	return func(e *Engine) { e.bus = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCodeLength sets the length of issued game codes.
func WithCodeLength(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.codeLen = n
		}
	}
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		rounds:  passthroughRounds{store: store},
		bus:     NewHub(0),
		log:     slog.Default(),
		tracer:  otel.Tracer("quizmaster/internal/app"),
		now:     time.Now,
		newID:   uuid.NewString,
		codeLen: defaultCodeLength,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// start opens a span and returns a function that ends it and records the
// operation latency.
func (e *Engine) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := e.tracer.Start(ctx, "Engine."+op, trace.WithAttributes(attrs...))
	began := time.Now()
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logFailure(ctx, op, err)
		}
		span.End()
		e.metrics.Observe(op, began)
	}
}

func (e *Engine) logFailure(ctx context.Context, op string, err error) {
	if isPolicyError(err) {
		e.log.InfoContext(ctx, "operation rejected", "op", op, "error", err)
		return
	}
	e.log.ErrorContext(ctx, "operation failed", "op", op, "error", err)
}

// isPolicyError reports errors the caller caused, as opposed to storage
// failures.
func isPolicyError(err error) bool {
	for _, target := range []error{
		domain.ErrGameNotFound, domain.ErrRoundNotFound, domain.ErrTeamNotFound,
		domain.ErrAnswerNotFound, domain.ErrQuestionNotFound, domain.ErrColumnNotFound,
		domain.ErrRoundClosed, domain.ErrAlreadySubmitted, domain.ErrTeamNotInGame,
		domain.ErrRoundIsContainer, domain.ErrNotPermitted, domain.ErrGameInactive,
		domain.ErrInvalidInput, domain.ErrTeamNameTaken, domain.ErrInvalidCredentials,
		domain.ErrInvalidPauseMode, domain.ErrNotBettingQuestion,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// emit hands events to the broadcaster after a commit.
func (e *Engine) emit(ctx context.Context, events ...domain.Event) {
	for _, ev := range events {
		e.bus.Broadcast(ctx, ev)
	}
}

// hierarchy loads the round tree of a game for read paths.
func (e *Engine) hierarchy(ctx context.Context, gameID string) (*rounds.Hierarchy, error) {
	rs, err := e.rounds.Rounds(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return rounds.NewHierarchy(rs), nil
}

// txHierarchy loads the round tree inside a transaction, bypassing caches.
func txHierarchy(ctx context.Context, tx Tx, gameID string) (*rounds.Hierarchy, error) {
	rs, err := tx.Rounds(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return rounds.NewHierarchy(rs), nil
}

func (e *Engine) newCode() (string, error) {
	alphabet := big.NewInt(int64(len(CodeAlphabet)))
	buf := make([]byte, e.codeLen)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		buf[i] = CodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidInput, fmt.Sprintf(format, args...))
}
