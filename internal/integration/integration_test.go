package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quizmaster/internal/app"
	"quizmaster/internal/domain"
	"quizmaster/internal/infra/postgres"
	pgmigrations "quizmaster/internal/infra/postgres/migrations"
	infraredis "quizmaster/internal/infra/redis"
)

func TestSubmitAndRankEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := migrateDB(t, ctx, pgURL)
	defer db.Close()

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	store := postgres.NewStore(db)
	hub := app.NewHub(64)
	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	ready := make(chan struct{})
	relay := infraredis.NewRelay(redisClient, "it:events", hub, nil)
	go func() { _ = relay.Run(relayCtx, ready) }()
	<-ready

	engine := app.NewEngine(store,
		app.WithTallyReader(postgres.NewTallyReader(pool)),
		app.WithRoundCache(infraredis.NewRoundCache(redisClient, store, 5*time.Minute, nil)),
		app.WithBroadcaster(infraredis.NewPublisher(redisClient, "it:events", nil, nil)),
	)

	game, err := engine.CreateGame(ctx, "Integration night")
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	events, cancel := hub.Subscribe(game.ID)
	defer cancel()

	round, err := engine.CreateRound(ctx, game.ID, app.NewRound{
		Name: "Capitals",
		Questions: []domain.Question{
			{ID: "q1", Kind: domain.KindText, Points: 1, Text: &domain.TextConfig{Validation: "Paris"}},
			{ID: "q2", Kind: domain.KindChoice, Points: 2, Choice: &domain.ChoiceConfig{Options: []string{"Rome", "Madrid"}, Correct: "Rome"}},
		},
	})
	if err != nil {
		t.Fatalf("create round: %v", err)
	}

	alice, err := engine.RegisterTeam(ctx, game.Code, "Alice", "pw-alice")
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	bob, err := engine.RegisterTeam(ctx, game.Code, "Bob", "pw-bob")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}
	if _, err := engine.RegisterTeam(ctx, game.Code, "Bob", "other"); !errors.Is(err, domain.ErrTeamNameTaken) {
		t.Fatalf("expected duplicate name to be rejected, got %v", err)
	}

	if _, err := engine.Submit(ctx, alice.ID, round.ID, domain.Submission{"q1": "paris", "q2": "Madrid"}); err != nil {
		t.Fatalf("submit alice: %v", err)
	}
	if _, err := engine.Submit(ctx, bob.ID, round.ID, domain.Submission{"q1": "Paris", "q2": "Rome"}); err != nil {
		t.Fatalf("submit bob: %v", err)
	}
	if _, err := engine.Submit(ctx, bob.ID, round.ID, domain.Submission{"q1": "Paris"}); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected second submission to be rejected, got %v", err)
	}

	board, err := engine.Leaderboard(ctx, game.ID, domain.AdminPrincipal{AdminID: "it"})
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board.Rows) != 2 || board.Rows[0].TeamID != bob.ID || board.Rows[0].Total != 3 {
		t.Fatalf("expected bob leading with 3, got %+v", board.Rows)
	}
	if board.Rows[1].Total != 1 {
		t.Fatalf("expected alice on 1, got %+v", board.Rows[1])
	}

	waitForEvent(t, events, domain.EventSubmissionUpdate)
}

func TestResubmitGrantConsumedOnce(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	db := migrateDB(t, ctx, pgURL)
	defer db.Close()

	engine := app.NewEngine(postgres.NewStore(db))
	game, err := engine.CreateGame(ctx, "Race")
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	round, err := engine.CreateRound(ctx, game.ID, app.NewRound{
		Name:      "Only",
		Questions: []domain.Question{{ID: "q1", Kind: domain.KindText, Points: 1, Text: &domain.TextConfig{Validation: "yes"}}},
	})
	if err != nil {
		t.Fatalf("create round: %v", err)
	}
	team, err := engine.RegisterTeam(ctx, game.Code, "Racers", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := engine.Submit(ctx, team.ID, round.ID, domain.Submission{"q1": "no"}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := engine.GrantResubmission(ctx, round.ID, team.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Submit(ctx, team.ID, round.ID, domain.Submission{"q1": "yes"}); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if accepted != 1 {
		t.Fatalf("expected exactly one resubmission to win, got %d", accepted)
	}
}

func waitForEvent(t *testing.T, events <-chan domain.Event, want domain.EventType) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
