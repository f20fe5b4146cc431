package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"quizmaster/internal/app"
	"quizmaster/internal/config"
	"quizmaster/internal/infra/memory"
	"quizmaster/internal/infra/postgres"
	infraredis "quizmaster/internal/infra/redis"
	"quizmaster/internal/metrics"
	transport "quizmaster/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := cfg.NewLogger()
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	opts := []app.Option{
		app.WithLogger(log),
		app.WithMetrics(m),
		app.WithCodeLength(cfg.Game.CodeLength),
	}

	var store app.Store
	var loader memory.RoundLoader
	if cfg.Postgres.URL != "" {
		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := runMigrations(ctx, db, log); err != nil {
			return err
		}
		pgStore := postgres.NewStore(db)
		store, loader = pgStore, pgStore

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		opts = append(opts, app.WithTallyReader(postgres.NewTallyReader(pool)))
	} else {
		log.Warn("postgres url not configured, keeping state in memory")
		memStore := memory.NewStore()
		store, loader = memStore, memStore
	}

	hub := app.NewHub(64)
	roundsTTL := config.TTLDuration(cfg.Cache.RoundsTTL, 10*time.Minute)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		// Every instance publishes to Redis and relays what it hears into
		// its own hub, so viewers see events from all instances.
		relay := infraredis.NewRelay(client, cfg.Redis.Channel, hub, log)
		go func() {
			if err := relay.Run(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("event relay stopped", "error", err)
			}
		}()
		opts = append(opts,
			app.WithBroadcaster(infraredis.NewPublisher(client, cfg.Redis.Channel, log, m)),
			app.WithRoundCache(infraredis.NewRoundCache(client, loader, roundsTTL, log)),
		)
	} else {
		opts = append(opts,
			app.WithBroadcaster(hub),
			app.WithRoundCache(memory.NewRoundCache(loader, roundsTTL)),
		)
	}

	engine := app.NewEngine(store, opts...)
	if cfg.Server.AdminToken == "" {
		log.Warn("server.admin_token is empty, admin connections are not authenticated")
	}
	wsHandler := transport.NewWSHandler(engine, hub, cfg.Server.AdminToken, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      otelhttp.NewHandler(mux, "quizmaster"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting quizmaster", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return server.Shutdown(shutdownCtx)
}
