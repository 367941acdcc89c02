package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ctf-flag-service/internal/app"
	"ctf-flag-service/internal/config"
	"ctf-flag-service/internal/domain"
	"ctf-flag-service/internal/infra/memory"
	pgloader "ctf-flag-service/internal/infra/postgres"
	redisstore "ctf-flag-service/internal/infra/redis"
	transport "ctf-flag-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the flag verification server",
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

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader redisstore.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestions())
	if pool != nil {
		loader = pgloader.NewQuestionLoader(pool)
	}

	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	var store app.Store
	if redisClient != nil {
		store = redisstore.NewStore(redisClient, loader, questionTTL)
	} else {
		memStore := memory.NewStore()
		for _, q := range sampleQuestions() {
			memStore.SeedQuestion(q)
		}
		for _, t := range sampleTeams() {
			memStore.SeedTeam(t)
		}
		store = memStore
	}

	board := app.NewBroadcaster()
	retryBackoff := config.TTLDuration(cfg.Submit.RetryBackoff, 25*time.Millisecond)
	service := app.NewFlagService(store, board, cfg.Submit.MaxAttempts, retryBackoff)

	api := transport.NewAPI(service)
	feed := transport.NewScoreboardFeed(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	api.Register(mux)
	mux.HandleFunc("/ws/scoreboard", feed.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting flag service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestions provides minimal demo content; production deployments seed
// real questions through the seed subcommand.
func sampleQuestions() map[string]domain.Question {
	return map[string]domain.Question{
		"Q1": {ID: "Q1", Flag: "FLAG{sample_one}"},
		"Q2": {ID: "Q2", Flag: "FLAG{sample_two}"},
	}
}

func sampleTeams() []domain.Team {
	return []domain.Team{
		{ID: "TEAM1"},
		{ID: "TEAM2"},
	}
}
