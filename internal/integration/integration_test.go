package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"ctf-flag-service/internal/app"
	"ctf-flag-service/internal/domain"
	pgloader "ctf-flag-service/internal/infra/postgres"
	pgmigrations "ctf-flag-service/internal/infra/postgres/migrations"
	infraredis "ctf-flag-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestSubmitFlagEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedChallenge(t, ctx, pgURL, domain.Question{ID: "Q1", Flag: "FLAG{integration}"})

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgloader.NewQuestionLoader(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	store := infraredis.NewStore(redisClient, loader, 5*time.Minute)
	if err := store.SeedTeam(ctx, domain.Team{ID: "TEAM1"}); err != nil {
		t.Fatalf("seed team: %v", err)
	}
	if err := store.SeedTeam(ctx, domain.Team{ID: "TEAM2"}); err != nil {
		t.Fatalf("seed team: %v", err)
	}

	service := app.NewFlagService(store, app.NewBroadcaster(), 4, 25*time.Millisecond)

	// Question content lives only in Postgres; the store loads it on first touch.
	verdict, err := service.Submit(ctx, "TEAM1", "q1", "FLAG{integration}")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !verdict.Success || verdict.Outcome != domain.OutcomeCorrect {
		t.Fatalf("expected success, got %+v", verdict)
	}

	verdict, err = service.Submit(ctx, "TEAM1", "Q1", "FLAG{integration}")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if verdict.Outcome != domain.OutcomeAlreadySolved {
		t.Fatalf("expected already solved, got %+v", verdict)
	}

	verdict, err = service.Submit(ctx, "TEAM2", "Q1", "flag{integration}")
	if err != nil {
		t.Fatalf("wrong-case submit: %v", err)
	}
	if verdict.Outcome != domain.OutcomeIncorrectFlag {
		t.Fatalf("expected incorrect flag, got %+v", verdict)
	}

	team, err := service.TeamProgress(ctx, "TEAM1")
	if err != nil {
		t.Fatalf("team progress: %v", err)
	}
	if team.TotalCount != 1 || team.QuestionsSolved[0] != "Q1" {
		t.Fatalf("unexpected team state: %+v", team)
	}

	history, err := service.History(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(history))
	}
	if history[0].Status != domain.SubmissionIncorrect || history[1].Status != domain.SubmissionCorrect {
		t.Fatalf("unexpected ledger order: %+v", history)
	}

	sb, err := service.Scoreboard(ctx)
	if err != nil {
		t.Fatalf("scoreboard: %v", err)
	}
	if sb.Entries[0].TeamID != "TEAM1" || sb.Entries[0].Solved != 1 {
		t.Fatalf("expected TEAM1 leading, got %+v", sb.Entries)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "ctf", "POSTGRES_PASSWORD": "ctfpass", "POSTGRES_DB": "ctfdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
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
	dsn := fmt.Sprintf("postgres://ctf:ctfpass@%s:%s/ctfdb?sslmode=disable", host, port.Port())
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

func seedChallenge(t *testing.T, ctx context.Context, dsn string, q domain.Question) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("marshal question: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO challenges (qid, data) VALUES (?, ?::jsonb) ON CONFLICT (qid) DO UPDATE SET data=EXCLUDED.data`, q.ID, string(data)); err != nil {
		t.Fatalf("insert challenge: %v", err)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
