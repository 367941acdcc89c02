package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"ctf-flag-service/internal/config"
	"ctf-flag-service/internal/domain"
	redisstore "ctf-flag-service/internal/infra/redis"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"gopkg.in/yaml.v3"
)

type seedFixture struct {
	Questions []struct {
		ID   string `yaml:"id"`
		Flag string `yaml:"flag"`
	} `yaml:"questions"`
	Teams []string `yaml:"teams"`
}

// NewSeedCmd loads questions and teams from a YAML fixture into the stores.
func NewSeedCmd(configPath *string) *cobra.Command {
	var fixturePath string
	var reset bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed questions and teams from a fixture file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath, fixturePath, reset)
		},
	}
	cmd.Flags().StringVar(&fixturePath, "file", "config/seed.yaml", "path to seed fixture")
	cmd.Flags().BoolVar(&reset, "reset", false, "clear existing competition state first")
	return cmd
}

func runSeed(ctx context.Context, configPath, fixturePath string, reset bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr not configured; seeding needs the document store")
	}

	data, err := os.ReadFile(fixturePath)
	if err != nil {
		return err
	}
	var fixture seedFixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return fmt.Errorf("parse fixture: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()
	store := redisstore.NewStore(client, nil, 0)

	if reset {
		if err := store.Reset(ctx); err != nil {
			return fmt.Errorf("reset redis state: %w", err)
		}
		log.Printf("cleared redis competition state")
	}

	var db *bun.DB
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db = bun.NewDB(sqldb, pgdialect.New())
		defer db.Close()

		if reset {
			if _, err := db.ExecContext(ctx, `DELETE FROM challenges`); err != nil {
				return fmt.Errorf("clear challenges: %w", err)
			}
		}
	}

	for _, entry := range fixture.Questions {
		q := domain.Question{
			ID:   domain.CanonicalQuestionID(entry.ID),
			Flag: entry.Flag,
		}
		if q.ID == "" {
			return fmt.Errorf("fixture question with empty id")
		}
		if db != nil {
			payload, err := json.Marshal(q)
			if err != nil {
				return err
			}
			if _, err := db.ExecContext(ctx,
				`INSERT INTO challenges (qid, data) VALUES (?, ?::jsonb) ON CONFLICT (qid) DO UPDATE SET data=EXCLUDED.data`,
				q.ID, string(payload)); err != nil {
				return fmt.Errorf("upsert challenge %s: %w", q.ID, err)
			}
		}
		if err := store.SeedQuestion(ctx, q); err != nil {
			return fmt.Errorf("seed question %s: %w", q.ID, err)
		}
	}

	for _, raw := range fixture.Teams {
		id := strings.TrimSpace(raw)
		if id == "" {
			return fmt.Errorf("fixture team with empty id")
		}
		if err := store.SeedTeam(ctx, domain.Team{ID: id}); err != nil {
			return fmt.Errorf("seed team %s: %w", id, err)
		}
	}

	log.Printf("seeded %d questions and %d teams", len(fixture.Questions), len(fixture.Teams))
	return nil
}
