package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finease/internal/config"
	infraBQ "github.com/dvloznov/finease/internal/infra/bigquery"
	"github.com/dvloznov/finease/internal/kv/sqlite"
	"github.com/dvloznov/finease/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (or set FINEASE_CONFIG)")
	envFile := flag.String("env-file", ".env", "Optional .env file to load before reading the environment")
	flag.Parse()

	log := logger.New()

	if err := config.LoadEnvFiles(*envFile); err != nil {
		log.Fatal().Err(err).Msg("Failed to load env file")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := prepare(context.Background(), cfg, log); err != nil {
		log.Error().Err(err).Msg("Migration failed")
		os.Exit(1)
	}
	log.Info().Msg("Storage is up to date")
}

// prepare brings every configured durable backend to the current schema.
// Backends that keep nothing between runs are skipped.
func prepare(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if cfg.SessionBackend == config.BackendSQLite {
		store, err := sqlite.Open(cfg.SQLiteDBPath)
		if err != nil {
			return fmt.Errorf("prepare: session database: %w", err)
		}
		if err := store.Close(); err != nil {
			return fmt.Errorf("prepare: close session database: %w", err)
		}
		log.Info().Str("path", cfg.SQLiteDBPath).Msg("Session database migrated")
	}

	if cfg.RunsBackend == config.BackendBigQuery {
		if cfg.GCPProject == "" {
			return fmt.Errorf("prepare: GOOGLE_CLOUD_PROJECT is required for the BigQuery run ledger")
		}
		store, err := infraBQ.NewRunStore(ctx, cfg.GCPProject, cfg.BigQueryDataset)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer store.Close()

		if err := store.EnsureTable(ctx); err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		log.Info().
			Str("project", cfg.GCPProject).
			Str("dataset", cfg.BigQueryDataset).
			Msg("Run ledger table ready")
	}

	return nil
}
