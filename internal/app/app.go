// Package app assembles the FinEase components from configuration. Both the
// API server and the CLI start from here.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finease/internal/analysis"
	"github.com/dvloznov/finease/internal/config"
	"github.com/dvloznov/finease/internal/gcs"
	infraBQ "github.com/dvloznov/finease/internal/infra/bigquery"
	"github.com/dvloznov/finease/internal/input"
	"github.com/dvloznov/finease/internal/kv"
	"github.com/dvloznov/finease/internal/kv/sqlite"
	"github.com/dvloznov/finease/internal/runs"
	"github.com/dvloznov/finease/internal/runs/inmemory"
	"github.com/dvloznov/finease/internal/session"
	"github.com/dvloznov/finease/internal/workflow"
)

// Deps overrides components that would otherwise be built from config.
type Deps struct {
	Records  kv.Store
	Analyzer analysis.Analyzer
	Runs     runs.Store
	Fetcher  gcs.Fetcher
}

// App holds the wired components.
type App struct {
	Config     *config.Config
	Log        zerolog.Logger
	Records    kv.Store
	Session    *session.MockProvider
	Analyzer   analysis.Analyzer
	Runs       runs.Store
	Workflow   *workflow.Machine
	Normalizer *input.Normalizer

	// Fetcher is nil unless gs:// input is enabled.
	Fetcher gcs.Fetcher

	unsubscribe func()
	closers     []func() error
}

// New builds every component, restores the stored identity and subscribes
// the workflow to identity changes.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, deps Deps) (*App, error) {
	a := &App{
		Config:     cfg,
		Log:        log,
		Records:    deps.Records,
		Analyzer:   deps.Analyzer,
		Runs:       deps.Runs,
		Fetcher:    deps.Fetcher,
		Normalizer: input.NewNormalizer(int(cfg.MaxUploadBytes)),
	}

	var gcsClient *gcs.Client
	needGCS := (a.Records == nil && cfg.SessionBackend == config.BackendGCS) ||
		(a.Fetcher == nil && cfg.GCSInput)
	if needGCS {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
		gcsClient = client
		a.closers = append(a.closers, client.Close)
	}
	if a.Fetcher == nil && cfg.GCSInput {
		a.Fetcher = gcsClient
	}

	if a.Records == nil {
		records, err := a.openRecords(cfg, gcsClient)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		a.Records = records
	}

	if a.Analyzer == nil {
		analyzer, err := newAnalyzer(ctx, cfg, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		a.Analyzer = analyzer
	}

	if a.Runs == nil {
		store, err := a.openRuns(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		a.Runs = store
	}

	a.Session = session.NewMockProvider(ctx, a.Records, log)
	a.Workflow = workflow.New(a.Analyzer, a.Runs, log)
	a.unsubscribe = a.Session.Subscribe(a.Workflow.OnIdentityChange)

	log.Info().
		Str("session_backend", cfg.SessionBackend).
		Str("analyzer", cfg.Analyzer).
		Str("runs_backend", cfg.RunsBackend).
		Bool("gcs_input", a.Fetcher != nil).
		Msg("Application initialised")

	return a, nil
}

func (a *App) openRecords(cfg *config.Config, gcsClient *gcs.Client) (kv.Store, error) {
	switch cfg.SessionBackend {
	case config.BackendSQLite:
		store, err := sqlite.Open(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("open session database: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case config.BackendGCS:
		return gcs.NewObjectStore(gcsClient, cfg.SessionBucket, cfg.SessionPrefix), nil
	default:
		return kv.NewMemory(), nil
	}
}

func (a *App) openRuns(ctx context.Context, cfg *config.Config) (runs.Store, error) {
	if cfg.RunsBackend != config.BackendBigQuery {
		return inmemory.NewStore(), nil
	}

	store, err := infraBQ.NewRunStore(ctx, cfg.GCPProject, cfg.BigQueryDataset)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	if err := store.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("prepare run ledger: %w", err)
	}
	return store, nil
}

func newAnalyzer(ctx context.Context, cfg *config.Config, log zerolog.Logger) (analysis.Analyzer, error) {
	if cfg.Analyzer == config.AnalyzerMock {
		return analysis.Mock{}, nil
	}
	temperature := cfg.Temperature
	return analysis.NewGeminiAnalyzer(ctx, analysis.GeminiConfig{
		APIKey:      cfg.GeminiAPIKey,
		UseVertex:   cfg.UseVertex,
		Project:     cfg.GCPProject,
		Location:    cfg.GCPLocation,
		ModelName:   cfg.ModelName,
		Temperature: &temperature,
	}, log)
}

// Close waits for in-flight analyses, then releases clients and files.
func (a *App) Close() error {
	if a.Workflow != nil {
		a.Workflow.Wait()
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
