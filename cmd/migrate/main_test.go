package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finease/internal/config"
)

func TestPrepare_SQLiteCreatesDatabase(t *testing.T) {
	cfg := config.Default()
	cfg.SessionBackend = config.BackendSQLite
	cfg.SQLiteDBPath = filepath.Join(t.TempDir(), "nested", "finease.db")

	require.NoError(t, prepare(context.Background(), cfg, zerolog.New(io.Discard)))

	_, err := os.Stat(cfg.SQLiteDBPath)
	assert.NoError(t, err)

	// Re-running against a migrated database is a no-op.
	assert.NoError(t, prepare(context.Background(), cfg, zerolog.New(io.Discard)))
}

func TestPrepare_MemoryBackendsSkip(t *testing.T) {
	assert.NoError(t, prepare(context.Background(), config.Default(), zerolog.New(io.Discard)))
}

func TestPrepare_BigQueryNeedsProject(t *testing.T) {
	cfg := config.Default()
	cfg.RunsBackend = config.BackendBigQuery
	cfg.GCPProject = ""

	err := prepare(context.Background(), cfg, zerolog.New(io.Discard))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOOGLE_CLOUD_PROJECT")
}
