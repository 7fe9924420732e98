package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finease/internal/analysis"
	"github.com/dvloznov/finease/internal/app"
	"github.com/dvloznov/finease/internal/config"
	"github.com/dvloznov/finease/internal/kv"
	"github.com/dvloznov/finease/internal/runs/inmemory"
)

// testBuilder shares one record store and run ledger across invocations, the
// way the SQLite and BigQuery backends do between processes.
func testBuilder(t *testing.T) Builder {
	t.Helper()
	records := kv.NewMemory()
	ledger := inmemory.NewStore()

	return func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app.App, error) {
		assert.Equal(t, config.BackendSQLite, cfg.SessionBackend, "memory sessions are promoted to sqlite")
		return app.New(ctx, cfg, log, app.Deps{
			Records:  records,
			Analyzer: analysis.Mock{},
			Runs:     ledger,
		})
	}
}

func runCLI(t *testing.T, build Builder, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(build)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env"), "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSessionCommands(t *testing.T) {
	build := testBuilder(t)

	out, err := runCLI(t, build, "whoami")
	require.NoError(t, err)
	assert.Equal(t, "Not signed in\n", out)

	out, err = runCLI(t, build, "signup", "--email", "ana@example.com", "--password", "secret1", "--display-name", "Ana")
	require.NoError(t, err)
	assert.Equal(t, "Signed in as Ana\n", out)

	out, err = runCLI(t, build, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Ana\n")
	assert.Contains(t, out, "email:  ana@example.com")

	out, err = runCLI(t, build, "profile", "--avatar", "avatars/ana.png")
	require.NoError(t, err)
	assert.Contains(t, out, "avatar: avatars/ana.png")

	out, err = runCLI(t, build, "signout")
	require.NoError(t, err)
	assert.Equal(t, "Signed out\n", out)

	_, err = runCLI(t, build, "profile", "--display-name", "Nobody")
	assert.ErrorIs(t, err, errNotSignedIn)
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	_, err := runCLI(t, testBuilder(t), "signin", "--email", "not-an-email", "--password", "secret1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid credentials format")
}

func TestSignIn_RequiresFlags(t *testing.T) {
	_, err := runCLI(t, testBuilder(t), "signin", "--email", "ana@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password")
}

func TestAnalyze_RequiresSignIn(t *testing.T) {
	_, err := runCLI(t, testBuilder(t), "analyze", "--text", "2023-10-01,Rent,1500,Housing")
	assert.ErrorIs(t, err, errNotSignedIn)
}

func TestAnalyze_TextPrintsResultAndChart(t *testing.T) {
	build := testBuilder(t)
	_, err := runCLI(t, build, "signin", "--email", "ana@example.com", "--password", "secret1")
	require.NoError(t, err)

	out, err := runCLI(t, build, "analyze", "--text",
		"2023-10-01,Rent,1500,Housing\n2023-10-01,Coffee,15,Dining\n2023-10-02,Cinema,30,Leisure")
	require.NoError(t, err)

	assert.Contains(t, out, "Score: 3 (Stable)")
	assert.Contains(t, out, "Recommendations:")
	assert.Contains(t, out, "Daily spending:")
	assert.Contains(t, out, "2023-10-01")
	assert.Contains(t, out, "1515.00")
	assert.Contains(t, out, "2023-10-02")

	out, err = runCLI(t, build, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "text")
}

func TestAnalyze_File(t *testing.T) {
	build := testBuilder(t)
	_, err := runCLI(t, build, "signin", "--email", "ana@example.com", "--password", "secret1")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "statement.csv")
	require.NoError(t, os.WriteFile(path, []byte("Date,Description,Amount,Category\n2023-10-01,Rent,1500,Housing\n"), 0o644))

	out, err := runCLI(t, build, "analyze", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Score: 0 (Stable)")
}

func TestAnalyze_InputErrors(t *testing.T) {
	build := testBuilder(t)
	_, err := runCLI(t, build, "signin", "--email", "ana@example.com", "--password", "secret1")
	require.NoError(t, err)

	_, err = runCLI(t, build, "analyze")
	assert.Error(t, err, "one input flag is required")

	_, err = runCLI(t, build, "analyze", "--text", "a", "--gcs-uri", "gs://b/o")
	assert.Error(t, err, "input flags are exclusive")

	_, err = runCLI(t, build, "analyze", "--text", "   ")
	assert.Error(t, err)

	_, err = runCLI(t, build, "analyze", "--gcs-uri", "gs://bucket/statement.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FINEASE_GCS_INPUT")

	path := filepath.Join(t.TempDir(), "statement.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04"), 0o644))
	_, err = runCLI(t, build, "analyze", "--file", path)
	assert.Error(t, err)
}

func TestRuns_Empty(t *testing.T) {
	build := testBuilder(t)
	_, err := runCLI(t, build, "signin", "--email", "ana@example.com", "--password", "secret1")
	require.NoError(t, err)

	out, err := runCLI(t, build, "runs", "--status", "failed")
	require.NoError(t, err)
	assert.Equal(t, "No runs recorded\n", out)
}
