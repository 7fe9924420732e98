package workflow

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finease/internal/analysis"
	"github.com/dvloznov/finease/internal/input"
	"github.com/dvloznov/finease/internal/runs"
	"github.com/dvloznov/finease/internal/runs/inmemory"
	"github.com/dvloznov/finease/internal/session"
)

// MockAnalyzer is a test double for analysis.Analyzer.
type MockAnalyzer struct {
	AnalyzeFunc func(ctx context.Context, req input.Request) (*analysis.Result, error)
}

func (m *MockAnalyzer) Analyze(ctx context.Context, req input.Request) (*analysis.Result, error) {
	return m.AnalyzeFunc(ctx, req)
}

// blockingAnalyzer returns result once release is closed.
func blockingAnalyzer(result *analysis.Result, err error) (*MockAnalyzer, chan struct{}, chan struct{}) {
	started := make(chan struct{})
	release := make(chan struct{})
	return &MockAnalyzer{
		AnalyzeFunc: func(ctx context.Context, req input.Request) (*analysis.Result, error) {
			close(started)
			<-release
			return result, err
		},
	}, started, release
}

type recorder struct {
	mu     sync.Mutex
	phases []Phase
}

func (r *recorder) listen(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, s.Phase)
}

func (r *recorder) seen() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Phase(nil), r.phases...)
}

func sampleResult() *analysis.Result {
	return &analysis.Result{
		Score:           42,
		Level:           analysis.LevelMild,
		Recommendations: []string{"a", "b", "c"},
	}
}

func newMachine(a analysis.Analyzer) (*Machine, *inmemory.Store) {
	ledger := inmemory.NewStore()
	return New(a, ledger, zerolog.New(io.Discard)), ledger
}

func TestSubmit_Success(t *testing.T) {
	m, ledger := newMachine(&MockAnalyzer{
		AnalyzeFunc: func(context.Context, input.Request) (*analysis.Result, error) {
			return sampleResult(), nil
		},
	})
	rec := &recorder{}
	m.Subscribe(rec.listen)

	runID, err := m.Submit(context.Background(), input.Text{Content: "2023-10-01,Rent,1500,Housing"})
	require.NoError(t, err)
	m.Wait()

	state := m.State()
	assert.Equal(t, PhaseComplete, state.Phase)
	assert.Equal(t, runID, state.RunID)
	require.NotNil(t, state.Result)
	assert.Equal(t, 42, state.Result.Score)
	assert.Equal(t, []Phase{PhaseIdle, PhaseAnalyzing, PhaseComplete}, rec.seen())

	run, err := ledger.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusCompleted, run.Status)
	assert.Equal(t, "text", run.InputKind)
	require.NotNil(t, run.Score)
	assert.Equal(t, 42, *run.Score)
	assert.Equal(t, "Mild", run.Level)
}

func TestSubmit_RejectsWhileAnalyzing(t *testing.T) {
	a, started, release := blockingAnalyzer(sampleResult(), nil)
	m, _ := newMachine(a)
	rec := &recorder{}
	m.Subscribe(rec.listen)

	_, err := m.Submit(context.Background(), input.Text{Content: "x"})
	require.NoError(t, err)
	<-started

	_, err = m.Submit(context.Background(), input.Text{Content: "y"})
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, m.Reset(), ErrInvalidTransition)
	assert.Equal(t, PhaseAnalyzing, m.State().Phase)

	close(release)
	m.Wait()

	assert.Equal(t, []Phase{PhaseIdle, PhaseAnalyzing, PhaseComplete}, rec.seen(), "one transition out of analyzing")

	_, err = m.Submit(context.Background(), input.Text{Content: "z"})
	assert.ErrorIs(t, err, ErrBusy, "complete must be reset before the next submission")
}

func TestSubmit_FailureMovesToError(t *testing.T) {
	m, ledger := newMachine(&MockAnalyzer{
		AnalyzeFunc: func(context.Context, input.Request) (*analysis.Result, error) {
			return nil, fmt.Errorf("Analyze: %w: missing required field %q", analysis.ErrMalformedResponse, "score")
		},
	})

	runID, err := m.Submit(context.Background(), input.File{Payload: []byte("%PDF"), MediaType: "application/pdf"})
	require.NoError(t, err)
	m.Wait()

	state := m.State()
	assert.Equal(t, PhaseError, state.Phase)
	assert.Equal(t, analysis.UserMessage, state.Message)
	assert.Nil(t, state.Result)

	run, err := ledger.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusFailed, run.Status)
	assert.Equal(t, "malformed_response", run.ErrorKind)
	assert.Equal(t, "application/pdf", run.MediaType)
	assert.Nil(t, run.Score)
}

func TestSubmit_NilRequest(t *testing.T) {
	m, _ := newMachine(&MockAnalyzer{})
	_, err := m.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, input.ErrEmptyInput)
	assert.Equal(t, PhaseIdle, m.State().Phase)
}

func TestSubmit_DetachedFromCallerContext(t *testing.T) {
	var callErr error
	m, _ := newMachine(&MockAnalyzer{
		AnalyzeFunc: func(ctx context.Context, req input.Request) (*analysis.Result, error) {
			callErr = ctx.Err()
			return sampleResult(), nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Submit(ctx, input.Text{Content: "x"})
	require.NoError(t, err)
	m.Wait()

	assert.NoError(t, callErr)
	assert.Equal(t, PhaseComplete, m.State().Phase)
}

func TestReset(t *testing.T) {
	m, _ := newMachine(&MockAnalyzer{
		AnalyzeFunc: func(context.Context, input.Request) (*analysis.Result, error) {
			return nil, analysis.ErrEmptyResponse
		},
	})
	rec := &recorder{}
	m.Subscribe(rec.listen)

	require.NoError(t, m.Reset(), "reset from idle is a no-op")

	_, err := m.Submit(context.Background(), input.Text{Content: "x"})
	require.NoError(t, err)
	m.Wait()
	require.Equal(t, PhaseError, m.State().Phase)

	require.NoError(t, m.Reset())
	assert.Equal(t, State{Phase: PhaseIdle}, m.State())
	assert.Equal(t, []Phase{PhaseIdle, PhaseAnalyzing, PhaseError, PhaseIdle}, rec.seen())
}

func TestForceIdle_DiscardsLateResult(t *testing.T) {
	a, started, release := blockingAnalyzer(sampleResult(), nil)
	m, ledger := newMachine(a)

	runID, err := m.Submit(context.Background(), input.Text{Content: "x"})
	require.NoError(t, err)
	<-started

	m.ForceIdle()
	assert.Equal(t, PhaseIdle, m.State().Phase)

	close(release)
	m.Wait()

	assert.Equal(t, PhaseIdle, m.State().Phase, "late result must not surface")

	run, err := ledger.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusDiscarded, run.Status)
}

func TestOnIdentityChange(t *testing.T) {
	a, started, release := blockingAnalyzer(sampleResult(), nil)
	m, ledger := newMachine(a)

	m.OnIdentityChange(&session.Identity{ID: "mock-uid-1"})
	runID, err := m.Submit(context.Background(), input.Text{Content: "x"})
	require.NoError(t, err)
	<-started

	m.OnIdentityChange(nil)
	assert.Equal(t, PhaseIdle, m.State().Phase)

	close(release)
	m.Wait()

	run, err := ledger.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, "mock-uid-1", run.UserID)
	assert.Equal(t, runs.StatusDiscarded, run.Status)
}

func TestOnIdentityChange_SwitchingIdentityClearsResult(t *testing.T) {
	m, _ := newMachine(&MockAnalyzer{
		AnalyzeFunc: func(context.Context, input.Request) (*analysis.Result, error) {
			return sampleResult(), nil
		},
	})

	m.OnIdentityChange(&session.Identity{ID: "mock-uid-alice"})
	_, err := m.Submit(context.Background(), input.Text{Content: "x"})
	require.NoError(t, err)
	m.Wait()
	require.Equal(t, PhaseComplete, m.State().Phase)

	m.OnIdentityChange(&session.Identity{ID: "mock-uid-bob"})

	state := m.State()
	assert.Equal(t, PhaseIdle, state.Phase)
	assert.Nil(t, state.Result)
}

func TestOnIdentityChange_SwitchingIdentityDiscardsInFlightResult(t *testing.T) {
	a, started, release := blockingAnalyzer(sampleResult(), nil)
	m, ledger := newMachine(a)

	m.OnIdentityChange(&session.Identity{ID: "mock-uid-alice"})
	runID, err := m.Submit(context.Background(), input.Text{Content: "x"})
	require.NoError(t, err)
	<-started

	m.OnIdentityChange(&session.Identity{ID: "mock-uid-bob"})
	close(release)
	m.Wait()

	assert.Equal(t, PhaseIdle, m.State().Phase)
	run, err := ledger.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusDiscarded, run.Status)
}

func TestOnIdentityChange_SameIdentityKeepsResult(t *testing.T) {
	m, _ := newMachine(&MockAnalyzer{
		AnalyzeFunc: func(context.Context, input.Request) (*analysis.Result, error) {
			return sampleResult(), nil
		},
	})

	m.OnIdentityChange(&session.Identity{ID: "mock-uid-alice"})
	_, err := m.Submit(context.Background(), input.Text{Content: "x"})
	require.NoError(t, err)
	m.Wait()

	name := "Alice"
	m.OnIdentityChange(&session.Identity{ID: "mock-uid-alice", DisplayName: &name})

	assert.Equal(t, PhaseComplete, m.State().Phase, "profile updates keep the session")
}

func TestSubmit_RunReadableOnReturn(t *testing.T) {
	a, started, release := blockingAnalyzer(sampleResult(), nil)
	m, ledger := newMachine(a)
	defer close(release)

	runID, err := m.Submit(context.Background(), input.Text{Content: "x"})
	require.NoError(t, err)

	run, err := ledger.GetRun(context.Background(), runID)
	require.NoError(t, err, "run is recorded before Submit returns")
	assert.Equal(t, runs.StatusRunning, run.Status)
	<-started
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	m, _ := newMachine(&MockAnalyzer{
		AnalyzeFunc: func(context.Context, input.Request) (*analysis.Result, error) {
			return sampleResult(), nil
		},
	})
	rec := &recorder{}
	unsubscribe := m.Subscribe(rec.listen)
	unsubscribe()

	_, err := m.Submit(context.Background(), input.Text{Content: "x"})
	require.NoError(t, err)
	m.Wait()

	assert.Equal(t, []Phase{PhaseIdle}, rec.seen())
}
