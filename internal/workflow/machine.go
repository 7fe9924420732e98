// Package workflow owns the idle → analyzing → complete | error lifecycle of
// a submission. It is the single source of truth for what clients render.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finease/internal/analysis"
	"github.com/dvloznov/finease/internal/input"
	"github.com/dvloznov/finease/internal/runs"
	"github.com/dvloznov/finease/internal/session"
)

var (
	// ErrBusy is returned by Submit outside the idle phase.
	ErrBusy = errors.New("an analysis is already in progress")

	// ErrInvalidTransition is returned by Reset while analyzing.
	ErrInvalidTransition = errors.New("invalid workflow transition")
)

// Phase is the workflow state tag.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseAnalyzing Phase = "analyzing"
	PhaseComplete  Phase = "complete"
	PhaseError     Phase = "error"
)

// State is a snapshot of the workflow. Result is set only in PhaseComplete
// and Message only in PhaseError.
type State struct {
	Phase   Phase            `json:"phase"`
	RunID   string           `json:"run_id,omitempty"`
	Result  *analysis.Result `json:"result,omitempty"`
	Message string           `json:"message,omitempty"`
}

// Listener receives state changes. It runs while the transition is held and
// must not call Submit, Reset or ForceIdle.
type Listener func(State)

type modelNamer interface {
	ModelName() string
}

// Machine runs at most one analysis at a time.
type Machine struct {
	analyzer analysis.Analyzer
	ledger   runs.Store
	log      zerolog.Logger
	now      func() time.Time

	// opMu serialises transitions with their notifications.
	opMu sync.Mutex

	mu         sync.RWMutex
	state      State
	generation uint64
	userID     string
	listeners  map[uint64]Listener
	nextID     uint64

	inflight sync.WaitGroup
}

// New returns an idle machine.
func New(analyzer analysis.Analyzer, ledger runs.Store, log zerolog.Logger) *Machine {
	return &Machine{
		analyzer:  analyzer,
		ledger:    ledger,
		log:       log.With().Str("component", "workflow").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		state:     State{Phase: PhaseIdle},
		listeners: make(map[uint64]Listener),
	}
}

// State returns the current snapshot.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Submit starts an analysis and returns its run ID without waiting for it.
// The call is detached from ctx: cancelling ctx does not cancel the analysis.
func (m *Machine) Submit(ctx context.Context, req input.Request) (string, error) {
	if req == nil {
		return "", fmt.Errorf("Submit: %w", input.ErrEmptyInput)
	}

	m.opMu.Lock()

	m.mu.Lock()
	if m.state.Phase != PhaseIdle {
		phase := m.state.Phase
		m.mu.Unlock()
		m.opMu.Unlock()
		return "", fmt.Errorf("Submit: in phase %s: %w", phase, ErrBusy)
	}
	m.generation++
	generation := m.generation
	run := &runs.Run{
		RunID:      uuid.NewString(),
		UserID:     m.userID,
		InputKind:  req.Kind(),
		InputBytes: inputSize(req),
		Status:     runs.StatusRunning,
		StartedAt:  m.now(),
	}
	m.mu.Unlock()

	if f, ok := req.(input.File); ok {
		run.MediaType = f.MediaType
	}
	if n, ok := m.analyzer.(modelNamer); ok {
		run.Model = n.ModelName()
	}

	m.setAndNotify(State{Phase: PhaseAnalyzing, RunID: run.RunID})
	m.inflight.Add(1)
	m.opMu.Unlock()

	m.log.Info().
		Str("run_id", run.RunID).
		Str("input_kind", run.InputKind).
		Int("input_bytes", run.InputBytes).
		Msg("Analysis started")

	// The run is readable by the time its ID is returned. Other transitions
	// may proceed meanwhile; the generation check in finish covers them.
	detached := context.WithoutCancel(ctx)
	if err := m.ledger.SaveRun(detached, run); err != nil {
		m.log.Error().Err(err).Str("run_id", run.RunID).Msg("Failed to record run")
	}

	go m.analyze(detached, generation, run, req)

	return run.RunID, nil
}

func (m *Machine) analyze(ctx context.Context, generation uint64, run *runs.Run, req input.Request) {
	defer m.inflight.Done()

	result, err := m.analyzer.Analyze(ctx, req)
	outcome := m.finish(generation, run.RunID, result, err)

	if err := m.ledger.CompleteRun(ctx, run.RunID, outcome); err != nil {
		m.log.Error().Err(err).Str("run_id", run.RunID).Msg("Failed to complete run")
	}
}

// finish applies the analysis outcome unless the run was superseded.
func (m *Machine) finish(generation uint64, runID string, result *analysis.Result, err error) runs.Outcome {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	outcome := runs.Outcome{ErrorKind: analysis.Kind(err), At: m.now()}
	if result != nil {
		score := result.Score
		outcome.Score = &score
		outcome.Level = string(result.Level)
		outcome.Warnings = len(result.Warnings)
	}

	m.mu.RLock()
	current := m.generation == generation && m.state.Phase == PhaseAnalyzing
	m.mu.RUnlock()

	log := m.log.With().Str("run_id", runID).Logger()

	switch {
	case !current:
		outcome.Status = runs.StatusDiscarded
		log.Info().Err(err).Msg("Discarding late analysis result")

	case err != nil:
		outcome.Status = runs.StatusFailed
		log.Error().Err(err).Str("error_kind", outcome.ErrorKind).Msg("Analysis failed")
		m.setAndNotify(State{Phase: PhaseError, RunID: runID, Message: analysis.UserMessage})

	default:
		outcome.Status = runs.StatusCompleted
		log.Info().Int("score", result.Score).Str("level", string(result.Level)).Msg("Analysis complete")
		m.setAndNotify(State{Phase: PhaseComplete, RunID: runID, Result: result})
	}

	return outcome
}

// Reset returns a finished workflow to idle. It is a no-op when idle.
func (m *Machine) Reset() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	switch m.State().Phase {
	case PhaseIdle:
		return nil
	case PhaseAnalyzing:
		return fmt.Errorf("Reset: %w", ErrInvalidTransition)
	}

	m.setAndNotify(State{Phase: PhaseIdle})
	return nil
}

// ForceIdle moves to idle from any phase. A result still in flight will be
// discarded when it arrives.
func (m *Machine) ForceIdle() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	m.generation++
	phase := m.state.Phase
	m.mu.Unlock()

	if phase != PhaseIdle {
		m.log.Info().Str("from", string(phase)).Msg("Forcing workflow to idle")
		m.setAndNotify(State{Phase: PhaseIdle})
	}
}

// OnIdentityChange is a session.Listener. Signing out, or a different
// identity signing in, forces the workflow back to idle so no result outlives
// the session it belongs to. Profile updates keep the ID and change nothing.
func (m *Machine) OnIdentityChange(id *session.Identity) {
	next := ""
	if id != nil {
		next = id.ID
	}

	m.mu.Lock()
	previous := m.userID
	m.userID = next
	m.mu.Unlock()

	if id == nil || next != previous {
		m.ForceIdle()
	}
}

// Subscribe registers fn and immediately delivers the current state.
func (m *Machine) Subscribe(fn Listener) func() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	current := m.state
	m.mu.Unlock()

	fn(current)

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Wait blocks until every started analysis has finished and been recorded.
func (m *Machine) Wait() {
	m.inflight.Wait()
}

// setAndNotify must be called with opMu held.
func (m *Machine) setAndNotify(s State) {
	m.mu.Lock()
	m.state = s
	ids := make([]uint64, 0, len(m.listeners))
	for k := range m.listeners {
		ids = append(ids, k)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]Listener, 0, len(ids))
	for _, k := range ids {
		fns = append(fns, m.listeners[k])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func inputSize(req input.Request) int {
	switch r := req.(type) {
	case input.Text:
		return len(r.Content)
	case input.File:
		return len(r.Payload)
	default:
		return 0
	}
}
