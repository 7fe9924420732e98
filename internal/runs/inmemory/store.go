package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/finease/internal/runs"
)

// Store is an in-memory implementation of runs.Store.
// It is safe for concurrent use. Data is lost on restart; use the BigQuery
// store for a durable ledger.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*runs.Run
}

// NewStore creates a new in-memory run store.
func NewStore() *Store {
	return &Store{
		runs: make(map[string]*runs.Run),
	}
}

// SaveRun saves or replaces a run.
func (s *Store) SaveRun(ctx context.Context, run *runs.Run) error {
	if run.RunID == "" {
		return fmt.Errorf("SaveRun: run ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.RunID] = copyRun(run)
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*runs.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("GetRun: %s: %w", runID, runs.ErrNotFound)
	}
	return copyRun(run), nil
}

// ListRuns returns matching runs, newest first.
func (s *Store) ListRuns(ctx context.Context, filter runs.Filter) ([]*runs.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*runs.Run{}
	for _, run := range s.runs {
		if filter.UserID != "" && run.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		result = append(result, copyRun(run))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].RunID > result[j].RunID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*runs.Run{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// CompleteRun records the final outcome of a run.
func (s *Store) CompleteRun(ctx context.Context, runID string, outcome runs.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return fmt.Errorf("CompleteRun: %s: %w", runID, runs.ErrNotFound)
	}
	run.Apply(outcome)
	return nil
}

func copyRun(run *runs.Run) *runs.Run {
	c := *run
	if run.Score != nil {
		score := *run.Score
		c.Score = &score
	}
	if run.CompletedAt != nil {
		at := *run.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

var _ runs.Store = (*Store)(nil)
