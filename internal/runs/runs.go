// Package runs records every analysis attempt so failures can be inspected
// after the user has only seen the generic error message.
package runs

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no run has the requested ID.
var ErrNotFound = errors.New("run not found")

// Status is the lifecycle state of a run.
type Status string

const (
	// StatusRunning means the analysis call is in flight.
	StatusRunning Status = "running"
	// StatusCompleted means a result was delivered to the workflow.
	StatusCompleted Status = "completed"
	// StatusFailed means the analysis call failed.
	StatusFailed Status = "failed"
	// StatusDiscarded means the session ended before the call returned.
	StatusDiscarded Status = "discarded"
)

// Run is one submission to the analyzer.
type Run struct {
	// RunID is the unique identifier for this run.
	RunID string `json:"run_id"`

	// UserID is the identity that submitted the input.
	UserID string `json:"user_id"`

	// InputKind is "text" or "file".
	InputKind string `json:"input_kind"`

	// MediaType is set for file input.
	MediaType string `json:"media_type,omitempty"`

	// InputBytes is the size of the submitted content.
	InputBytes int `json:"input_bytes"`

	// Model names the analyzer backend.
	Model string `json:"model,omitempty"`

	Status Status `json:"status"`

	// ErrorKind is the internal failure class; users only ever see the
	// generic message.
	ErrorKind string `json:"error_kind,omitempty"`

	Score    *int   `json:"score,omitempty"`
	Level    string `json:"level,omitempty"`
	Warnings int    `json:"warnings"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Outcome is what CompleteRun records when a run leaves StatusRunning.
type Outcome struct {
	Status    Status
	ErrorKind string
	Score     *int
	Level     string
	Warnings  int
	At        time.Time
}

// Filter defines filtering criteria for listing runs.
type Filter struct {
	// UserID filters runs by submitting identity.
	UserID string

	// Status filters runs by status.
	Status Status

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// Store persists runs. ListRuns returns the newest runs first.
type Store interface {
	// SaveRun saves or replaces a run.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns retrieves runs with optional filtering.
	ListRuns(ctx context.Context, filter Filter) ([]*Run, error)

	// CompleteRun records the final outcome of a run.
	CompleteRun(ctx context.Context, runID string, outcome Outcome) error
}

// Apply copies an outcome onto the run.
func (r *Run) Apply(o Outcome) {
	r.Status = o.Status
	r.ErrorKind = o.ErrorKind
	r.Score = o.Score
	r.Level = o.Level
	r.Warnings = o.Warnings
	at := o.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	r.CompletedAt = &at
}
