package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/finease/internal/runs"
)

const runsTable = "analysis_runs"

// RunRow is one row of the analysis_runs table. The table schema is inferred
// from this struct.
type RunRow struct {
	RunID      string `bigquery:"run_id"`  // REQUIRED
	UserID     string `bigquery:"user_id"` // REQUIRED
	InputKind  string `bigquery:"input_kind"`
	MediaType  string `bigquery:"media_type"`
	InputBytes int64  `bigquery:"input_bytes"`
	Model      string `bigquery:"model"`

	Status    string             `bigquery:"status"`
	ErrorKind string             `bigquery:"error_kind"`
	Score     bigquery.NullInt64 `bigquery:"score"` // NULLABLE
	Level     string             `bigquery:"level"`
	Warnings  int64              `bigquery:"warnings"`

	StartedTS   time.Time              `bigquery:"started_ts"`   // REQUIRED
	CompletedTS bigquery.NullTimestamp `bigquery:"completed_ts"` // NULLABLE
}

// runColumns is the SELECT list matching RunRow.
const runColumns = `
	run_id,
	user_id,
	input_kind,
	media_type,
	input_bytes,
	model,
	status,
	error_kind,
	score,
	level,
	warnings,
	started_ts,
	completed_ts`

func toRunRow(r *runs.Run) *RunRow {
	row := &RunRow{
		RunID:      r.RunID,
		UserID:     r.UserID,
		InputKind:  r.InputKind,
		MediaType:  r.MediaType,
		InputBytes: int64(r.InputBytes),
		Model:      r.Model,
		Status:     string(r.Status),
		ErrorKind:  r.ErrorKind,
		Level:      r.Level,
		Warnings:   int64(r.Warnings),
		StartedTS:  r.StartedAt,
	}
	if r.Score != nil {
		row.Score = bigquery.NullInt64{Int64: int64(*r.Score), Valid: true}
	}
	if r.CompletedAt != nil {
		row.CompletedTS = bigquery.NullTimestamp{Timestamp: *r.CompletedAt, Valid: true}
	}
	return row
}

func (row *RunRow) toRun() *runs.Run {
	r := &runs.Run{
		RunID:      row.RunID,
		UserID:     row.UserID,
		InputKind:  row.InputKind,
		MediaType:  row.MediaType,
		InputBytes: int(row.InputBytes),
		Model:      row.Model,
		Status:     runs.Status(row.Status),
		ErrorKind:  row.ErrorKind,
		Level:      row.Level,
		Warnings:   int(row.Warnings),
		StartedAt:  row.StartedTS,
	}
	if row.Score.Valid {
		score := int(row.Score.Int64)
		r.Score = &score
	}
	if row.CompletedTS.Valid {
		at := row.CompletedTS.Timestamp
		r.CompletedAt = &at
	}
	return r
}
