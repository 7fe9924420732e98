package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dvloznov/finease/internal/runs"
)

// RunStore is the BigQuery implementation of runs.Store. Rows are written
// with DML rather than the streaming inserter so that CompleteRun can update
// them immediately.
type RunStore struct {
	client    *bigquery.Client
	datasetID string
}

// NewRunStore creates a RunStore with its own BigQuery client.
func NewRunStore(ctx context.Context, projectID, datasetID string, opts ...option.ClientOption) (*RunStore, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewRunStore: creating client: %w", err)
	}
	return NewRunStoreWithClient(client, datasetID), nil
}

// NewRunStoreWithClient wraps an existing client.
func NewRunStoreWithClient(client *bigquery.Client, datasetID string) *RunStore {
	return &RunStore{client: client, datasetID: datasetID}
}

// Close closes the BigQuery client connection.
func (s *RunStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// EnsureTable creates the analysis_runs table, partitioned by started_ts,
// if it does not exist yet.
func (s *RunStore) EnsureTable(ctx context.Context) error {
	table := s.client.Dataset(s.datasetID).Table(runsTable)

	_, err := table.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("EnsureTable: reading table metadata: %w", err)
	}

	schema, err := bigquery.InferSchema(RunRow{})
	if err != nil {
		return fmt.Errorf("EnsureTable: inferring schema: %w", err)
	}

	meta := &bigquery.TableMetadata{
		Schema:           schema,
		TimePartitioning: &bigquery.TimePartitioning{Field: "started_ts"},
	}
	if err := table.Create(ctx, meta); err != nil {
		return fmt.Errorf("EnsureTable: creating table: %w", err)
	}
	return nil
}

// SaveRun inserts the run, or replaces the row with the same run_id.
func (s *RunStore) SaveRun(ctx context.Context, run *runs.Run) error {
	if run.RunID == "" {
		return fmt.Errorf("SaveRun: run ID is required")
	}
	row := toRunRow(run)

	q := s.client.Query(fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @run_id AS run_id) S
		ON T.run_id = S.run_id
		WHEN MATCHED THEN UPDATE SET
			user_id = @user_id,
			input_kind = @input_kind,
			media_type = @media_type,
			input_bytes = @input_bytes,
			model = @model,
			status = @status,
			error_kind = @error_kind,
			score = @score,
			level = @level,
			warnings = @warnings,
			started_ts = @started_ts,
			completed_ts = @completed_ts
		WHEN NOT MATCHED THEN INSERT (%s)
		VALUES (
			@run_id, @user_id, @input_kind, @media_type, @input_bytes, @model,
			@status, @error_kind, @score, @level, @warnings, @started_ts, @completed_ts
		)
	`, s.tableRef(), runColumns))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: row.RunID},
		{Name: "user_id", Value: row.UserID},
		{Name: "input_kind", Value: row.InputKind},
		{Name: "media_type", Value: row.MediaType},
		{Name: "input_bytes", Value: row.InputBytes},
		{Name: "model", Value: row.Model},
		{Name: "status", Value: row.Status},
		{Name: "error_kind", Value: row.ErrorKind},
		{Name: "score", Value: row.Score},
		{Name: "level", Value: row.Level},
		{Name: "warnings", Value: row.Warnings},
		{Name: "started_ts", Value: row.StartedTS},
		{Name: "completed_ts", Value: row.CompletedTS},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("SaveRun: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*runs.Run, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE run_id = @run_id
		LIMIT 1
	`, runColumns, s.tableRef()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetRun: reading query: %w", err)
	}

	var row RunRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, fmt.Errorf("GetRun: %s: %w", runID, runs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetRun: iterating: %w", err)
	}
	return row.toRun(), nil
}

// ListRuns returns matching runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, filter runs.Filter) ([]*runs.Run, error) {
	query, params := buildListRunsQuery(s.tableRef(), filter)
	q := s.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: reading query: %w", err)
	}

	result := []*runs.Run{}
	for {
		var row RunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRuns: iterating: %w", err)
		}
		result = append(result, row.toRun())
	}
	return result, nil
}

// CompleteRun records the final outcome of a run.
func (s *RunStore) CompleteRun(ctx context.Context, runID string, outcome runs.Outcome) error {
	done := &runs.Run{RunID: runID}
	done.Apply(outcome)
	row := toRunRow(done)

	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    error_kind = @error_kind,
		    score = @score,
		    level = @level,
		    warnings = @warnings,
		    completed_ts = @completed_ts
		WHERE run_id = @run_id
	`, s.tableRef()))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: row.Status},
		{Name: "error_kind", Value: row.ErrorKind},
		{Name: "score", Value: row.Score},
		{Name: "level", Value: row.Level},
		{Name: "warnings", Value: row.Warnings},
		{Name: "completed_ts", Value: row.CompletedTS},
		{Name: "run_id", Value: runID},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("CompleteRun: %w", err)
	}
	return nil
}

func (s *RunStore) tableRef() string {
	return fmt.Sprintf("`%s.%s.%s`", s.client.Project(), s.datasetID, runsTable)
}

// buildListRunsQuery renders the filtered SELECT for ListRuns.
func buildListRunsQuery(tableRef string, filter runs.Filter) (string, []bigquery.QueryParameter) {
	var where []string
	var params []bigquery.QueryParameter

	if filter.UserID != "" {
		where = append(where, "user_id = @user_id")
		params = append(params, bigquery.QueryParameter{Name: "user_id", Value: filter.UserID})
	}
	if filter.Status != "" {
		where = append(where, "status = @status")
		params = append(params, bigquery.QueryParameter{Name: "status", Value: string(filter.Status)})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s\nFROM %s", runColumns, tableRef)
	if len(where) > 0 {
		b.WriteString("\nWHERE " + strings.Join(where, " AND "))
	}
	b.WriteString("\nORDER BY started_ts DESC, run_id DESC")
	if filter.Limit > 0 {
		b.WriteString("\nLIMIT @limit")
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: int64(filter.Limit)})
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			// OFFSET needs a LIMIT in GoogleSQL.
			b.WriteString("\nLIMIT 9223372036854775807")
		}
		b.WriteString("\nOFFSET @offset")
		params = append(params, bigquery.QueryParameter{Name: "offset", Value: int64(filter.Offset)})
	}

	return b.String(), params
}

func runDML(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

var _ runs.Store = (*RunStore)(nil)
