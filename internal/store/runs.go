package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/masx-gsgi/flashpipe/internal/types"
)

// maxErrorChars bounds the error_message and last_error columns.
const maxErrorChars = 2000

// RunCounters are the aggregate counts written back at run completion.
type RunCounters struct {
	Total           int
	Processed       int
	Failed          int
	DedupeSkipped   int
	ClustersCreated int
}

// CreateRun inserts a new processing_runs row in the RUNNING state.
func (s *Store) CreateRun(ctx context.Context, run *types.Run) error {
	_, err := s.namedExec(ctx, `
		INSERT INTO processing_runs
			(run_id, status, pipeline_tier, target_date, total_entries, started_at)
		VALUES
			(:run_id, :status, :pipeline_tier, :target_date, :total_entries, :started_at)`,
		run)
	if err != nil {
		return &types.StoreError{Op: "create_run", Err: err}
	}
	s.logger.Info("run created",
		"run_id", run.RunID, "tier", string(run.Tier), "target_date", run.TargetDate)
	return nil
}

// CompleteRun marks a run COMPLETED with its final counters and metrics
// document.
func (s *Store) CompleteRun(ctx context.Context, runID string, c RunCounters, metrics map[string]any) error {
	if metrics == nil {
		metrics = map[string]any{}
	}
	doc, err := json.Marshal(metrics)
	if err != nil {
		return &types.StoreError{Op: "complete_run", Err: err}
	}
	_, err = s.namedExec(ctx, `
		UPDATE processing_runs
		SET status            = :status,
		    total_entries     = :total,
		    processed_entries = :processed,
		    failed_entries    = :failed,
		    dedupe_skipped    = :skipped,
		    clusters_created  = :clusters,
		    metrics           = CAST(:metrics AS jsonb),
		    completed_at      = :completed_at
		WHERE run_id = :run_id`,
		map[string]any{
			"status":       string(types.RunCompleted),
			"total":        c.Total,
			"processed":    c.Processed,
			"failed":       c.Failed,
			"skipped":      c.DedupeSkipped,
			"clusters":     c.ClustersCreated,
			"metrics":      string(doc),
			"completed_at": time.Now().UTC(),
			"run_id":       runID,
		})
	if err != nil {
		return &types.StoreError{Op: "complete_run", Err: err}
	}
	return nil
}

// FailRun marks a run FAILED with a truncated error message.
func (s *Store) FailRun(ctx context.Context, runID, message string) error {
	_, err := s.namedExec(ctx, `
		UPDATE processing_runs
		SET status = :status, error_message = :error_message, completed_at = :completed_at
		WHERE run_id = :run_id`,
		map[string]any{
			"status":        string(types.RunFailed),
			"error_message": truncateChars(message, maxErrorChars),
			"completed_at":  time.Now().UTC(),
			"run_id":        runID,
		})
	if err != nil {
		return &types.StoreError{Op: "fail_run", Err: err}
	}
	return nil
}

// SweepStaleRuns fails RUNNING rows whose started_at is older than
// staleAfter. Returns the number of rows swept.
func (s *Store) SweepStaleRuns(ctx context.Context, staleAfter time.Duration) (int64, error) {
	res, err := s.namedExec(ctx, `
		UPDATE processing_runs
		SET status = :failed, error_message = :message, completed_at = :completed_at
		WHERE status = :running AND started_at < :cutoff`,
		map[string]any{
			"failed":       string(types.RunFailed),
			"message":      "stale run swept: exceeded max runtime",
			"completed_at": time.Now().UTC(),
			"running":      string(types.RunRunning),
			"cutoff":       time.Now().UTC().Add(-staleAfter),
		})
	if err != nil {
		return 0, &types.StoreError{Op: "sweep_stale_runs", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &types.StoreError{Op: "sweep_stale_runs", Err: err}
	}
	if n > 0 {
		s.logger.Warn("stale runs swept", "count", n, "stale_after", staleAfter)
	}
	return n, nil
}

// GetRun loads one processing_runs row by run id.
func (s *Store) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	var run types.Run
	err := s.namedGet(ctx, &run, `
		SELECT run_id, status, pipeline_tier,
		       COALESCE(target_date, '') AS target_date,
		       total_entries, processed_entries, failed_entries,
		       dedupe_skipped, clusters_created,
		       started_at, completed_at,
		       COALESCE(error_message, '') AS error_message
		FROM processing_runs
		WHERE run_id = :run_id`,
		map[string]any{"run_id": runID})
	if err != nil {
		return nil, &types.StoreError{Op: "get_run", Err: err}
	}
	return &run, nil
}

// truncateChars limits a string to n runes, keeping it valid UTF-8.
func truncateChars(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
