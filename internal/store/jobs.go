package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/masx-gsgi/flashpipe/internal/types"
)

// Bulk statements are chunked to keep parameter counts well under the
// Postgres limit.
const (
	claimChunk = 500
	inChunk    = 1000
)

type claimRow struct {
	FeedEntryID uuid.UUID       `db:"feed_entry_id"`
	RunID       string          `db:"run_id"`
	Status      types.JobStatus `db:"status"`
}

// ClaimJobs inserts queued job rows for the given entries, skipping any
// already claimed by this run. Returns the number of fresh claims.
func (s *Store) ClaimJobs(ctx context.Context, runID string, entryIDs []uuid.UUID) (int64, error) {
	var claimed int64
	for start := 0; start < len(entryIDs); start += claimChunk {
		end := start + claimChunk
		if end > len(entryIDs) {
			end = len(entryIDs)
		}
		rows := make([]claimRow, 0, end-start)
		for _, id := range entryIDs[start:end] {
			rows = append(rows, claimRow{FeedEntryID: id, RunID: runID, Status: types.JobQueued})
		}
		res, err := s.namedExec(ctx, `
			INSERT INTO feed_entry_jobs (feed_entry_id, run_id, status)
			VALUES (:feed_entry_id, :run_id, :status)
			ON CONFLICT (feed_entry_id, run_id) DO NOTHING`,
			rows)
		if err != nil {
			return claimed, &types.StoreError{Op: "claim_jobs", Err: err}
		}
		if n, err := res.RowsAffected(); err == nil {
			claimed += n
		}
	}
	return claimed, nil
}

// UpdateJobStatus advances one job's status.
func (s *Store) UpdateJobStatus(ctx context.Context, runID string, entryID uuid.UUID, status types.JobStatus) error {
	_, err := s.namedExec(ctx, `
		UPDATE feed_entry_jobs
		SET status = :status, updated_at = :updated_at
		WHERE feed_entry_id = :feed_entry_id AND run_id = :run_id`,
		map[string]any{
			"status":        string(status),
			"updated_at":    time.Now().UTC(),
			"feed_entry_id": entryID,
			"run_id":        runID,
		})
	if err != nil {
		return &types.StoreError{Op: "update_job_status", Err: err}
	}
	return nil
}

// CompleteIngestJob records the full outcome of the ingest stage for one
// entry: extraction metadata, dedupe verdict and timings, plus the final
// status (DEDUPED or SKIPPED_DUPLICATE).
func (s *Store) CompleteIngestJob(ctx context.Context, j *types.Job) error {
	j.UpdatedAt = time.Now().UTC()
	_, err := s.namedExec(ctx, `
		UPDATE feed_entry_jobs
		SET status              = :status,
		    extraction_method   = :extraction_method,
		    extraction_chars    = :extraction_chars,
		    content_hash        = :content_hash,
		    minhash_sig         = :minhash_sig,
		    is_duplicate        = :is_duplicate,
		    duplicate_of        = :duplicate_of,
		    fetch_duration_ms   = :fetch_duration_ms,
		    extract_duration_ms = :extract_duration_ms,
		    updated_at          = :updated_at
		WHERE feed_entry_id = :feed_entry_id AND run_id = :run_id`,
		j)
	if err != nil {
		return &types.StoreError{Op: "complete_ingest_job", Err: err}
	}
	return nil
}

// MarkJobFailed moves a job to FAILED with its reason and a truncated
// error message, bumping the attempt counter.
func (s *Store) MarkJobFailed(ctx context.Context, runID string, entryID uuid.UUID, reason types.FailureReason, message string) error {
	_, err := s.namedExec(ctx, `
		UPDATE feed_entry_jobs
		SET status         = :status,
		    failure_reason = :failure_reason,
		    last_error     = :last_error,
		    attempts       = attempts + 1,
		    updated_at     = :updated_at
		WHERE feed_entry_id = :feed_entry_id AND run_id = :run_id`,
		map[string]any{
			"status":         string(types.JobFailed),
			"failure_reason": string(reason),
			"last_error":     truncateChars(message, maxErrorChars),
			"updated_at":     time.Now().UTC(),
			"feed_entry_id":  entryID,
			"run_id":         runID,
		})
	if err != nil {
		return &types.StoreError{Op: "mark_job_failed", Err: err}
	}
	return nil
}

// BulkJobStatus advances many jobs of one run to the same status.
func (s *Store) BulkJobStatus(ctx context.Context, runID string, entryIDs []uuid.UUID, status types.JobStatus) error {
	for start := 0; start < len(entryIDs); start += inChunk {
		end := start + inChunk
		if end > len(entryIDs) {
			end = len(entryIDs)
		}
		q, args, err := s.namedIn(`
			UPDATE feed_entry_jobs
			SET status = :status, updated_at = :updated_at
			WHERE run_id = :run_id AND feed_entry_id IN (:ids)`,
			map[string]any{
				"status":     string(status),
				"updated_at": time.Now().UTC(),
				"run_id":     runID,
				"ids":        entryIDs[start:end],
			})
		if err != nil {
			return &types.StoreError{Op: "bulk_job_status", Err: err}
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return &types.StoreError{Op: "bulk_job_status", Err: err}
		}
	}
	return nil
}

// MarkEmbedded advances jobs to EMBEDDED and records the per-entry share
// of the batch embedding time.
func (s *Store) MarkEmbedded(ctx context.Context, runID string, entryIDs []uuid.UUID, perEntryMS int) error {
	for start := 0; start < len(entryIDs); start += inChunk {
		end := start + inChunk
		if end > len(entryIDs) {
			end = len(entryIDs)
		}
		q, args, err := s.namedIn(`
			UPDATE feed_entry_jobs
			SET status = :status, embed_duration_ms = :embed_ms, updated_at = :updated_at
			WHERE run_id = :run_id AND feed_entry_id IN (:ids)`,
			map[string]any{
				"status":     string(types.JobEmbedded),
				"embed_ms":   perEntryMS,
				"updated_at": time.Now().UTC(),
				"run_id":     runID,
				"ids":        entryIDs[start:end],
			})
		if err != nil {
			return &types.StoreError{Op: "mark_embedded", Err: err}
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return &types.StoreError{Op: "mark_embedded", Err: err}
		}
	}
	return nil
}

// RunStats aggregates job status counts for one run.
func (s *Store) RunStats(ctx context.Context, runID string) (map[types.JobStatus]int, error) {
	var rows []struct {
		Status types.JobStatus `db:"status"`
		Count  int             `db:"count"`
	}
	err := s.namedSelect(ctx, &rows, `
		SELECT status, COUNT(*) AS count
		FROM feed_entry_jobs
		WHERE run_id = :run_id
		GROUP BY status`,
		map[string]any{"run_id": runID})
	if err != nil {
		return nil, &types.StoreError{Op: "run_stats", Err: err}
	}
	stats := make(map[types.JobStatus]int, len(rows))
	for _, r := range rows {
		stats[r.Status] = r.Count
	}
	return stats, nil
}

// RepairDisplaced demotes a former duplicate-class representative after a
// smaller entry id re-rooted its class: every non-duplicate job row for the
// displaced entry under the same target date becomes a duplicate of the new
// representative.
func (s *Store) RepairDisplaced(ctx context.Context, targetDate string, displaced, newRoot uuid.UUID) (int64, error) {
	res, err := s.namedExec(ctx, `
		UPDATE feed_entry_jobs jej
		SET status       = :status,
		    is_duplicate = TRUE,
		    duplicate_of = :duplicate_of,
		    updated_at   = :updated_at
		FROM processing_runs pr
		WHERE pr.run_id = jej.run_id
		  AND pr.target_date = :target_date
		  AND jej.feed_entry_id = :feed_entry_id
		  AND jej.is_duplicate = FALSE`,
		map[string]any{
			"status":        string(types.JobSkippedDuplicate),
			"duplicate_of":  newRoot,
			"updated_at":    time.Now().UTC(),
			"target_date":   targetDate,
			"feed_entry_id": displaced,
		})
	if err != nil {
		return 0, &types.StoreError{Op: "repair_displaced", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &types.StoreError{Op: "repair_displaced", Err: err}
	}
	return n, nil
}

// DedupeSeed is one prior-run dedupe registration used to rebuild the
// in-memory index when a target date is re-run.
type DedupeSeed struct {
	FeedEntryID uuid.UUID `db:"feed_entry_id"`
	ContentHash string    `db:"content_hash"`
	MinhashSig  string    `db:"minhash_sig"`
}

// DedupeSeeds returns the representative hashes and signatures from all
// earlier runs over the same target date.
func (s *Store) DedupeSeeds(ctx context.Context, targetDate string) ([]DedupeSeed, error) {
	var seeds []DedupeSeed
	err := s.namedSelect(ctx, &seeds, `
		SELECT jej.feed_entry_id,
		       jej.content_hash,
		       COALESCE(jej.minhash_sig, '') AS minhash_sig
		FROM feed_entry_jobs jej
		JOIN processing_runs pr ON pr.run_id = jej.run_id
		WHERE pr.target_date = :target_date
		  AND jej.is_duplicate = FALSE
		  AND jej.content_hash IS NOT NULL
		  AND jej.content_hash <> ''
		ORDER BY jej.feed_entry_id`,
		map[string]any{"target_date": targetDate})
	if err != nil {
		return nil, &types.StoreError{Op: "dedupe_seeds", Err: err}
	}
	return seeds, nil
}
