package runner

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/masx-gsgi/flashpipe/internal/dedupe"
	"github.com/masx-gsgi/flashpipe/internal/enrich"
	"github.com/masx-gsgi/flashpipe/internal/extract"
	"github.com/masx-gsgi/flashpipe/internal/types"
)

// fetched pairs an entry with its page, handed from the fetch workers to
// the processing workers.
type fetched struct {
	entry *types.Entry
	page  *types.Page
}

// ingest runs the fetch → extract → enrich → dedupe → write-back stage.
// Fetch workers produce into a bounded channel; processing workers drain
// it, so a full channel backpressures the fetch side. Per-entry failures
// are recorded on the job row; only cancellation aborts the stage.
func (r *Runner) ingest(ctx context.Context, rs *runState, entries []types.Entry) error {
	workers := r.cfg.Run.ProcessWorkers
	if workers <= 0 {
		workers = 1
	}
	pages := make(chan *fetched, workers*2)

	procs, procCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		procs.Go(func() error {
			for f := range pages {
				r.metrics.ProcessQueueDepth.Dec()
				if err := procCtx.Err(); err != nil {
					return err
				}
				r.processEntry(procCtx, rs, f)
			}
			return nil
		})
	}

	fetchers, fetchCtx := errgroup.WithContext(ctx)
	fetchers.SetLimit(r.cfg.Fetcher.MaxConcurrentFetches)
	for i := range entries {
		entry := &entries[i]
		fetchers.Go(func() error {
			page, ok := r.fetchEntry(fetchCtx, rs, entry)
			if !ok {
				return fetchCtx.Err()
			}
			select {
			case pages <- &fetched{entry: entry, page: page}:
				r.metrics.ProcessQueueDepth.Inc()
				return nil
			case <-fetchCtx.Done():
				return fetchCtx.Err()
			}
		})
	}

	ferr := fetchers.Wait()
	close(pages)
	perr := procs.Wait()
	if ferr != nil {
		return ferr
	}
	return perr
}

// fetchEntry marks the job FETCHING and resolves the page. ok is false
// when the entry was terminally handled or the fetch was cancelled.
func (r *Runner) fetchEntry(ctx context.Context, rs *runState, entry *types.Entry) (*types.Page, bool) {
	if err := r.store.UpdateJobStatus(ctx, rs.run.RunID, entry.ID, types.JobFetching); err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		r.logger.Warn("job status update failed", "entry_id", entry.ID, "error", err)
	}

	if strings.TrimSpace(entry.URL) == "" {
		r.jobFailed(ctx, rs, entry.ID, types.ReasonNoText, "entry has no URL")
		return nil, false
	}

	page, err := r.fetch.Fetch(ctx, entry.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		r.jobFailed(ctx, rs, entry.ID, types.ReasonForError(err), err.Error())
		return nil, false
	}
	return page, true
}

// processEntry runs extraction, enrichment, dedupe and write-back for one
// fetched page.
func (r *Runner) processEntry(ctx context.Context, rs *runState, f *fetched) {
	entry := f.entry

	extractStart := time.Now()
	res, err := r.extractor.Extract(f.page)
	if err != nil && r.browser != nil && extract.NeedsBrowser(err) {
		if browserRes, browserErr := r.retryWithBrowser(ctx, f.page.URL); browserErr == nil {
			res, err = browserRes, nil
		} else {
			r.logger.Debug("browser fallback failed",
				"entry_id", entry.ID, "url", f.page.URL, "error", browserErr)
		}
	}
	if err != nil {
		r.jobFailed(ctx, rs, entry.ID, types.ReasonForError(err), err.Error())
		return
	}
	extractDur := time.Since(extractStart)

	if err := r.store.UpdateJobStatus(ctx, rs.run.RunID, entry.ID, types.JobExtracted); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("job status update failed", "entry_id", entry.ID, "error", err)
	}

	out := &types.Enrichment{Content: &res.Text}
	if len(res.Images) > 0 {
		out.Images = res.Images
	}
	article := &enrich.Article{Entry: entry, Text: res.Text, Out: out}
	if err := rs.chain.Enrich(ctx, article); err != nil {
		// Only cancellation escapes the chain.
		return
	}

	if stub, err := r.local.Stub(ctx, entry.BestTitle(), res.Text); err == nil && stub != "" {
		out.Summary = &stub
	}

	verdict := rs.engine.Check(entry.ID, res.Text)
	if verdict.Displaced != nil {
		repaired, err := r.store.RepairDisplaced(ctx, rs.tables.DateString(), *verdict.Displaced, entry.ID)
		if err != nil {
			r.logger.Warn("displaced representative repair failed",
				"displaced", *verdict.Displaced, "new_root", entry.ID, "error", err)
		} else if repaired > 0 {
			r.logger.Debug("duplicate class re-rooted",
				"displaced", *verdict.Displaced, "new_root", entry.ID, "rows", repaired)
		}
	}

	if err := r.store.UpdateEnrichment(ctx, rs.tables, entry.ID, out); err != nil {
		r.jobFailed(ctx, rs, entry.ID, types.ReasonForError(err), err.Error())
		return
	}
	if len(article.Topics) > 0 {
		if err := r.store.InsertTopics(ctx, article.Topics); err != nil {
			r.logger.Warn("topic insert failed", "entry_id", entry.ID, "error", err)
		}
	}

	job := &types.Job{
		FeedEntryID:      entry.ID,
		RunID:            rs.run.RunID,
		ExtractionMethod: res.Method,
		ExtractionChars:  res.Chars,
		ContentHash:      verdict.ContentHash,
		FetchDurationMS:  int(f.page.Elapsed.Milliseconds()),
		ExtractDurMS:     int(extractDur.Milliseconds()),
	}
	if verdict.IsDuplicate() {
		job.Status = types.JobSkippedDuplicate
		job.IsDuplicate = true
		job.DuplicateOf = verdict.DuplicateOf
		kind := "near"
		if verdict.IsExact {
			kind = "exact"
		}
		r.metrics.DuplicatesTotal.WithLabelValues(kind).Inc()
	} else {
		job.Status = types.JobDeduped
		job.MinhashSig = dedupe.PackSignature(verdict.Signature)
	}

	if err := r.store.CompleteIngestJob(ctx, job); err != nil {
		r.jobFailed(ctx, rs, entry.ID, types.ReasonForError(err), err.Error())
		return
	}

	r.metrics.EntriesProcessed.Inc()
	if job.IsDuplicate {
		rs.stats.DedupeSkipped.Add(1)
		return
	}
	rs.stats.Processed.Add(1)
}

// retryWithBrowser refetches through headless Chromium and re-runs the
// extraction cascade. Callers keep the static outcome on any error.
func (r *Runner) retryWithBrowser(ctx context.Context, rawURL string) (*extract.Result, error) {
	page, err := r.browser.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return r.extractor.Extract(page)
}

// jobFailed records a job failure. The write is detached from the run
// context so cancelled entries still land their final state.
func (r *Runner) jobFailed(ctx context.Context, rs *runState, entryID uuid.UUID, reason types.FailureReason, message string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failSafeTimeout)
	defer cancel()
	if err := r.store.MarkJobFailed(writeCtx, rs.run.RunID, entryID, reason, message); err != nil {
		r.logger.Error("could not mark job failed", "entry_id", entryID, "error", err)
	}
	rs.stats.Failed.Add(1)
	r.metrics.EntriesFailed.WithLabelValues(string(reason)).Inc()
}

func entryIDsOf(entries []types.Entry) []uuid.UUID {
	ids := make([]uuid.UUID, len(entries))
	for i := range entries {
		ids[i] = entries[i].ID
	}
	return ids
}
