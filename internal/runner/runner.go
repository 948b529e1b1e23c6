// Package runner drives one batch run end to end: sweep, claim, ingest,
// embed, cluster, summarize, score, alert. One Runner executes one run at
// a time; per-entry failures are recorded on the job rows and never fail
// the run, while stage-level errors mark the whole run FAILED.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/masx-gsgi/flashpipe/internal/alert"
	"github.com/masx-gsgi/flashpipe/internal/config"
	"github.com/masx-gsgi/flashpipe/internal/dedupe"
	"github.com/masx-gsgi/flashpipe/internal/embed"
	"github.com/masx-gsgi/flashpipe/internal/enrich"
	"github.com/masx-gsgi/flashpipe/internal/extract"
	"github.com/masx-gsgi/flashpipe/internal/fetcher"
	"github.com/masx-gsgi/flashpipe/internal/observability"
	"github.com/masx-gsgi/flashpipe/internal/score"
	"github.com/masx-gsgi/flashpipe/internal/store"
	"github.com/masx-gsgi/flashpipe/internal/summarize"
	"github.com/masx-gsgi/flashpipe/internal/types"
)

// ErrRunInProgress is returned when Run is called while another run holds
// the runner.
var ErrRunInProgress = errors.New("a run is already in progress")

// failSafeTimeout bounds the FAILED write after the run context is gone.
const failSafeTimeout = 10 * time.Second

// Stats tracks per-run counters. Safe for concurrent use.
type Stats struct {
	Selected        atomic.Int64
	Claimed         atomic.Int64
	Processed       atomic.Int64
	Failed          atomic.Int64
	DedupeSkipped   atomic.Int64
	Embedded        atomic.Int64
	ClustersCreated atomic.Int64
	Summarized      atomic.Int64
	AlertsSent      atomic.Int64
	StartTime       time.Time
}

// Snapshot returns a copy of the counters safe for logging.
func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"selected":         s.Selected.Load(),
		"claimed":          s.Claimed.Load(),
		"processed":        s.Processed.Load(),
		"failed":           s.Failed.Load(),
		"dedupe_skipped":   s.DedupeSkipped.Load(),
		"embedded":         s.Embedded.Load(),
		"clusters_created": s.ClustersCreated.Load(),
		"summarized":       s.Summarized.Load(),
		"alerts_sent":      s.AlertsSent.Load(),
		"elapsed":          time.Since(s.StartTime).String(),
	}
}

// Runner owns the long-lived pipeline components. Per-run state (the
// dedupe engine, the enrichment chain, counters) is rebuilt inside Run.
type Runner struct {
	cfg       *config.Config
	store     *store.Store
	fetch     fetcher.Fetcher
	browser   fetcher.Fetcher
	extractor *extract.Extractor
	embedder  embed.Embedder
	local     *summarize.LocalPool
	oracle    *summarize.Oracle
	scorer    *score.Scorer
	alerts    alert.Dispatcher
	metrics   *observability.Metrics
	logger    *slog.Logger

	running atomic.Bool
	stats   *Stats
}

// New wires the pipeline components from configuration. The store is
// owned by the caller; Close releases only what New created.
func New(cfg *config.Config, st *store.Store, metrics *observability.Metrics, logger *slog.Logger) (*Runner, error) {
	fetch, err := fetcher.NewHTTPFetcher(cfg, metrics, logger)
	if err != nil {
		return nil, err
	}
	var browser fetcher.Fetcher
	if cfg.Fetcher.BrowserEnabled {
		browser = fetcher.NewBrowserFetcher(cfg, logger)
	}
	embedder, err := embed.New(&cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}
	alerts, err := alert.New(&cfg.Alert, logger)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:       cfg,
		store:     st,
		fetch:     fetch,
		browser:   browser,
		extractor: extract.New(cfg, metrics, logger),
		embedder:  embedder,
		local:     summarize.NewLocalPool(&cfg.Summarize, logger),
		oracle:    summarize.NewOracle(&cfg.Oracle, metrics, logger),
		scorer:    score.New(&cfg.Score, logger),
		alerts:    alerts,
		metrics:   metrics,
		logger:    logger.With("component", "runner"),
	}, nil
}

// Close releases the fetchers.
func (r *Runner) Close() error {
	err := r.fetch.Close()
	if r.browser != nil {
		if berr := r.browser.Close(); err == nil {
			err = berr
		}
	}
	return err
}

// Stats returns the counters of the current (or most recent) run.
func (r *Runner) Stats() *Stats { return r.stats }

// runState carries everything the stages share within one run.
type runState struct {
	run    *types.Run
	tables store.Tables
	tier   types.Tier
	chain  *enrich.Chain
	engine *dedupe.Engine
	stats  *Stats

	timings map[string]float64
}

// Run executes the full pipeline for one target date. A zero targetDate
// resolves to the newest dated feed table. The returned Run reflects the
// final persisted state even when err is non-nil.
func (r *Runner) Run(ctx context.Context, targetDate time.Time, tier types.Tier) (*types.Run, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)

	swept, err := r.store.SweepStaleRuns(ctx, r.cfg.Run.StaleAfter)
	if err != nil {
		return nil, err
	}
	if swept > 0 {
		r.logger.Info("stale runs swept", "count", swept)
	}

	day := targetDate
	if day.IsZero() {
		if day, err = r.store.LatestFeedDate(ctx); err != nil {
			return nil, err
		}
	}
	tables := store.TablesFor(day)
	if err := r.store.VerifyInputTables(ctx, tables); err != nil {
		return nil, err
	}
	if err := r.store.EnsureOutputTable(ctx, tables); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := &types.Run{
		RunID:      types.NewRunID(now),
		Status:     types.RunRunning,
		Tier:       tier,
		TargetDate: tables.DateString(),
		StartedAt:  &now,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	r.stats = &Stats{StartTime: now}
	rs := &runState{
		run:     run,
		tables:  tables,
		tier:    tier,
		stats:   r.stats,
		timings: make(map[string]float64),
	}

	if err := r.execute(ctx, rs); err != nil {
		r.failRun(ctx, run, err)
		return run, err
	}

	run.Status = types.RunCompleted
	r.logger.Info("run completed", "run_id", run.RunID, "stats", r.stats.Snapshot())
	return run, nil
}

// execute performs the staged pipeline between CreateRun and CompleteRun.
func (r *Runner) execute(ctx context.Context, rs *runState) error {
	pipelineStart := time.Now()

	stageStart := time.Now()
	entries, err := r.store.SelectUnprocessed(ctx, rs.tables, r.cfg.Run.SelectionLimit)
	if err != nil {
		return err
	}
	rs.timings["entry_selection"] = time.Since(stageStart).Seconds()
	rs.stats.Selected.Store(int64(len(entries)))
	r.logger.Info("entries selected", "run_id", rs.run.RunID, "total", len(entries))

	if len(entries) == 0 {
		rs.timings["pipeline_total"] = time.Since(pipelineStart).Seconds()
		return r.complete(ctx, rs, 0, 0)
	}

	stageStart = time.Now()
	entryIDs := entryIDsOf(entries)
	claimed, err := r.store.ClaimJobs(ctx, rs.run.RunID, entryIDs)
	if err != nil {
		return err
	}
	rs.timings["job_claiming"] = time.Since(stageStart).Seconds()
	rs.stats.Claimed.Store(claimed)
	r.logger.Info("jobs claimed", "run_id", rs.run.RunID, "claimed", claimed, "total", len(entries))

	rs.chain = r.buildChain(rs.tier)
	if rs.engine, err = r.buildDedupe(ctx, rs.tables); err != nil {
		return err
	}

	stageStart = time.Now()
	if err := r.ingest(ctx, rs, entries); err != nil {
		return err
	}
	rs.timings["ingestion_total"] = time.Since(stageStart).Seconds()
	r.observeStage("ingestion", stageStart)
	r.logger.Info("stage done", "stage", "ingestion",
		"entries", len(entries), "elapsed_s", round2(rs.timings["ingestion_total"]))

	if rs.tier.HasEmbeddings() {
		stageStart = time.Now()
		if err := r.embedStage(ctx, rs); err != nil {
			return err
		}
		flashpoints, err := r.store.FlashpointIDsForRun(ctx, rs.tables, rs.run.RunID)
		if err != nil {
			return err
		}
		if err := r.clusterStage(ctx, rs, flashpoints); err != nil {
			return err
		}
		rs.timings["clustering"] = time.Since(stageStart).Seconds()
		r.observeStage("clustering", stageStart)
		r.logger.Info("stage done", "stage", "clustering",
			"flashpoints", len(flashpoints),
			"clusters_created", rs.stats.ClustersCreated.Load(),
			"elapsed_s", round2(rs.timings["clustering"]))

		stageStart = time.Now()
		scored, err := r.summarizeStage(ctx, rs, flashpoints)
		if err != nil {
			return err
		}
		rs.timings["summarization"] = time.Since(stageStart).Seconds()
		r.observeStage("summarization", stageStart)
		r.logger.Info("stage done", "stage", "summarization",
			"clusters", len(scored), "elapsed_s", round2(rs.timings["summarization"]))

		stageStart = time.Now()
		if err := r.scoreStage(ctx, rs, scored); err != nil {
			return err
		}
		rs.timings["scoring"] = time.Since(stageStart).Seconds()
		r.observeStage("scoring", stageStart)
	}

	rs.timings["pipeline_total"] = time.Since(pipelineStart).Seconds()
	return r.complete(ctx, rs, len(entries), claimed)
}

// complete gathers job stats and persists the COMPLETED row.
func (r *Runner) complete(ctx context.Context, rs *runState, total int, claimed int64) error {
	jobStats, err := r.store.RunStats(ctx, rs.run.RunID)
	if err != nil {
		return err
	}
	statusCounts := make(map[string]int, len(jobStats))
	for status, n := range jobStats {
		statusCounts[string(status)] = n
	}

	timings := make(map[string]float64, len(rs.timings))
	for stage, secs := range rs.timings {
		timings[stage] = round2(secs)
	}

	metrics := map[string]any{
		"total_entries": total,
		"claimed":       claimed,
		"stats":         statusCounts,
		"tier":          string(rs.tier),
		"target_date":   rs.tables.DateString(),
		"tables": map[string]string{
			"feed_entries":  rs.tables.FeedEntries,
			"flash_point":   rs.tables.FlashPoint,
			"news_clusters": rs.tables.NewsClusters,
		},
		"timings": timings,
	}

	counters := store.RunCounters{
		Total:           total,
		Processed:       int(rs.stats.Processed.Load()),
		Failed:          int(rs.stats.Failed.Load()),
		DedupeSkipped:   int(rs.stats.DedupeSkipped.Load()),
		ClustersCreated: int(rs.stats.ClustersCreated.Load()),
	}
	if err := r.store.CompleteRun(ctx, rs.run.RunID, counters, metrics); err != nil {
		return err
	}

	rs.run.TotalEntries = counters.Total
	rs.run.ProcessedEntries = counters.Processed
	rs.run.FailedEntries = counters.Failed
	rs.run.DedupeSkipped = counters.DedupeSkipped
	rs.run.ClustersCreated = counters.ClustersCreated
	r.logger.Info("timing summary", "run_id", rs.run.RunID, "timings", timings)
	return nil
}

// failRun persists the FAILED state. The write uses a detached context so
// it survives the cancellation that aborted the run.
func (r *Runner) failRun(ctx context.Context, run *types.Run, cause error) {
	message := cause.Error()
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		message = string(types.ReasonCancelled) + ": " + message
	}
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failSafeTimeout)
	defer cancel()
	if err := r.store.FailRun(failCtx, run.RunID, message); err != nil {
		r.logger.Error("could not mark run failed", "run_id", run.RunID, "error", err)
	}
	run.Status = types.RunFailed
	run.ErrorMessage = message
	r.logger.Error("run failed", "run_id", run.RunID, "error", cause)
}

// buildChain assembles the per-run enrichment chain. Title translation is
// service-backed only on tier C; lower tiers pass original titles through.
func (r *Runner) buildChain(tier types.Tier) *enrich.Chain {
	c := enrich.NewChain(r.logger)
	c.Use(enrich.NewLanguage(r.logger))

	var translator enrich.Translator = enrich.Passthrough{}
	if tier.HasOracle() && r.cfg.Enrich.TranslatorEndpoint != "" {
		translator = enrich.NewHTTPTranslator(r.cfg.Enrich.TranslatorEndpoint, r.logger)
	}
	c.Use(enrich.NewTitle(translator, r.logger))
	c.Use(enrich.Hostname{})

	var tagger enrich.EntityTagger
	if r.cfg.Enrich.NEREndpoint != "" {
		tagger = enrich.NewHTTPTagger(r.cfg.Enrich.NEREndpoint, r.cfg.Enrich.NERModel, r.logger)
	} else {
		tagger = enrich.NewHeuristicTagger(r.cfg.Enrich.NERModel)
	}
	c.Use(enrich.NewEntities(tagger, r.logger))
	c.Use(enrich.NewGeo(r.logger))

	if r.cfg.Enrich.TopicsEnabled {
		c.Use(enrich.NewTopics(enrich.NewLexiconClassifier(), r.logger))
	}
	return c
}

// buildDedupe creates the run's dedupe engine, reseeded from earlier runs
// over the same target date so re-runs keep their representatives.
func (r *Runner) buildDedupe(ctx context.Context, tables store.Tables) (*dedupe.Engine, error) {
	engine := dedupe.NewEngine(&r.cfg.Dedupe, r.logger)
	seeds, err := r.store.DedupeSeeds(ctx, tables.DateString())
	if err != nil {
		return nil, err
	}
	skipped := 0
	for _, sd := range seeds {
		if err := engine.Seed(sd.FeedEntryID, sd.ContentHash, sd.MinhashSig); err != nil {
			skipped++
			r.logger.Debug("dedupe seed skipped", "entry_id", sd.FeedEntryID, "error", err)
		}
	}
	if len(seeds) > 0 {
		hashes, sigs := engine.Stats()
		r.logger.Info("dedupe state reseeded",
			"seeds", len(seeds), "skipped", skipped, "hashes", hashes, "signatures", sigs)
	}
	return engine, nil
}

func (r *Runner) observeStage(stage string, start time.Time) {
	r.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func round2(secs float64) float64 {
	return math.Round(secs*100) / 100
}
