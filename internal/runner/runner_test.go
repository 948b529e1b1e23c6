package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/masx-gsgi/flashpipe/internal/alert"
	"github.com/masx-gsgi/flashpipe/internal/config"
	"github.com/masx-gsgi/flashpipe/internal/dedupe"
	"github.com/masx-gsgi/flashpipe/internal/extract"
	"github.com/masx-gsgi/flashpipe/internal/observability"
	"github.com/masx-gsgi/flashpipe/internal/score"
	"github.com/masx-gsgi/flashpipe/internal/store"
	"github.com/masx-gsgi/flashpipe/internal/summarize"
	"github.com/masx-gsgi/flashpipe/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Run.ProcessWorkers = 4
	cfg.Fetcher.MaxConcurrentFetches = 4
	return cfg
}

// stubFetcher serves canned pages by URL.
type stubFetcher struct {
	pages map[string]*types.Page
}

func (f *stubFetcher) Fetch(ctx context.Context, rawURL string) (*types.Page, error) {
	if p, ok := f.pages[rawURL]; ok {
		return p, nil
	}
	return nil, &types.FetchError{URL: rawURL, StatusCode: 404, Err: errors.New("no such page")}
}

func (f *stubFetcher) Close() error { return nil }

// recordingDispatcher captures dispatched alerts.
type recordingDispatcher struct {
	alerts []*alert.Alert
	err    error
}

func (d *recordingDispatcher) Name() string { return "recording" }

func (d *recordingDispatcher) Dispatch(ctx context.Context, a *alert.Alert) error {
	if d.err != nil {
		return d.err
	}
	d.alerts = append(d.alerts, a)
	return nil
}

func newTestRunner(t *testing.T, cfg *config.Config) (*Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := testLogger()
	metrics := observability.NewMetrics(logger)
	return &Runner{
		cfg:       cfg,
		store:     store.NewWithDB(sqlx.NewDb(db, "sqlmock"), store.NoneCodec{}, logger),
		fetch:     &stubFetcher{},
		extractor: extract.New(cfg, metrics, logger),
		local:     summarize.NewLocalPool(&cfg.Summarize, logger),
		oracle:    summarize.NewOracle(&cfg.Oracle, metrics, logger),
		scorer:    score.New(&cfg.Score, logger),
		alerts:    alert.Noop{},
		metrics:   metrics,
		logger:    logger,
	}, mock
}

func newRunState(r *Runner) *runState {
	return &runState{
		run:     &types.Run{RunID: "run_test", Status: types.RunRunning, Tier: types.TierA},
		tables:  store.TablesFor(time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)),
		tier:    types.TierA,
		chain:   r.buildChain(types.TierA),
		engine:  dedupe.NewEngine(&r.cfg.Dedupe, r.logger),
		stats:   &Stats{StartTime: time.Now()},
		timings: make(map[string]float64),
	}
}

// articleHTML wraps enough article text for the extraction cascade.
func articleHTML() string {
	body := strings.TrimSpace(strings.Repeat(
		"Officials confirmed the border crossing would remain closed indefinitely. ", 8))
	return fmt.Sprintf(`<html><head><title>Story</title></head><body>
		<article><p>%s</p><p>%s</p></article>
	</body></html>`, body, body)
}

func testPage(url string) *types.Page {
	return &types.Page{
		URL:       url,
		FinalURL:  url,
		Body:      []byte(articleHTML()),
		FetchedAt: time.Now().UTC(),
		Elapsed:   120 * time.Millisecond,
	}
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStatsSnapshot(t *testing.T) {
	s := &Stats{StartTime: time.Now()}
	s.Selected.Store(100)
	s.Processed.Store(80)
	s.Failed.Store(12)
	s.DedupeSkipped.Store(8)

	snap := s.Snapshot()
	if snap["selected"] != int64(100) || snap["processed"] != int64(80) {
		t.Errorf("snapshot = %v", snap)
	}
	if snap["failed"] != int64(12) || snap["dedupe_skipped"] != int64(8) {
		t.Errorf("snapshot = %v", snap)
	}
	if _, ok := snap["elapsed"]; !ok {
		t.Error("snapshot missing elapsed")
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	r, mock := newTestRunner(t, testConfig())
	r.running.Store(true)

	_, err := r.Run(context.Background(), time.Time{}, types.TierA)
	if !errors.Is(err, ErrRunInProgress) {
		t.Errorf("err = %v, want ErrRunInProgress", err)
	}
	expectationsMet(t, mock)
}

func TestRunZeroEntriesCompletes(t *testing.T) {
	r, mock := newTestRunner(t, testConfig())
	day := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE processing_runs`).
		WithArgs("failed", sqlmock.AnyArg(), sqlmock.AnyArg(), "running", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	for _, table := range []string{"feed_entries_20251103", "flash_point_20251103"} {
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs(table).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	}
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "news_clusters_20251103"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO processing_runs`).
		WithArgs(sqlmock.AnyArg(), "running", "A", "2025-11-03", 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "feed_entries_20251103" fe`)).
		WithArgs(r.cfg.Run.SelectionLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) AS count`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}))
	mock.ExpectExec(`UPDATE processing_runs\s+SET status\s+= \?`).
		WithArgs("completed", 0, 0, 0, 0, 0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	run, err := r.Run(context.Background(), day, types.TierA)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != types.RunCompleted {
		t.Errorf("status = %s, want %s", run.Status, types.RunCompleted)
	}
	if run.TargetDate != "2025-11-03" {
		t.Errorf("target_date = %q", run.TargetDate)
	}
	if run.TotalEntries != 0 {
		t.Errorf("total = %d, want 0", run.TotalEntries)
	}
	expectationsMet(t, mock)
}

func TestFailRunPrefixesCancellation(t *testing.T) {
	r, mock := newTestRunner(t, testConfig())
	run := &types.Run{RunID: "run_test", Status: types.RunRunning}

	mock.ExpectExec(`UPDATE processing_runs`).
		WithArgs("failed", "cancelled: select entries: context canceled", sqlmock.AnyArg(), "run_test").
		WillReturnResult(sqlmock.NewResult(0, 1))

	cause := fmt.Errorf("select entries: %w", context.Canceled)
	r.failRun(context.Background(), run, cause)

	if run.Status != types.RunFailed {
		t.Errorf("status = %s, want %s", run.Status, types.RunFailed)
	}
	if !strings.HasPrefix(run.ErrorMessage, "cancelled: ") {
		t.Errorf("error message = %q, want cancelled prefix", run.ErrorMessage)
	}
	expectationsMet(t, mock)
}

func TestFetchEntryWithoutURLFailsJob(t *testing.T) {
	r, mock := newTestRunner(t, testConfig())
	rs := newRunState(r)
	entry := &types.Entry{ID: uuid.New()}

	mock.ExpectExec(`UPDATE feed_entry_jobs`).
		WithArgs("fetching", sqlmock.AnyArg(), entry.ID, "run_test").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE feed_entry_jobs`).
		WithArgs("failed", "no_text", "entry has no URL", sqlmock.AnyArg(), entry.ID, "run_test").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, ok := r.fetchEntry(context.Background(), rs, entry); ok {
		t.Error("fetchEntry reported ok for entry without URL")
	}
	if got := rs.stats.Failed.Load(); got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
	expectationsMet(t, mock)
}

func TestProcessEntryWritesEnrichmentAndJob(t *testing.T) {
	r, mock := newTestRunner(t, testConfig())
	rs := newRunState(r)
	entry := &types.Entry{ID: uuid.New(), Title: "Border crossing closed", URL: "https://news.example/a"}

	mock.ExpectExec(`UPDATE feed_entry_jobs`).
		WithArgs("extracted", sqlmock.AnyArg(), entry.ID, "run_test").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "feed_entries_20251103" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE feed_entry_jobs`).
		WithArgs(
			"deduped", extract.MethodTrafilatura, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), false, nil, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), entry.ID, "run_test",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r.processEntry(context.Background(), rs, &fetched{entry: entry, page: testPage(entry.URL)})

	if got := rs.stats.Processed.Load(); got != 1 {
		t.Errorf("processed = %d, want 1", got)
	}
	if got := rs.stats.Failed.Load(); got != 0 {
		t.Errorf("failed = %d, want 0", got)
	}
	expectationsMet(t, mock)
}

func TestProcessEntryExactDuplicate(t *testing.T) {
	r, mock := newTestRunner(t, testConfig())
	rs := newRunState(r)

	// The smaller id arrives first and stays the representative.
	first := &types.Entry{
		ID:    uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		Title: "Original", URL: "https://news.example/a",
	}
	second := &types.Entry{
		ID:    uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		Title: "Syndicated copy", URL: "https://mirror.example/a",
	}

	mock.ExpectExec(`UPDATE feed_entry_jobs`).
		WithArgs("extracted", sqlmock.AnyArg(), first.ID, "run_test").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "feed_entries_20251103" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE feed_entry_jobs`).
		WithArgs(
			"deduped", extract.MethodTrafilatura, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), false, nil, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), first.ID, "run_test",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Duplicates still receive the full enrichment write-back.
	mock.ExpectExec(`UPDATE feed_entry_jobs`).
		WithArgs("extracted", sqlmock.AnyArg(), second.ID, "run_test").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "feed_entries_20251103" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE feed_entry_jobs`).
		WithArgs(
			"skipped_duplicate", extract.MethodTrafilatura, sqlmock.AnyArg(), sqlmock.AnyArg(),
			"", true, first.ID, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), second.ID, "run_test",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r.processEntry(context.Background(), rs, &fetched{entry: first, page: testPage(first.URL)})
	r.processEntry(context.Background(), rs, &fetched{entry: second, page: testPage(second.URL)})

	if got := rs.stats.Processed.Load(); got != 1 {
		t.Errorf("processed = %d, want 1", got)
	}
	if got := rs.stats.DedupeSkipped.Load(); got != 1 {
		t.Errorf("dedupe_skipped = %d, want 1", got)
	}
	expectationsMet(t, mock)
}

func TestProcessEntryRerootRepairsDisplaced(t *testing.T) {
	r, mock := newTestRunner(t, testConfig())
	rs := newRunState(r)

	// The larger id arrives first; the smaller id unseats it.
	big := &types.Entry{
		ID:    uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff"),
		Title: "Late syndication", URL: "https://mirror.example/a",
	}
	small := &types.Entry{
		ID:    uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		Title: "Original", URL: "https://news.example/a",
	}

	mock.ExpectExec(`UPDATE feed_entry_jobs`).
		WithArgs("extracted", sqlmock.AnyArg(), big.ID, "run_test").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "feed_entries_20251103" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE feed_entry_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`UPDATE feed_entry_jobs`).
		WithArgs("extracted", sqlmock.AnyArg(), small.ID, "run_test").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE feed_entry_jobs jej`).
		WithArgs("skipped_duplicate", small.ID, sqlmock.AnyArg(), "2025-11-03", big.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "feed_entries_20251103" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE feed_entry_jobs`).
		WithArgs(
			"deduped", extract.MethodTrafilatura, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), false, nil, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), small.ID, "run_test",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r.processEntry(context.Background(), rs, &fetched{entry: big, page: testPage(big.URL)})
	r.processEntry(context.Background(), rs, &fetched{entry: small, page: testPage(small.URL)})

	// Both become representatives of their class in turn; neither counts
	// as a skipped duplicate here.
	if got := rs.stats.Processed.Load(); got != 2 {
		t.Errorf("processed = %d, want 2", got)
	}
	if got := rs.stats.DedupeSkipped.Load(); got != 0 {
		t.Errorf("dedupe_skipped = %d, want 0", got)
	}
	expectationsMet(t, mock)
}

func TestIngestMixedOutcomes(t *testing.T) {
	r, mock := newTestRunner(t, testConfig())
	rs := newRunState(r)

	entries := []types.Entry{
		{ID: uuid.New(), Title: "Good", URL: "https://news.example/good"},
		{ID: uuid.New(), Title: "No URL"},
		{ID: uuid.New(), Title: "Gone", URL: "https://news.example/404"},
	}
	r.fetch = &stubFetcher{pages: map[string]*types.Page{
		"https://news.example/good": testPage("https://news.example/good"),
	}}

	// good: fetching + extracted + enrichment + job; no-url: fetching +
	// failed; 404: fetching + failed.
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 8; i++ {
		mock.ExpectExec(`UPDATE`).WillReturnResult(sqlmock.NewResult(0, 1))
	}

	if err := r.ingest(context.Background(), rs, entries); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if got := rs.stats.Processed.Load(); got != 1 {
		t.Errorf("processed = %d, want 1", got)
	}
	if got := rs.stats.Failed.Load(); got != 2 {
		t.Errorf("failed = %d, want 2", got)
	}
	expectationsMet(t, mock)
}

func TestScoreStageDispatchesFlaggedAlerts(t *testing.T) {
	cfg := testConfig()
	cfg.Alert.TopK = 1
	r, mock := newTestRunner(t, cfg)
	dispatcher := &recordingDispatcher{}
	r.alerts = dispatcher
	rs := newRunState(r)

	hotID := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	coldID := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	now := time.Now().UTC()

	clusters := []scoredCluster{
		{
			input: score.Input{
				FlashpointID: hotID,
				ClusterID:    1,
				Summary:      "Large multi-source cluster.",
				MemberCount:  12,
				Domains:      []string{"a", "b", "c", "d", "e"},
				Languages:    []string{"en", "es", "fr"},
				SeenDates:    []time.Time{now, now, now, now},
				TopDomains:   []string{"a", "b"},
			},
			members: []uuid.UUID{uuid.New(), uuid.New()},
		},
		{
			input: score.Input{
				FlashpointID: coldID,
				ClusterID:    1,
				Summary:      "Single-source cluster.",
				MemberCount:  1,
				Domains:      []string{"z"},
				Languages:    []string{"en"},
			},
			members: []uuid.UUID{uuid.New()},
		},
	}

	mock.ExpectExec(`UPDATE feed_entry_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "flash_point_20251103"`)).
		WithArgs(hotID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "description"}).
			AddRow(hotID.String(), "Border Region", "desc"))

	if err := r.scoreStage(context.Background(), rs, clusters); err != nil {
		t.Fatalf("scoreStage: %v", err)
	}
	if len(dispatcher.alerts) != 1 {
		t.Fatalf("dispatched %d alerts, want 1", len(dispatcher.alerts))
	}
	a := dispatcher.alerts[0]
	if a.FlashpointID != hotID || a.FlashpointTitle != "Border Region" {
		t.Errorf("alert = %+v", a)
	}
	if a.RunID != "run_test" || a.ArticleCount != 12 {
		t.Errorf("alert = %+v", a)
	}
	if got := rs.stats.AlertsSent.Load(); got != 1 {
		t.Errorf("alerts_sent = %d, want 1", got)
	}
	expectationsMet(t, mock)
}

func TestScoreStageDispatchFailureIsNotFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Alert.TopK = 5
	r, mock := newTestRunner(t, cfg)
	r.alerts = &recordingDispatcher{err: errors.New("webhook down")}
	rs := newRunState(r)

	fpID := uuid.New()
	clusters := []scoredCluster{{
		input:   score.Input{FlashpointID: fpID, ClusterID: 1, MemberCount: 3, Domains: []string{"a"}},
		members: []uuid.UUID{uuid.New()},
	}}

	mock.ExpectExec(`UPDATE feed_entry_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "flash_point_20251103"`)).
		WithArgs(fpID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "description"}).
			AddRow(fpID.String(), "Region", ""))

	if err := r.scoreStage(context.Background(), rs, clusters); err != nil {
		t.Fatalf("scoreStage: %v", err)
	}
	if got := rs.stats.AlertsSent.Load(); got != 0 {
		t.Errorf("alerts_sent = %d, want 0", got)
	}
	expectationsMet(t, mock)
}

func TestBuildClustersRanking(t *testing.T) {
	fpID := uuid.New()
	clusterA := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000")
	clusterB := uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000000")
	clusterC := uuid.MustParse("cccccccc-0000-0000-0000-000000000000")

	id := func(last byte) uuid.UUID {
		var u uuid.UUID
		u[15] = last
		return u
	}
	seen := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

	// A and B both have two members; A holds the smaller entry id and
	// must outrank B. C has one member and ranks last.
	members := []store.MemberArticle{
		{ClusterUUID: clusterB, FeedEntryID: id(0x02), Similarity: 1, Title: "b1"},
		{ClusterUUID: clusterA, FeedEntryID: id(0x03), Similarity: 1, Title: "a1", TitleEN: "a1 en"},
		{ClusterUUID: clusterC, FeedEntryID: id(0x05), Similarity: 1, Title: "c1"},
		{
			ClusterUUID: clusterA, FeedEntryID: id(0x01), Similarity: 0.9,
			Title: "a2", Summary: "stored stub", Language: "es",
			ImagesJSON: `["https://a/1.png"]`, SeenDate: &seen,
		},
		{ClusterUUID: clusterB, FeedEntryID: id(0x04), Similarity: 0.8, Title: "b2"},
	}

	clusters := buildClusters(fpID, members)
	if len(clusters) != 3 {
		t.Fatalf("got %d clusters", len(clusters))
	}

	wantOrder := []uuid.UUID{clusterA, clusterB, clusterC}
	for i, want := range wantOrder {
		if clusters[i].ClusterUUID != want {
			t.Errorf("rank %d = %v, want %v", i+1, clusters[i].ClusterUUID, want)
		}
		if clusters[i].ClusterID != i+1 {
			t.Errorf("cluster_id = %d, want dense rank %d", clusters[i].ClusterID, i+1)
		}
		if clusters[i].FlashpointID != fpID {
			t.Errorf("flashpoint_id = %v", clusters[i].FlashpointID)
		}
	}

	a := clusters[0]
	if len(a.Articles) != 2 {
		t.Fatalf("cluster A has %d articles", len(a.Articles))
	}
	// Translated title wins; members keep their query order.
	if a.Articles[0].Title != "a1 en" {
		t.Errorf("title = %q, want translated", a.Articles[0].Title)
	}
	second := a.Articles[1]
	if second.Stub != "stored stub" || second.Lang != "es" {
		t.Errorf("article = %+v", second)
	}
	if len(second.Images) != 1 || second.Images[0] != "https://a/1.png" {
		t.Errorf("images = %v", second.Images)
	}
	if second.SeenAt == nil || !second.SeenAt.Equal(seen) {
		t.Errorf("seen_at = %v", second.SeenAt)
	}
	if second.Similarity != 0.9 {
		t.Errorf("similarity = %v", second.Similarity)
	}
}

func TestEntryIDsOf(t *testing.T) {
	entries := []types.Entry{{ID: uuid.New()}, {ID: uuid.New()}}
	ids := entryIDsOf(entries)
	if len(ids) != 2 || ids[0] != entries[0].ID || ids[1] != entries[1].ID {
		t.Errorf("ids = %v", ids)
	}
}

func TestRound2(t *testing.T) {
	if got := round2(1.23456); got != 1.23 {
		t.Errorf("round2 = %v", got)
	}
	if got := round2(0.005); got != 0.01 {
		t.Errorf("round2 = %v", got)
	}
}
