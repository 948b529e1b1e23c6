package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/masx-gsgi/flashpipe/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlmock"), GzipCodec{}, testLogger()), mock
}

func testTables() Tables {
	return TablesFor(time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC))
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGzipCodecRoundTrip(t *testing.T) {
	text := "Ceasefire talks resumed in the border region on Monday."
	encoded, err := GzipCodec{}.Encode(text)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if encoded == "" || encoded == text {
		t.Fatalf("Encode produced %q", encoded)
	}
	// gzip magic bytes 1f 8b 08 encode to this base64 prefix
	if !strings.HasPrefix(encoded, "H4sI") {
		t.Errorf("encoded content missing gzip prefix: %q", encoded[:8])
	}
	decoded, err := GzipCodec{}.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != text {
		t.Errorf("round trip produced %q", decoded)
	}
}

func TestNoneCodecWritesNothing(t *testing.T) {
	encoded, err := NoneCodec{}.Encode("anything")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if encoded != "" {
		t.Errorf("none codec encoded %q, want empty", encoded)
	}
}

func TestNewCodec(t *testing.T) {
	if c, err := NewCodec(""); err != nil || c.Name() != "gzip" {
		t.Errorf("NewCodec(\"\") = %v, %v", c, err)
	}
	if c, err := NewCodec("none"); err != nil || c.Name() != "none" {
		t.Errorf("NewCodec(none) = %v, %v", c, err)
	}
	if _, err := NewCodec("zstd"); err == nil {
		t.Error("unknown codec accepted")
	}
}

func TestSelectUnprocessed(t *testing.T) {
	s, mock := newMockStore(t)
	tables := testTables()

	entryID := uuid.New()
	fpID := uuid.New()
	seen := time.Date(2025, 11, 3, 8, 30, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "flashpoint_id", "url", "title", "title_en", "seendate",
		"domain", "language", "sourcecountry", "description", "image",
		"hostname", "content", "summary",
	}).AddRow(
		entryID.String(), fpID.String(), "https://news.example/a", "Talks resume", "",
		seen, "news.example", "es", "ES", "desc", "", "", "", "",
	)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "feed_entries_20251103" fe`)).
		WithArgs(10000).
		WillReturnRows(rows)

	entries, err := s.SelectUnprocessed(context.Background(), tables, 10000)
	if err != nil {
		t.Fatalf("SelectUnprocessed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	e := entries[0]
	if e.ID != entryID {
		t.Errorf("id = %v, want %v", e.ID, entryID)
	}
	if e.FlashpointID == nil || *e.FlashpointID != fpID {
		t.Errorf("flashpoint_id = %v, want %v", e.FlashpointID, fpID)
	}
	if e.SeenDate == nil || !e.SeenDate.Equal(seen) {
		t.Errorf("seendate = %v", e.SeenDate)
	}
	expectationsMet(t, mock)
}

func TestUpdateEnrichmentDynamicSet(t *testing.T) {
	s, mock := newMockStore(t)
	tables := testTables()
	entryID := uuid.New()

	content := "Article body text for the write-back."
	titleEN := "Talks resume"
	e := &types.Enrichment{
		Content: &content,
		TitleEN: &titleEN,
		Images:  []string{"https://a/img.png"},
	}

	mock.ExpectExec(`UPDATE "feed_entries_20251103" SET content = \?, compressed_content = \?, title_en = \?, images = CAST\(\? AS text\[\]\), updated_at = \? WHERE id = \?`).
		WithArgs(content, sqlmock.AnyArg(), titleEN, `{"https://a/img.png"}`, sqlmock.AnyArg(), entryID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpdateEnrichment(context.Background(), tables, entryID, e); err != nil {
		t.Fatalf("UpdateEnrichment: %v", err)
	}
	expectationsMet(t, mock)
}

func TestUpdateEnrichmentNoFieldsIsNoop(t *testing.T) {
	s, mock := newMockStore(t)
	if err := s.UpdateEnrichment(context.Background(), testTables(), uuid.New(), &types.Enrichment{}); err != nil {
		t.Fatalf("UpdateEnrichment: %v", err)
	}
	expectationsMet(t, mock)
}

func TestUpdateEnrichmentEntitiesUseJSONBCast(t *testing.T) {
	s, mock := newMockStore(t)
	entryID := uuid.New()

	ents := &types.EntitySet{
		Categories: map[string][]types.EntityMention{
			"GPE": {{Text: "Sudan", Score: 0.97}},
		},
		Meta: types.EntityMeta{Chars: 120, Model: "heuristic-v1", Score: 0.97, Chunks: 1},
	}

	mock.ExpectExec(`SET entities = CAST\(\? AS jsonb\), updated_at = \?`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), entryID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpdateEnrichment(context.Background(), testTables(), entryID, &types.Enrichment{Entities: ents})
	if err != nil {
		t.Fatalf("UpdateEnrichment: %v", err)
	}
	expectationsMet(t, mock)
}

func TestClaimJobs(t *testing.T) {
	s, mock := newMockStore(t)
	runID := "run_20251103_080000_deadbeef"
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	mock.ExpectExec(`INSERT INTO feed_entry_jobs \(feed_entry_id, run_id, status\)\s+VALUES \(\?, \?, \?\),\(\?, \?, \?\),\(\?, \?, \?\)\s+ON CONFLICT \(feed_entry_id, run_id\) DO NOTHING`).
		WithArgs(
			ids[0], runID, "queued",
			ids[1], runID, "queued",
			ids[2], runID, "queued",
		).
		WillReturnResult(sqlmock.NewResult(0, 2)) // one already claimed

	claimed, err := s.ClaimJobs(context.Background(), runID, ids)
	if err != nil {
		t.Fatalf("ClaimJobs: %v", err)
	}
	if claimed != 2 {
		t.Errorf("claimed = %d, want 2", claimed)
	}
	expectationsMet(t, mock)
}

func TestCompleteIngestJob(t *testing.T) {
	s, mock := newMockStore(t)
	dup := uuid.New()
	job := &types.Job{
		FeedEntryID:      uuid.New(),
		RunID:            "run_x",
		Status:           types.JobSkippedDuplicate,
		ExtractionMethod: "trafilatura",
		ExtractionChars:  1840,
		ContentHash:      "abc123",
		MinhashSig:       "c2ln",
		IsDuplicate:      true,
		DuplicateOf:      &dup,
		FetchDurationMS:  412,
		ExtractDurMS:     71,
	}

	mock.ExpectExec(`UPDATE feed_entry_jobs`).
		WithArgs(
			"skipped_duplicate", "trafilatura", 1840, "abc123", "c2ln",
			true, dup, 412, 71, sqlmock.AnyArg(), job.FeedEntryID, "run_x",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CompleteIngestJob(context.Background(), job); err != nil {
		t.Fatalf("CompleteIngestJob: %v", err)
	}
	expectationsMet(t, mock)
}

func TestMarkJobFailedTruncatesError(t *testing.T) {
	s, mock := newMockStore(t)
	entryID := uuid.New()
	long := strings.Repeat("x", 3000)

	mock.ExpectExec(`UPDATE feed_entry_jobs`).
		WithArgs("failed", "timeout", strings.Repeat("x", 2000), sqlmock.AnyArg(), entryID, "run_x").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.MarkJobFailed(context.Background(), "run_x", entryID, types.ReasonTimeout, long)
	if err != nil {
		t.Fatalf("MarkJobFailed: %v", err)
	}
	expectationsMet(t, mock)
}

func TestRunStats(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) AS count`).
		WithArgs("run_x").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("deduped", 7).
			AddRow("failed", 2).
			AddRow("skipped_duplicate", 1))

	stats, err := s.RunStats(context.Background(), "run_x")
	if err != nil {
		t.Fatalf("RunStats: %v", err)
	}
	if stats[types.JobDeduped] != 7 || stats[types.JobFailed] != 2 || stats[types.JobSkippedDuplicate] != 1 {
		t.Errorf("stats = %v", stats)
	}
	expectationsMet(t, mock)
}

func TestSweepStaleRuns(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE processing_runs`).
		WithArgs("failed", sqlmock.AnyArg(), sqlmock.AnyArg(), "running", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.SweepStaleRuns(context.Background(), 2*time.Hour)
	if err != nil {
		t.Fatalf("SweepStaleRuns: %v", err)
	}
	if n != 2 {
		t.Errorf("swept = %d, want 2", n)
	}
	expectationsMet(t, mock)
}

func TestCompleteRunWritesMetricsJSON(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE processing_runs\s+SET status\s+= \?`).
		WithArgs("completed", 100, 90, 6, 4, 12, `{"tier":"B"}`, sqlmock.AnyArg(), "run_x").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CompleteRun(context.Background(), "run_x",
		RunCounters{Total: 100, Processed: 90, Failed: 6, DedupeSkipped: 4, ClustersCreated: 12},
		map[string]any{"tier": "B"})
	if err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	expectationsMet(t, mock)
}

func TestVerifyInputTablesMissing(t *testing.T) {
	s, mock := newMockStore(t)
	tables := testTables()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(tables.FeedEntries).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := s.VerifyInputTables(context.Background(), tables)
	if err == nil {
		t.Fatal("expected missing-table error")
	}
	if !errors.Is(err, types.ErrTableMissing) {
		t.Errorf("error = %v, want ErrTableMissing", err)
	}
	expectationsMet(t, mock)
}

func TestEnsureOutputTableRejectsBadName(t *testing.T) {
	s, mock := newMockStore(t)
	bad := testTables()
	bad.NewsClusters = `news_clusters";drop table x;--`

	err := s.EnsureOutputTable(context.Background(), bad)
	if !errors.Is(err, types.ErrBadIdentifier) {
		t.Errorf("error = %v, want ErrBadIdentifier", err)
	}
	expectationsMet(t, mock)
}

func TestLatestFeedDate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT tablename FROM pg_tables`).
		WithArgs("feed_entries_%").
		WillReturnRows(sqlmock.NewRows([]string{"tablename"}).
			AddRow("feed_entries_20251104").
			AddRow("feed_entries_20251103"))

	day, err := s.LatestFeedDate(context.Background())
	if err != nil {
		t.Fatalf("LatestFeedDate: %v", err)
	}
	if day.Format("20060102") != "20251104" {
		t.Errorf("latest = %v", day)
	}
	expectationsMet(t, mock)
}

func TestUpsertVectors(t *testing.T) {
	s, mock := newMockStore(t)
	rows := []VectorRow{
		{FeedEntryID: uuid.New(), Embedding: pgvector.NewVector([]float32{1, 0}), ModelName: "all-MiniLM-L6-v2"},
		{FeedEntryID: uuid.New(), Embedding: pgvector.NewVector([]float32{0, 1}), ModelName: "all-MiniLM-L6-v2"},
	}

	mock.ExpectBegin()
	for _, r := range rows {
		mock.ExpectExec(`INSERT INTO feed_entry_vectors`).
			WithArgs(r.FeedEntryID, r.Embedding, r.ModelName).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	if err := s.UpsertVectors(context.Background(), rows); err != nil {
		t.Fatalf("UpsertVectors: %v", err)
	}
	expectationsMet(t, mock)
}

func TestVectorsForFlashpoint(t *testing.T) {
	s, mock := newMockStore(t)
	tables := testTables()
	fpID := uuid.New()
	entryID := uuid.New()

	mock.ExpectQuery(`FROM feed_entry_vectors fev`).
		WithArgs(fpID, "run_x").
		WillReturnRows(sqlmock.NewRows([]string{"feed_entry_id", "embedding"}).
			AddRow(entryID.String(), "[0.6,0.8]"))

	ids, vecs, err := s.VectorsForFlashpoint(context.Background(), tables, "run_x", fpID)
	if err != nil {
		t.Fatalf("VectorsForFlashpoint: %v", err)
	}
	if len(ids) != 1 || ids[0] != entryID {
		t.Fatalf("ids = %v", ids)
	}
	if len(vecs) != 1 || len(vecs[0]) != 2 || vecs[0][0] != 0.6 {
		t.Errorf("vecs = %v", vecs)
	}
	expectationsMet(t, mock)
}

func TestWriteNewsCluster(t *testing.T) {
	s, mock := newMockStore(t)
	tables := testTables()
	nc := &types.NewsCluster{
		FlashpointID: uuid.New(),
		ClusterID:    1,
		Summary:      "Ceasefire talks resumed.",
		ArticleCount: 4,
		TopDomains:   []string{"news.example"},
		Languages:    []string{"en", "es"},
		URLs:         []string{"https://news.example/a"},
		Images:       nil,
	}

	mock.ExpectExec(`INSERT INTO "news_clusters_20251103"[\s\S]*CAST\(\? AS jsonb\), CAST\(\? AS jsonb\),\s+CAST\(\? AS jsonb\), CAST\(\? AS jsonb\)`).
		WithArgs(
			nc.FlashpointID, 1, nc.Summary, 4,
			`["news.example"]`, `["en","es"]`, `["https://news.example/a"]`, `[]`,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.WriteNewsCluster(context.Background(), tables, nc); err != nil {
		t.Fatalf("WriteNewsCluster: %v", err)
	}
	expectationsMet(t, mock)
}

func TestMembersForSummaryDecodesImages(t *testing.T) {
	s, mock := newMockStore(t)
	tables := testTables()
	fpID := uuid.New()
	clusterUUID := uuid.New()
	entryID := uuid.New()

	cols := []string{
		"cluster_uuid", "feed_entry_id", "similarity", "title", "title_en",
		"content", "description", "summary", "url", "domain", "hostname",
		"language", "image", "images", "seendate",
	}
	mock.ExpectQuery(`FROM cluster_members cm`).
		WithArgs(fpID, "run_x").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			clusterUUID.String(), entryID.String(), 0.91, "Title", "Title EN",
			"body", "desc", "stub", "https://a/x", "a", "a", "en", "",
			`["https://a/1.png","https://a/2.png"]`, time.Now().UTC(),
		))

	members, err := s.MembersForSummary(context.Background(), tables, "run_x", fpID)
	if err != nil {
		t.Fatalf("MembersForSummary: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("got %d members", len(members))
	}
	images := members[0].ImageList()
	if len(images) != 2 || images[0] != "https://a/1.png" {
		t.Errorf("images = %v", images)
	}
	expectationsMet(t, mock)
}

func TestInsertClusterMembers(t *testing.T) {
	s, mock := newMockStore(t)
	fpID := uuid.New()
	cu := uuid.New()
	members := []types.ClusterMember{
		{FlashpointID: fpID, ClusterUUID: cu, FeedEntryID: uuid.New(), RunID: "run_x", Similarity: 1},
		{FlashpointID: fpID, ClusterUUID: cu, FeedEntryID: uuid.New(), RunID: "run_x", Similarity: 0.88},
	}

	mock.ExpectExec(`INSERT INTO cluster_members[\s\S]*ON CONFLICT \(feed_entry_id, run_id\) DO NOTHING`).
		WithArgs(
			fpID, cu, members[0].FeedEntryID, "run_x", float32(1),
			fpID, cu, members[1].FeedEntryID, "run_x", float32(0.88),
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := s.InsertClusterMembers(context.Background(), members); err != nil {
		t.Fatalf("InsertClusterMembers: %v", err)
	}
	expectationsMet(t, mock)
}
