package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/masx-gsgi/flashpipe/internal/types"
)

// Base names of the date-partitioned tables.
const (
	baseFeedEntries  = "feed_entries"
	baseFlashPoint   = "flash_point"
	baseNewsClusters = "news_clusters"
)

// identRE is the whitelist for identifiers interpolated into SQL text.
var identRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// dateSuffixRE extracts the YYYYMMDD suffix of a partitioned table name.
var dateSuffixRE = regexp.MustCompile(`_(\d{8})$`)

// Tables holds the resolved physical table names for one target date.
// Input tables (FeedEntries, FlashPoint) must exist; NewsClusters is the
// output table and is created on demand.
type Tables struct {
	FeedEntries  string
	FlashPoint   string
	NewsClusters string
	TargetDate   time.Time
}

// DatedName builds "<base>_YYYYMMDD".
func DatedName(base string, day time.Time) string {
	return fmt.Sprintf("%s_%s", base, day.UTC().Format("20060102"))
}

// TablesFor resolves the three partitioned table names for a target date.
func TablesFor(day time.Time) Tables {
	return Tables{
		FeedEntries:  DatedName(baseFeedEntries, day),
		FlashPoint:   DatedName(baseFlashPoint, day),
		NewsClusters: DatedName(baseNewsClusters, day),
		TargetDate:   day.UTC(),
	}
}

// DateString returns the target date as YYYY-MM-DD, the format stored in
// processing_runs.target_date.
func (t Tables) DateString() string { return t.TargetDate.UTC().Format("2006-01-02") }

// quoteIdent validates an identifier against the whitelist and wraps it in
// double quotes for interpolation.
func quoteIdent(name string) (string, error) {
	if !identRE.MatchString(name) {
		return "", fmt.Errorf("%w: %q", types.ErrBadIdentifier, name)
	}
	return `"` + name + `"`, nil
}

// dateOfTable parses the date suffix of a partitioned table name.
func dateOfTable(name string) (time.Time, bool) {
	m := dateSuffixRE.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	day, err := time.Parse("20060102", m[1])
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// LatestFeedDate returns the most recent date for which a feed_entries
// partition exists. Tables with "duplicate" in the name are backups left
// by upstream tooling and are skipped.
func (s *Store) LatestFeedDate(ctx context.Context) (time.Time, error) {
	var names []string
	err := s.namedSelect(ctx, &names, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		  AND tablename LIKE :pattern
		  AND tablename NOT LIKE '%duplicate%'
		ORDER BY tablename DESC`,
		map[string]any{"pattern": baseFeedEntries + "_%"})
	if err != nil {
		return time.Time{}, &types.StoreError{Op: "latest_feed_date", Err: err}
	}
	for _, name := range names {
		if day, ok := dateOfTable(name); ok {
			return day, nil
		}
	}
	return time.Time{}, fmt.Errorf("no feed_entries partitions found: %w", types.ErrTableMissing)
}

// VerifyInputTables checks that the input partitions for the target date
// exist. The output table is not checked here; EnsureOutputTable creates it.
func (s *Store) VerifyInputTables(ctx context.Context, t Tables) error {
	for _, name := range []string{t.FeedEntries, t.FlashPoint} {
		var exists bool
		err := s.namedGet(ctx, &exists, `
			SELECT EXISTS (
				SELECT 1 FROM pg_tables
				WHERE schemaname = 'public' AND tablename = :name
			)`, map[string]any{"name": name})
		if err != nil {
			return &types.StoreError{Op: "verify_input_tables", Err: err}
		}
		if !exists {
			return fmt.Errorf("input table %q missing for %s: %w",
				name, t.DateString(), types.ErrTableMissing)
		}
	}
	return nil
}

// EnsureOutputTable creates the dated news_clusters table if it does not
// exist yet.
func (s *Store) EnsureOutputTable(ctx context.Context, t Tables) error {
	table, err := quoteIdent(t.NewsClusters)
	if err != nil {
		return err
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			flashpoint_id uuid NOT NULL,
			cluster_id integer NOT NULL,
			summary text NOT NULL,
			article_count integer NOT NULL,
			top_domains jsonb DEFAULT '[]'::jsonb,
			languages jsonb DEFAULT '[]'::jsonb,
			urls jsonb DEFAULT '[]'::jsonb,
			images jsonb DEFAULT '[]'::jsonb,
			created_at timestamptz DEFAULT CURRENT_TIMESTAMP
		)`, table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return &types.StoreError{Op: "ensure_output_table", Err: err}
	}
	return nil
}
