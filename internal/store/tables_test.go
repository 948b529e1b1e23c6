package store

import (
	"errors"
	"testing"
	"time"

	"github.com/masx-gsgi/flashpipe/internal/types"
)

func TestTablesFor(t *testing.T) {
	day := time.Date(2025, 11, 3, 14, 25, 30, 0, time.UTC)
	tables := TablesFor(day)

	if tables.FeedEntries != "feed_entries_20251103" {
		t.Errorf("FeedEntries = %q", tables.FeedEntries)
	}
	if tables.FlashPoint != "flash_point_20251103" {
		t.Errorf("FlashPoint = %q", tables.FlashPoint)
	}
	if tables.NewsClusters != "news_clusters_20251103" {
		t.Errorf("NewsClusters = %q", tables.NewsClusters)
	}
	if got := tables.DateString(); got != "2025-11-03" {
		t.Errorf("DateString() = %q, want 2025-11-03", got)
	}
}

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		name    string
		ident   string
		want    string
		wantErr bool
	}{
		{"dated table", "feed_entries_20251103", `"feed_entries_20251103"`, false},
		{"plain", "processing_runs", `"processing_runs"`, false},
		{"empty", "", "", true},
		{"semicolon", "feed_entries;drop table x", "", true},
		{"quote escape", `feed"entries`, "", true},
		{"space", "feed entries", "", true},
		{"hyphen", "feed-entries", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := quoteIdent(tt.ident)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("quoteIdent(%q) expected error, got %q", tt.ident, got)
				}
				if !errors.Is(err, types.ErrBadIdentifier) {
					t.Errorf("error = %v, want ErrBadIdentifier", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("quoteIdent(%q): %v", tt.ident, err)
			}
			if got != tt.want {
				t.Errorf("quoteIdent(%q) = %q, want %q", tt.ident, got, tt.want)
			}
		})
	}
}

func TestDateOfTable(t *testing.T) {
	day, ok := dateOfTable("feed_entries_20251103")
	if !ok {
		t.Fatal("expected date suffix to parse")
	}
	if day.Format("2006-01-02") != "2025-11-03" {
		t.Errorf("parsed %v", day)
	}

	if _, ok := dateOfTable("feed_entries"); ok {
		t.Error("bare name should not parse")
	}
	if _, ok := dateOfTable("feed_entries_2025"); ok {
		t.Error("short suffix should not parse")
	}
	if _, ok := dateOfTable("feed_entries_99999999"); ok {
		t.Error("impossible date should not parse")
	}
}

func TestTextArrayLiteral(t *testing.T) {
	tests := []struct {
		name  string
		items []string
		want  string
	}{
		{"empty", nil, "{}"},
		{"single", []string{"https://a.example/img.png"}, `{"https://a.example/img.png"}`},
		{"multiple", []string{"a", "b"}, `{"a","b"}`},
		{"quotes escaped", []string{`say "hi"`}, `{"say \"hi\""}`},
		{"backslash escaped", []string{`c:\tmp`}, `{"c:\\tmp"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := textArrayLiteral(tt.items); got != tt.want {
				t.Errorf("textArrayLiteral(%v) = %s, want %s", tt.items, got, tt.want)
			}
		})
	}
}
