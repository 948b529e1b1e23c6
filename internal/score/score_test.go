package score

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/masx-gsgi/flashpipe/internal/config"
)

func testScorer() *Scorer {
	cfg := config.DefaultConfig()
	return New(&cfg.Score, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func almost(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestLogScaled(t *testing.T) {
	tests := []struct {
		n, saturation int
		want          float64
	}{
		{0, 100, 0},
		{-3, 100, 0},
		{1, 100, math.Log2(2) / math.Log2(101)},
		{100, 100, 1},
		{5000, 100, 1},
		{19, 19, 1},
		{9, 9, 1},
	}
	for _, tt := range tests {
		if got := logScaled(tt.n, tt.saturation); !almost(got, tt.want) {
			t.Errorf("logScaled(%d, %d) = %v, want %v", tt.n, tt.saturation, got, tt.want)
		}
	}
}

func TestBurstiness(t *testing.T) {
	base := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		memberCount int
		dates       []time.Time
		want        float64
	}{
		{"single member is maximally bursty", 1, nil, 1},
		{"no dates scores zero", 4, nil, 0},
		{"all in one hour", 3, []time.Time{
			base, base.Add(10 * time.Minute), base.Add(50 * time.Minute),
		}, 1},
		{"spread across hours", 4, []time.Time{
			base, base.Add(2 * time.Hour), base.Add(5 * time.Hour), base.Add(9 * time.Hour),
		}, 0.25},
		{"peak bucket share", 4, []time.Time{
			base, base.Add(5 * time.Minute), base.Add(20 * time.Minute), base.Add(3 * time.Hour),
		}, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := burstiness(tt.memberCount, tt.dates); !almost(got, tt.want) {
				t.Errorf("burstiness = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreWeightsAndRounding(t *testing.T) {
	s := testScorer()
	base := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

	// A saturated cluster scores exactly 1.0 with the default weights.
	dates := make([]time.Time, 100)
	domains := make([]string, 0, 19)
	langs := []string{"en", "fr", "de", "es", "ru", "ar", "zh", "pt", "tr"}
	for i := range dates {
		dates[i] = base.Add(time.Duration(i) * time.Second)
	}
	for i := 0; i < 19; i++ {
		domains = append(domains, string(rune('a'+i))+".example.com")
	}
	h := s.Score(Input{
		FlashpointID: uuid.New(),
		ClusterID:    1,
		MemberCount:  100,
		Domains:      domains,
		Languages:    langs,
		SeenDates:    dates,
	})
	if h.Score != 1.0 {
		t.Errorf("saturated score = %v, want 1.0", h.Score)
	}
	if h.Components.MemberCount != 1 || h.Components.DomainDiversity != 1 ||
		h.Components.LanguageDiversity != 1 || h.Components.Burstiness != 1 {
		t.Errorf("components not saturated: %+v", h.Components)
	}

	// An empty cluster scores zero.
	if got := s.Score(Input{MemberCount: 0}).Score; got != 0 {
		t.Errorf("empty score = %v, want 0", got)
	}

	// Scores carry four decimals.
	h = s.Score(Input{MemberCount: 3, Domains: []string{"a.com", "b.com"}, Languages: []string{"en"}})
	if h.Score != round4(h.Score) {
		t.Errorf("score %v not rounded to 4 decimals", h.Score)
	}
}

func TestUniqueCountNormalizes(t *testing.T) {
	got := uniqueCount([]string{"BBC.com", "bbc.com", " bbc.com ", "", "cnn.com"})
	if got != 2 {
		t.Errorf("uniqueCount = %d, want 2", got)
	}
}

func TestRankFlagsTopK(t *testing.T) {
	s := testScorer()
	inputs := []Input{
		{FlashpointID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), ClusterID: 1, MemberCount: 2},
		{FlashpointID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), ClusterID: 2, MemberCount: 40,
			Domains: []string{"a.com", "b.com", "c.com"}, Languages: []string{"en", "fr"}},
		{FlashpointID: uuid.MustParse("22222222-2222-2222-2222-222222222222"), ClusterID: 1, MemberCount: 9,
			Domains: []string{"a.com", "b.com"}, Languages: []string{"en"}},
	}
	out := s.Rank(inputs, 2)
	if len(out) != 3 {
		t.Fatalf("got %d hotspots", len(out))
	}
	if out[0].ArticleCount != 40 {
		t.Errorf("top hotspot has %d articles, want 40", out[0].ArticleCount)
	}
	if !out[0].Flagged || !out[1].Flagged || out[2].Flagged {
		t.Errorf("flags = %v,%v,%v, want true,true,false",
			out[0].Flagged, out[1].Flagged, out[2].Flagged)
	}

	// No flags when topK is zero.
	for _, h := range s.Rank(inputs, 0) {
		if h.Flagged {
			t.Error("flagged with topK=0")
		}
	}
}

func TestRankDeterministicTieBreak(t *testing.T) {
	s := testScorer()
	fpA := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	fpB := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	inputs := []Input{
		{FlashpointID: fpB, ClusterID: 1, MemberCount: 5},
		{FlashpointID: fpA, ClusterID: 2, MemberCount: 5},
		{FlashpointID: fpA, ClusterID: 1, MemberCount: 5},
	}
	out := s.Rank(inputs, 1)
	if out[0].FlashpointID != fpA || out[0].ClusterID != 1 {
		t.Errorf("tie-break order wrong: got %s #%d first", out[0].FlashpointID, out[0].ClusterID)
	}
	if out[2].FlashpointID != fpB {
		t.Errorf("tie-break order wrong: got %s last", out[2].FlashpointID)
	}
}
