// Package score ranks story clusters by hotspot intensity. Each component
// is normalized to [0,1] on a log scale so a handful of extra articles
// matters early and saturates late, then combined with configured weights.
package score

import (
	"bytes"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/masx-gsgi/flashpipe/internal/config"
)

// Saturation points for the log-scaled components.
const (
	memberSaturation   = 100
	domainSaturation   = 19
	languageSaturation = 9
)

// Components are the normalized score inputs, each in [0,1].
type Components struct {
	MemberCount       float64 `json:"member_count"`
	DomainDiversity   float64 `json:"domain_diversity"`
	LanguageDiversity float64 `json:"language_diversity"`
	Burstiness        float64 `json:"burstiness"`
}

// Input describes one summarized cluster to score.
type Input struct {
	FlashpointID uuid.UUID
	ClusterID    int
	Summary      string
	MemberCount  int
	Domains      []string
	Languages    []string
	SeenDates    []time.Time
	TopDomains   []string
}

// Hotspot is one scored cluster.
type Hotspot struct {
	FlashpointID uuid.UUID
	ClusterID    int
	Summary      string
	ArticleCount int
	TopDomains   []string
	Score        float64
	Components   Components
	Flagged      bool
}

// Scorer computes hotspot scores with configured weights.
type Scorer struct {
	weights config.ScoreConfig
	logger  *slog.Logger
}

// New creates a scorer.
func New(cfg *config.ScoreConfig, logger *slog.Logger) *Scorer {
	return &Scorer{weights: *cfg, logger: logger.With("component", "score")}
}

// Score computes the weighted hotspot score for one cluster.
func (s *Scorer) Score(in Input) Hotspot {
	comp := Components{
		MemberCount:       logScaled(in.MemberCount, memberSaturation),
		DomainDiversity:   logScaled(uniqueCount(in.Domains), domainSaturation),
		LanguageDiversity: logScaled(uniqueCount(in.Languages), languageSaturation),
		Burstiness:        burstiness(in.MemberCount, in.SeenDates),
	}
	total := s.weights.WeightMemberCount*comp.MemberCount +
		s.weights.WeightDomainDiversity*comp.DomainDiversity +
		s.weights.WeightLanguageDiversity*comp.LanguageDiversity +
		s.weights.WeightBurstiness*comp.Burstiness
	return Hotspot{
		FlashpointID: in.FlashpointID,
		ClusterID:    in.ClusterID,
		Summary:      in.Summary,
		ArticleCount: in.MemberCount,
		TopDomains:   in.TopDomains,
		Score:        round4(total),
		Components:   comp,
	}
}

// Rank scores every cluster, orders them by score, and flags the top K.
func (s *Scorer) Rank(inputs []Input, topK int) []Hotspot {
	out := make([]Hotspot, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, s.Score(in))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if c := bytes.Compare(out[i].FlashpointID[:], out[j].FlashpointID[:]); c != 0 {
			return c < 0
		}
		return out[i].ClusterID < out[j].ClusterID
	})
	for i := range out {
		out[i].Flagged = i < topK
	}
	if len(out) > 0 {
		s.logger.Info("clusters scored",
			"clusters", len(out),
			"flagged", minInt(topK, len(out)),
			"top_score", out[0].Score)
	}
	return out
}

// logScaled maps n onto [0,1] as log2(n+1)/log2(saturation+1), capped
// at 1 once n reaches the saturation point.
func logScaled(n, saturation int) float64 {
	if n <= 0 {
		return 0
	}
	v := math.Log2(float64(n)+1) / math.Log2(float64(saturation)+1)
	if v > 1 {
		return 1
	}
	return v
}

// burstiness is the share of member seen-dates in the busiest one-hour
// bucket. A single-member cluster is maximally bursty; clusters without
// any dates score zero.
func burstiness(memberCount int, dates []time.Time) float64 {
	if memberCount == 1 {
		return 1
	}
	if len(dates) == 0 {
		return 0
	}
	buckets := make(map[int64]int, len(dates))
	peak := 0
	for _, d := range dates {
		b := d.UTC().Unix() / 3600
		buckets[b]++
		if buckets[b] > peak {
			peak = buckets[b]
		}
	}
	return float64(peak) / float64(len(dates))
}

func uniqueCount(values []string) int {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		seen[v] = struct{}{}
	}
	return len(seen)
}

// round4 matches the persisted 4-decimal precision.
func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
