// Package summarize produces cluster summaries in two stages. Stage one
// compresses each member article locally into a short extractive stub.
// Stage two, on the oracle tier, hands the stubs of a whole cluster to an
// LLM provider for one synthesized English summary; lower tiers and oracle
// failures fall back to a cluster-level extractive summary built from the
// same material.
package summarize

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Article is one cluster member prepared for summarization. Articles are
// ordered by similarity to the cluster centroid, best first.
type Article struct {
	ID          uuid.UUID
	Lang        string
	Title       string
	Content     string
	Description string
	// Stub is the stage-one extractive summary; empty until filled by
	// LocalPool or loaded from the entry's summary column.
	Stub       string
	URL        string
	Domain     string
	Hostname   string
	Image      string
	Images     []string
	Similarity float32
	// SeenAt is the entry's seendate, carried through for scoring.
	SeenAt *time.Time
}

// BestText is the raw material for extractive passes: content first,
// description when extraction produced nothing.
func (a *Article) BestText() string {
	if strings.TrimSpace(a.Content) != "" {
		return a.Content
	}
	return a.Description
}

// Cluster is one story cluster queued for a summary.
type Cluster struct {
	FlashpointID uuid.UUID
	ClusterUUID  uuid.UUID
	ClusterID    int
	Articles     []Article
}

// Cluster-level extractive limits.
const (
	extractiveArticles  = 10
	extractiveSentences = 5
	extractivePerArt    = 2
	extractiveMinRunes  = 30
	titleFallbackCount  = 5
)

// Extractive builds the cluster summary without any model: the leading
// sentences of the highest-similarity members, with member titles as the
// last resort. Never returns empty output for a non-empty cluster with
// any text or title.
func Extractive(c *Cluster) string {
	var sentences []string
	seen := make(map[string]struct{})

	for i := range c.Articles {
		if i >= extractiveArticles || len(sentences) >= extractiveSentences {
			break
		}
		taken := 0
		for _, sent := range SplitSentences(c.Articles[i].BestText()) {
			if taken >= extractivePerArt || len(sentences) >= extractiveSentences {
				break
			}
			if utf8.RuneCountInString(sent) <= extractiveMinRunes {
				continue
			}
			if _, ok := seen[sent]; ok {
				continue
			}
			seen[sent] = struct{}{}
			sentences = append(sentences, sent)
			taken++
		}
	}

	if len(sentences) == 0 {
		for i := range c.Articles {
			if i >= titleFallbackCount {
				break
			}
			if t := strings.TrimSpace(c.Articles[i].Title); t != "" {
				sentences = append(sentences, t)
			}
		}
	}
	return strings.Join(sentences, " ")
}

// Fallback is the summary used when the oracle is unavailable or
// exhausted: the extractive cluster summary, then the longest stage-one
// stub, then whatever title survives.
func Fallback(c *Cluster) string {
	if s := Extractive(c); s != "" {
		return s
	}
	longest := ""
	for i := range c.Articles {
		if len(c.Articles[i].Stub) > len(longest) {
			longest = c.Articles[i].Stub
		}
	}
	return strings.TrimSpace(longest)
}

// Metadata is the aggregate block persisted with each cluster row.
type Metadata struct {
	TopDomains []string
	Languages  []string
	URLs       []string
	Images     []string
}

// Aggregation caps matching the output row shape.
const (
	maxTopDomains = 10
	maxURLs       = 50
	maxImages     = 20
)

// AggregateMetadata folds member fields into the output row: domains
// ranked by article count, languages sorted, urls and images capped.
func AggregateMetadata(articles []Article) Metadata {
	domainCounts := make(map[string]int)
	langSet := make(map[string]struct{})
	urls := make([]string, 0, len(articles))
	images := make([]string, 0, len(articles))
	imageSeen := make(map[string]struct{})

	for i := range articles {
		a := &articles[i]
		domain := a.Domain
		if domain == "" {
			domain = a.Hostname
		}
		if domain != "" {
			domainCounts[domain]++
		}
		if a.Lang != "" {
			langSet[a.Lang] = struct{}{}
		}
		if a.URL != "" {
			urls = append(urls, a.URL)
		}
		if a.Image != "" {
			if _, ok := imageSeen[a.Image]; !ok {
				imageSeen[a.Image] = struct{}{}
				images = append(images, a.Image)
			}
		}
		for _, img := range a.Images {
			if img == "" {
				continue
			}
			if _, ok := imageSeen[img]; ok {
				continue
			}
			imageSeen[img] = struct{}{}
			images = append(images, img)
		}
	}

	domains := make([]string, 0, len(domainCounts))
	for d := range domainCounts {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool {
		if domainCounts[domains[i]] != domainCounts[domains[j]] {
			return domainCounts[domains[i]] > domainCounts[domains[j]]
		}
		return domains[i] < domains[j]
	})

	langs := make([]string, 0, len(langSet))
	for l := range langSet {
		langs = append(langs, l)
	}
	sort.Strings(langs)

	return Metadata{
		TopDomains: capSlice(domains, maxTopDomains),
		Languages:  langs,
		URLs:       capSlice(urls, maxURLs),
		Images:     capSlice(images, maxImages),
	}
}

// PremiumCount sizes the premium re-summarization pass: the top share of
// clusters by member count, at least one when the pass is enabled and any
// cluster exists.
func PremiumCount(n int, pct float64) int {
	if n == 0 || pct <= 0 {
		return 0
	}
	c := int(float64(n) * pct)
	if c < 1 {
		c = 1
	}
	if c > n {
		c = n
	}
	return c
}

// SelectPremium returns the indexes of the clusters picked for the
// premium pass, largest member counts first, deterministic on ties.
func SelectPremium(clusters []*Cluster, pct float64) []int {
	count := PremiumCount(len(clusters), pct)
	if count == 0 {
		return nil
	}
	idx := make([]int, len(clusters))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ca, cb := clusters[idx[a]], clusters[idx[b]]
		if len(ca.Articles) != len(cb.Articles) {
			return len(ca.Articles) > len(cb.Articles)
		}
		return idx[a] < idx[b]
	})
	return idx[:count]
}

func capSlice(s []string, max int) []string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

func truncateRunes(s string, max int) string {
	if r := []rune(s); len(r) > max {
		return strings.TrimSpace(string(r[:max]))
	}
	return s
}
