package summarize

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/masx-gsgi/flashpipe/internal/config"
)

const (
	// charsPerToken is the rough budget conversion used everywhere a
	// token cap meets character counts.
	charsPerToken = 4

	// passthroughRunes is the length under which an article skips
	// sentence scoring and passes straight into the budget.
	passthroughRunes = 1000
)

// LocalPool produces extractive article stubs on a bounded worker pool.
// The bound keeps stage-one CPU work from starving the fetch workers that
// share the process.
type LocalPool struct {
	sem       *semaphore.Weighted
	maxTokens int
	logger    *slog.Logger
}

// NewLocalPool sizes the pool from configuration.
func NewLocalPool(cfg *config.SummarizeConfig, logger *slog.Logger) *LocalPool {
	workers := cfg.LocalWorkers
	if workers <= 0 {
		workers = 1
	}
	maxTokens := cfg.MaxStubTokens
	if maxTokens <= 0 {
		maxTokens = 80
	}
	return &LocalPool{
		sem:       semaphore.NewWeighted(int64(workers)),
		maxTokens: maxTokens,
		logger:    logger.With("component", "local_summarizer"),
	}
}

// Stub computes one extractive stub, blocking for a pool slot.
func (p *LocalPool) Stub(ctx context.Context, title, content string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.sem.Release(1)
	return ExtractiveStub(title, content, p.maxTokens), nil
}

// Summarize fills the missing stubs of a cluster's articles in place.
// Articles that already carry a stored stub are left alone.
func (p *LocalPool) Summarize(ctx context.Context, articles []*Article) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range articles {
		if a.Stub != "" {
			continue
		}
		g.Go(func() error {
			if err := p.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer p.sem.Release(1)
			a.Stub = ExtractiveStub(a.Title, a.BestText(), p.maxTokens)
			return nil
		})
	}
	return g.Wait()
}

// Sentence scoring weights: early position, usable length, title overlap.
const (
	positionWeight = 0.45
	lengthWeight   = 0.25
	overlapWeight  = 0.30
	fullLengthAt   = 25 // words
)

// ExtractiveStub compresses one article into a stub of roughly maxTokens
// tokens: the highest-scoring sentences restitched in document order.
// Short articles pass through, clipped to the same budget. The result is
// deterministic for a given input.
func ExtractiveStub(title, content string, maxTokens int) string {
	budget := maxTokens * charsPerToken
	text := strings.TrimSpace(content)
	if text == "" {
		return ""
	}
	if utf8.RuneCountInString(text) < passthroughRunes {
		return truncateRunes(text, budget)
	}

	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return truncateRunes(text, budget)
	}

	titleWords := keywordSet(title)
	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, s := range sentences {
		ranked[i] = scored{i, sentenceScore(s, i, len(sentences), titleWords)}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	var picked []int
	used := 0
	for _, r := range ranked {
		n := utf8.RuneCountInString(sentences[r.idx])
		if len(picked) > 0 && used+n > budget {
			continue
		}
		picked = append(picked, r.idx)
		used += n + 1
		if used >= budget {
			break
		}
	}
	sort.Ints(picked)

	parts := make([]string, len(picked))
	for i, idx := range picked {
		parts[i] = sentences[idx]
	}
	return truncateRunes(strings.Join(parts, " "), budget)
}

// sentenceScore favors early, medium-length sentences that share
// vocabulary with the title.
func sentenceScore(sentence string, idx, total int, titleWords map[string]struct{}) float64 {
	position := 1.0 - float64(idx)/float64(total)

	words := keywords(sentence)
	length := float64(len(words)) / fullLengthAt
	if length > 1 {
		length = 1
	}

	overlap := 0.0
	if len(titleWords) > 0 {
		hits := 0
		for _, w := range words {
			if _, ok := titleWords[w]; ok {
				hits++
			}
		}
		overlap = float64(hits) / float64(len(titleWords))
		if overlap > 1 {
			overlap = 1
		}
	}

	return positionWeight*position + lengthWeight*length + overlapWeight*overlap
}

var sentenceEnd = regexp.MustCompile(`[.!?]+[)\]"']*\s+`)

// SplitSentences breaks text on terminal punctuation, keeping the
// delimiter with its sentence. Heuristic by design; abbreviations may
// split early.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	start := 0
	for _, b := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:b[1]]); s != "" {
			out = append(out, s)
		}
		start = b[1]
	}
	if start < len(text) {
		if s := strings.TrimSpace(text[start:]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// keywords lowercases and keeps words of three or more letters.
func keywords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') &&
			!(r >= 0x80) // keep non-ASCII letters intact
	})
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

func keywordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range keywords(s) {
		set[w] = struct{}{}
	}
	return set
}
