package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/masx-gsgi/flashpipe/internal/types"
)

// maxChunkChars bounds the text passed to a tagger in one call.
const maxChunkChars = 4000

// minNERChars is the text length under which tagging is skipped and an
// empty mapping recorded.
const minNERChars = 50

// mentionsPerCategory caps each category's surface forms.
const mentionsPerCategory = 20

// Mention is one raw tag emitted by an EntityTagger before merging.
type Mention struct {
	Category string
	Text     string
	Score    float64
}

// EntityTagger produces raw entity mentions for a chunk of text.
type EntityTagger interface {
	Model() string
	Tag(ctx context.Context, text string) ([]Mention, error)
}

// Entities runs the configured tagger over the article text and merges
// the output into the entities write-back payload.
type Entities struct {
	tagger EntityTagger
	logger *slog.Logger
}

// NewEntities creates the NER enricher.
func NewEntities(tagger EntityTagger, logger *slog.Logger) *Entities {
	return &Entities{tagger: tagger, logger: logger.With("component", "ner")}
}

func (e *Entities) Name() string { return "entities" }

func (e *Entities) Enrich(ctx context.Context, a *Article) error {
	set, err := TagEntities(ctx, e.tagger, a.Text)
	if err != nil {
		// Record the empty mapping so the column is never left dangling.
		a.Out.Entities = emptyEntitySet(a.Text, e.tagger.Model())
		return err
	}
	a.Out.Entities = set
	return nil
}

// TagEntities chunks the text, tags every chunk, and merges the raw
// mentions into the persisted entity schema.
func TagEntities(ctx context.Context, tagger EntityTagger, text string) (*types.EntitySet, error) {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < minNERChars {
		return emptyEntitySet(text, tagger.Model()), nil
	}

	chunks := chunkText(text, maxChunkChars)
	var raw []Mention
	for _, chunk := range chunks {
		mentions, err := tagger.Tag(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("tag chunk: %w", err)
		}
		raw = append(raw, mentions...)
	}

	set := mergeMentions(raw)
	set.Meta = types.EntityMeta{
		Chars:  utf8.RuneCountInString(text),
		Model:  tagger.Model(),
		Score:  averageScore(set.Categories),
		Chunks: len(chunks),
	}
	return set, nil
}

func emptyEntitySet(text, model string) *types.EntitySet {
	return &types.EntitySet{
		Categories: map[string][]types.EntityMention{},
		Meta: types.EntityMeta{
			Chars:  utf8.RuneCountInString(text),
			Model:  model,
			Score:  0,
			Chunks: 0,
		},
	}
}

// chunkText splits on paragraph boundaries first, then sentences, so no
// chunk exceeds max chars.
func chunkText(text string, max int) []string {
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		pLen := utf8.RuneCountInString(para)
		if utf8.RuneCountInString(current.String())+pLen+2 <= max {
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(para)
			continue
		}
		flush()
		if pLen <= max {
			current.WriteString(para)
			continue
		}
		// Oversized paragraph: split on sentence ends.
		for _, sent := range strings.Split(strings.ReplaceAll(para, ". ", ".\n"), "\n") {
			sLen := utf8.RuneCountInString(sent)
			if utf8.RuneCountInString(current.String())+sLen+1 <= max {
				if current.Len() > 0 {
					current.WriteString(" ")
				}
				current.WriteString(sent)
				continue
			}
			flush()
			if sLen > max {
				sent = truncateRunes(sent, max)
			}
			current.WriteString(sent)
		}
	}
	flush()

	if len(chunks) == 0 {
		return []string{truncateRunes(text, max)}
	}
	return chunks
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// mergeMentions deduplicates case-insensitively keeping the highest
// score, sorts score DESC then text ASC, and caps each category.
func mergeMentions(raw []Mention) *types.EntitySet {
	type keep struct {
		text  string
		score float64
	}
	byCategory := make(map[string]map[string]keep)

	for _, m := range raw {
		if !validCategory(m.Category) {
			continue
		}
		text := strings.TrimSpace(strings.ReplaceAll(m.Text, "##", ""))
		if utf8.RuneCountInString(text) < 2 {
			continue
		}
		key := strings.ToLower(text)
		bucket := byCategory[m.Category]
		if bucket == nil {
			bucket = make(map[string]keep)
			byCategory[m.Category] = bucket
		}
		if prev, ok := bucket[key]; !ok || m.Score > prev.score {
			bucket[key] = keep{text: text, score: m.Score}
		}
	}

	out := &types.EntitySet{Categories: make(map[string][]types.EntityMention)}
	for _, cat := range types.EntityCategories {
		bucket := byCategory[cat]
		mentions := make([]types.EntityMention, 0, len(bucket))
		for _, k := range bucket {
			text := k.text
			if cat == "PERSON" || cat == "GPE" || cat == "LOC" {
				text = titleCase(text)
			}
			mentions = append(mentions, types.EntityMention{
				Text:  text,
				Score: math.Round(k.score*10000) / 10000,
			})
		}
		sort.Slice(mentions, func(i, j int) bool {
			if mentions[i].Score != mentions[j].Score {
				return mentions[i].Score > mentions[j].Score
			}
			return mentions[i].Text < mentions[j].Text
		})
		if len(mentions) > mentionsPerCategory {
			mentions = mentions[:mentionsPerCategory]
		}
		out.Categories[cat] = mentions
	}
	return out
}

func validCategory(cat string) bool {
	for _, c := range types.EntityCategories {
		if c == cat {
			return true
		}
	}
	return false
}

func averageScore(categories map[string][]types.EntityMention) float64 {
	sum, n := 0.0, 0
	for _, mentions := range categories {
		for _, m := range mentions {
			sum += m.Score
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*10000) / 10000
}

// titleCase capitalizes the first letter of each word and lowers the
// rest, matching the upstream schema's casing.
func titleCase(s string) string {
	var sb strings.Builder
	startOfWord := true
	for _, r := range s {
		switch {
		case r == ' ' || r == '-' || r == '\'':
			startOfWord = true
			sb.WriteRune(r)
		case startOfWord:
			sb.WriteRune(toUpper(r))
			startOfWord = false
		default:
			sb.WriteRune(toLower(r))
		}
	}
	return sb.String()
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - 32
	}
	return r
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + 32
	}
	return r
}

// hfLabelMap converts aggregated transformer tags to schema categories.
var hfLabelMap = map[string]string{
	"PER":  "PERSON",
	"ORG":  "ORG",
	"LOC":  "LOC",
	"DATE": "DATE",
	"MISC": "EVENT",
}

// HTTPTagger calls a hosted token-classification service that returns
// aggregated mentions in the HuggingFace inference shape.
type HTTPTagger struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPTagger creates a service-backed tagger.
func NewHTTPTagger(endpoint, model string, logger *slog.Logger) *HTTPTagger {
	return &HTTPTagger{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With("component", "ner_http"),
	}
}

func (t *HTTPTagger) Model() string { return t.model }

func (t *HTTPTagger) Tag(ctx context.Context, text string) ([]Mention, error) {
	payload, err := json.Marshal(map[string]string{"inputs": text, "model": t.model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ner service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rows []struct {
		EntityGroup string  `json:"entity_group"`
		Word        string  `json:"word"`
		Score       float64 `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, err
	}

	mentions := make([]Mention, 0, len(rows))
	for _, row := range rows {
		cat, ok := hfLabelMap[row.EntityGroup]
		if !ok {
			cat = row.EntityGroup
		}
		mentions = append(mentions, Mention{Category: cat, Text: row.Word, Score: row.Score})
	}
	return mentions, nil
}
