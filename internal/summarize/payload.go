package summarize

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
)

// systemPrompt instructs the oracle. The strict-JSON contract keeps the
// response parseable; ParseSummary copes when the model ignores it.
const systemPrompt = `You are a news intelligence analyst. Summarize the following cluster of news articles about the same event/topic into a single, comprehensive, factual summary in English.

Input format: TOML (articles table array).

Requirements:
- Include all key facts: who, what, where, when, why
- If articles are in different languages, synthesize the information
- Be objective and factual
- Cover the full scope of the event - do not omit important details
- Capture the essential information

Output (STRICT) - Return JSON ONLY:
{"summary": "<your summary here>"}
- Never output articles
Return JSON only, no extra text.`

// payloadArticles caps how many members feed the oracle prompt.
const payloadArticles = 15

// payloadArticle is one member row in the prompt. TOML spends fewer
// tokens than JSON on the same table.
type payloadArticle struct {
	ID      int    `toml:"id"`
	Lang    string `toml:"lang"`
	Title   string `toml:"title"`
	Summary string `toml:"summary"`
}

type payloadDoc struct {
	Articles []payloadArticle `toml:"articles"`
}

// BuildPayload serializes the top cluster members as a TOML table array.
// Members carry their stage-one stubs; articles without a stub fall back
// to a clipped slice of raw text.
func BuildPayload(c *Cluster) (string, error) {
	n := len(c.Articles)
	if n > payloadArticles {
		n = payloadArticles
	}
	doc := payloadDoc{Articles: make([]payloadArticle, 0, n)}
	for i := 0; i < n; i++ {
		a := &c.Articles[i]
		lang := a.Lang
		if lang == "" {
			lang = "unknown"
		}
		title := strings.TrimSpace(a.Title)
		if title == "" {
			title = "Untitled"
		}
		summary := a.Stub
		if summary == "" {
			summary = truncateRunes(strings.TrimSpace(a.BestText()), 400)
		}
		doc.Articles = append(doc.Articles, payloadArticle{
			ID:      i + 1,
			Lang:    lang,
			Title:   title,
			Summary: summary,
		})
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return "", fmt.Errorf("encode oracle payload: %w", err)
	}
	return buf.String(), nil
}

// Token budget bounds for one oracle response.
const (
	minOracleTokens = 150
	maxOracleTokens = 4096
)

// TokenBudget sizes max_tokens from the prompt: roughly thirty percent of
// the estimated input tokens, clamped to [150, 4096].
func TokenBudget(payload string) int {
	chars := utf8.RuneCountInString(systemPrompt) + utf8.RuneCountInString(payload)
	budget := chars / charsPerToken * 30 / 100
	if budget < minOracleTokens {
		return minOracleTokens
	}
	if budget > maxOracleTokens {
		return maxOracleTokens
	}
	return budget
}
