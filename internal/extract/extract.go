package extract

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/masx-gsgi/flashpipe/internal/config"
	"github.com/masx-gsgi/flashpipe/internal/observability"
	"github.com/masx-gsgi/flashpipe/internal/types"
)

// Extraction method names, persisted on the job row.
const (
	MethodTrafilatura = "trafilatura"
	MethodReadability = "readability"
	MethodJustext     = "justext"
	MethodBoilerpy    = "boilerpy"
)

// Result is the output of a successful extraction.
type Result struct {
	Text   string
	Method string
	Chars  int
	Images []string
}

// Extractor runs the article-text cascade over fetched pages. The
// cascade is pure: it never performs I/O, so one Extractor is safe for
// concurrent use.
type Extractor struct {
	minLength int
	maxImages int
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates an Extractor from configuration.
func New(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Extractor {
	return &Extractor{
		minLength: cfg.Extract.MinContentLength,
		maxImages: cfg.Extract.MaxImages,
		logger:    logger.With("component", "extractor"),
		metrics:   metrics,
	}
}

type method struct {
	name string
	fn   func(root *html.Node, doc *goquery.Document) string
}

// methods are tried in fixed order; the first to clear the length
// threshold wins.
var methods = []method{
	{MethodTrafilatura, func(root *html.Node, _ *goquery.Document) string { return extractTrafilatura(root) }},
	{MethodReadability, func(_ *html.Node, doc *goquery.Document) string { return extractReadability(doc) }},
	{MethodJustext, func(root *html.Node, _ *goquery.Document) string { return extractJustext(root) }},
	{MethodBoilerpy, func(root *html.Node, _ *goquery.Document) string { return extractBoilerpy(root) }},
}

// Extract runs the cascade over a fetched page. On failure it returns an
// *types.ExtractError carrying the classified reason.
func (e *Extractor) Extract(page *types.Page) (*Result, error) {
	root, err := html.Parse(bytes.NewReader(page.Body))
	if err != nil {
		e.metrics.ExtractionsTotal.WithLabelValues(string(types.ReasonParseError)).Inc()
		return nil, &types.ExtractError{URL: page.URL, Reason: types.ReasonParseError, Err: err}
	}
	doc := goquery.NewDocumentFromNode(root)

	best := 0
	for _, m := range methods {
		text := sanitizeText(m.fn(root, doc))
		n := contentLength(text)
		if n >= e.minLength {
			e.metrics.ExtractionsTotal.WithLabelValues(m.name).Inc()
			e.logger.Debug("extraction success",
				"url", page.URL, "method", m.name, "chars", n)
			return &Result{
				Text:   text,
				Method: m.name,
				Chars:  utf8.RuneCountInString(text),
				Images: collectImages(doc, page.FinalURL, e.maxImages),
			}, nil
		}
		if n > best {
			best = n
		}
	}

	reason := classifyFailure(page.Body, root, best)
	e.metrics.ExtractionsTotal.WithLabelValues(string(reason)).Inc()
	e.logger.Debug("extraction failed", "url", page.URL, "reason", reason, "best_chars", best)

	xe := &types.ExtractError{URL: page.URL, Reason: reason}
	switch reason {
	case types.ReasonTooShort:
		xe.Err = fmt.Errorf("%w: best method yielded %d chars, need %d", types.ErrTooShort, best, e.minLength)
	case types.ReasonNoText:
		xe.Err = types.ErrNoText
	default:
		xe.Err = fmt.Errorf("page classified as %s", reason)
	}
	return nil, xe
}

// NeedsBrowser reports whether the extraction failure warrants a retry
// through the headless-browser fetcher.
func NeedsBrowser(err error) bool {
	var xe *types.ExtractError
	if !errors.As(err, &xe) {
		return false
	}
	return xe.Reason == types.ReasonJSRequired || xe.Reason == types.ReasonConsentWall
}

var (
	controlChars = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
	spaceRuns    = regexp.MustCompile(`[ \t]+`)
	newlineRuns  = regexp.MustCompile(`\n{3,}`)
)

// sanitizeText normalizes whitespace and strips control characters while
// preserving paragraph breaks.
func sanitizeText(text string) string {
	text = controlChars.ReplaceAllString(text, "")
	text = spaceRuns.ReplaceAllString(text, " ")
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// contentLength counts non-whitespace runes. Threshold comparisons use
// this so that padding and blank lines do not clear the bar.
func contentLength(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// skipTags are elements whose subtree never contributes article text.
var skipTags = map[string]bool{
	"head":     true,
	"title":    true,
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"aside":    true,
	"footer":   true,
	"header":   true,
	"form":     true,
	"iframe":   true,
	"figure":   true,
	"button":   true,
	"svg":      true,
	"template": true,
}

// blockTags delimit paragraphs when harvesting text.
var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "blockquote": true, "pre": true, "td": true, "br": true,
	"ul": true, "ol": true, "table": true, "tr": true,
}

// nodeText returns the visible text beneath n with paragraph structure
// preserved as newlines.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			sb.WriteString(node.Data)
		case html.ElementNode:
			if skipTags[node.Data] {
				return
			}
			if blockTags[node.Data] {
				sb.WriteString("\n")
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if node.Type == html.ElementNode && blockTags[node.Data] {
			sb.WriteString("\n")
		}
	}
	walk(n)
	return sb.String()
}

// attrVal returns the value of the named attribute, or "".
func attrVal(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// linkDensity is the share of text under n that sits inside anchors.
func linkDensity(n *html.Node) float64 {
	total := len(strings.TrimSpace(nodeText(n)))
	if total == 0 {
		return 0
	}
	linked := 0
	var walk func(*html.Node, bool)
	walk = func(node *html.Node, inLink bool) {
		if node.Type == html.ElementNode {
			if skipTags[node.Data] {
				return
			}
			if node.Data == "a" {
				inLink = true
			}
		}
		if node.Type == html.TextNode && inLink {
			linked += len(strings.TrimSpace(node.Data))
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inLink)
		}
	}
	walk(n, false)
	return float64(linked) / float64(total)
}
