package extract

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/masx-gsgi/flashpipe/internal/config"
	"github.com/masx-gsgi/flashpipe/internal/observability"
	"github.com/masx-gsgi/flashpipe/internal/types"
)

func testExtractor(t *testing.T) *Extractor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(config.DefaultConfig(), observability.NewMetrics(logger), logger)
}

func testPage(body string) *types.Page {
	return &types.Page{
		URL:      "https://news.example.com/story",
		FinalURL: "https://news.example.com/story",
		Body:     []byte(body),
	}
}

// longText produces n repetitions of a sentence, roughly 70 chars each.
func longText(n int) string {
	return strings.TrimSpace(strings.Repeat(
		"Officials confirmed the border crossing would remain closed indefinitely. ", n))
}

func TestExtractFromArticleTag(t *testing.T) {
	body := longText(8)
	page := testPage(fmt.Sprintf(`<html><head><title>Story</title></head><body>
		<nav><a href="/">Home</a><a href="/world">World</a></nav>
		<article><p>%s</p><p>%s</p></article>
		<footer>Copyright</footer>
	</body></html>`, body, body))

	result, err := testExtractor(t).Extract(page)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.Method != MethodTrafilatura {
		t.Errorf("method = %q, want %q", result.Method, MethodTrafilatura)
	}
	if !strings.Contains(result.Text, "border crossing") {
		t.Error("extracted text missing article content")
	}
	if strings.Contains(result.Text, "Copyright") {
		t.Error("extracted text includes footer chrome")
	}
	if result.Chars == 0 {
		t.Error("Chars not recorded")
	}
}

func TestExtractFromJSONLD(t *testing.T) {
	body := longText(8)
	page := testPage(fmt.Sprintf(`<html><head>
		<script type="application/ld+json">{"@type":"NewsArticle","articleBody":%q}</script>
	</head><body><div>teaser only</div></body></html>`, body))

	result, err := testExtractor(t).Extract(page)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.Method != MethodTrafilatura {
		t.Errorf("method = %q, want %q", result.Method, MethodTrafilatura)
	}
	if !strings.Contains(result.Text, "border crossing") {
		t.Error("articleBody not used")
	}
}

func TestExtractReadabilityFallback(t *testing.T) {
	para := longText(4)
	page := testPage(fmt.Sprintf(`<html><body>
		<div class="wrapper"><div class="inner">
			<p>%s</p><p>%s</p><p>%s</p>
		</div></div>
	</body></html>`, para, para, para))

	result, err := testExtractor(t).Extract(page)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.Method != MethodReadability {
		t.Errorf("method = %q, want %q", result.Method, MethodReadability)
	}
}

func TestExtractJustextFallback(t *testing.T) {
	block := longText(4) // ~290 chars per block, classified good
	page := testPage(fmt.Sprintf(`<html><body>
		<div>%s</div><div>%s</div>
	</body></html>`, block, block))

	result, err := testExtractor(t).Extract(page)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.Method != MethodJustext {
		t.Errorf("method = %q, want %q", result.Method, MethodJustext)
	}
}

func TestExtractBoilerpyFallback(t *testing.T) {
	// ~150-char blocks: below the justext good threshold with no good
	// neighbors, but over 16 words each for the word-count rules.
	block := longText(2)
	var divs strings.Builder
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&divs, "<div>%s</div>", block)
	}
	page := testPage("<html><body>" + divs.String() + "</body></html>")

	result, err := testExtractor(t).Extract(page)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.Method != MethodBoilerpy {
		t.Errorf("method = %q, want %q", result.Method, MethodBoilerpy)
	}
}

func TestExtractTooShort(t *testing.T) {
	page := testPage(`<html><body><article><p>Brief update issued today.</p></article></body></html>`)

	_, err := testExtractor(t).Extract(page)
	if err == nil {
		t.Fatal("expected error for short content")
	}
	var xe *types.ExtractError
	if !errors.As(err, &xe) {
		t.Fatalf("error type = %T, want *types.ExtractError", err)
	}
	if xe.Reason != types.ReasonTooShort {
		t.Errorf("reason = %s, want %s", xe.Reason, types.ReasonTooShort)
	}
	if !errors.Is(err, types.ErrTooShort) {
		t.Error("want ErrTooShort in chain")
	}
}

func TestExtractNoText(t *testing.T) {
	page := testPage(`<html><body><img src="https://cdn.example.com/photo.jpg"></body></html>`)

	_, err := testExtractor(t).Extract(page)
	var xe *types.ExtractError
	if !errors.As(err, &xe) {
		t.Fatalf("error = %v, want *types.ExtractError", err)
	}
	if xe.Reason != types.ReasonNoText {
		t.Errorf("reason = %s, want %s", xe.Reason, types.ReasonNoText)
	}
}

func TestExtractClassifiesPaywall(t *testing.T) {
	page := testPage(`<html><body>
		<div class="gate">Subscribe to continue reading this story.</div>
	</body></html>`)

	_, err := testExtractor(t).Extract(page)
	var xe *types.ExtractError
	if !errors.As(err, &xe) {
		t.Fatalf("error = %v, want *types.ExtractError", err)
	}
	if xe.Reason != types.ReasonPaywall {
		t.Errorf("reason = %s, want %s", xe.Reason, types.ReasonPaywall)
	}
	if NeedsBrowser(err) {
		t.Error("paywall should not route to the browser")
	}
}

func TestExtractClassifiesConsentWall(t *testing.T) {
	page := testPage(`<html><body>
		<div id="cookie-banner">We use cookies. Accept all cookies or manage your preferences.</div>
	</body></html>`)

	_, err := testExtractor(t).Extract(page)
	var xe *types.ExtractError
	if !errors.As(err, &xe) {
		t.Fatalf("error = %v, want *types.ExtractError", err)
	}
	if xe.Reason != types.ReasonConsentWall {
		t.Errorf("reason = %s, want %s", xe.Reason, types.ReasonConsentWall)
	}
	if !NeedsBrowser(err) {
		t.Error("consent wall should route to the browser")
	}
}

func TestExtractClassifiesJSRequired(t *testing.T) {
	page := testPage(`<html><head>
		<script src="/static/__next/main.js"></script>
	</head><body><div id="root"></div></body></html>`)

	_, err := testExtractor(t).Extract(page)
	var xe *types.ExtractError
	if !errors.As(err, &xe) {
		t.Fatalf("error = %v, want *types.ExtractError", err)
	}
	if xe.Reason != types.ReasonJSRequired {
		t.Errorf("reason = %s, want %s", xe.Reason, types.ReasonJSRequired)
	}
	if !NeedsBrowser(err) {
		t.Error("js_required should route to the browser")
	}
}

func TestExtractCollectsImages(t *testing.T) {
	body := longText(8)
	page := testPage(fmt.Sprintf(`<html><head>
		<meta property="og:image" content="https://cdn.example.com/lead.jpg">
	</head><body><article>
		<p>%s</p>
		<img src="/photos/scene.jpg">
		<img src="https://stats.example.com/pixel.gif">
		<img src="https://cdn.example.com/beacon-1x1.png" width="1" height="1">
		<img src="data:image/gif;base64,R0lGOD">
	</article></body></html>`, body))

	result, err := testExtractor(t).Extract(page)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := []string{
		"https://cdn.example.com/lead.jpg",
		"https://news.example.com/photos/scene.jpg",
	}
	if len(result.Images) != len(want) {
		t.Fatalf("images = %v, want %v", result.Images, want)
	}
	for i := range want {
		if result.Images[i] != want[i] {
			t.Errorf("images[%d] = %q, want %q", i, result.Images[i], want[i])
		}
	}
}

func TestSanitizeText(t *testing.T) {
	in := "Hello\x00 world\x0b  with\t\tspaces\n\n\n\n\nand breaks"
	got := sanitizeText(in)
	want := "Hello world with spaces\n\nand breaks"
	if got != want {
		t.Errorf("sanitizeText = %q, want %q", got, want)
	}
}

func TestContentLength(t *testing.T) {
	if got := contentLength(" a b\nc\t"); got != 3 {
		t.Errorf("contentLength = %d, want 3", got)
	}
	if got := contentLength("über"); got != 4 {
		t.Errorf("contentLength counts runes: got %d, want 4", got)
	}
}
