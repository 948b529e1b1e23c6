package extract

import (
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/masx-gsgi/flashpipe/internal/types"
)

// Signature patterns for pages that cannot yield article text. Matched
// against the raw HTML, not the extracted text, since the markers often
// live in markup the extractors discard.
var (
	paywallIndicators = []*regexp.Regexp{
		regexp.MustCompile(`(?i)subscribe\s+to\s+continue|paywall|premium\s+content`),
		regexp.MustCompile(`(?i)sign\s+in\s+to\s+read|create.{0,40}account.{0,40}to.{0,40}continue`),
	}
	consentIndicators = []*regexp.Regexp{
		regexp.MustCompile(`(?i)cookie[- ]?consent|cookie[- ]?banner|gdpr`),
		regexp.MustCompile(`(?i)accept.{0,40}cookies|manage.{0,40}preferences`),
	}
	jsIndicators = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<noscript[^>]*>.*?enable\s+javascript`),
		regexp.MustCompile(`(?i)window\.__NUXT__`),
		regexp.MustCompile(`(?i)<div[^>]*id=["'](?:app|root)["'][^>]*>\s*</div>`),
		regexp.MustCompile(`(?i)react-root|__next`),
	}
)

// sparseBodyChars is the visible-text bound under which a script-heavy
// page counts as an SPA shell.
const sparseBodyChars = 100

// classifyFailure names the reason every cascade method came up short.
// Precedence: paywall, consent wall, JS shell, then the length verdict.
func classifyFailure(rawHTML []byte, root *html.Node, bestLen int) types.FailureReason {
	if len(rawHTML) == 0 {
		return types.ReasonNoText
	}
	htmlStr := string(rawHTML)

	for _, p := range paywallIndicators {
		if p.MatchString(htmlStr) {
			return types.ReasonPaywall
		}
	}
	for _, p := range consentIndicators {
		if p.MatchString(htmlStr) {
			return types.ReasonConsentWall
		}
	}
	for _, p := range jsIndicators {
		if p.MatchString(htmlStr) {
			if visibleBodyChars(root) < sparseBodyChars {
				return types.ReasonJSRequired
			}
			break
		}
	}

	if bestLen > 0 {
		return types.ReasonTooShort
	}
	return types.ReasonNoText
}

// visibleBodyChars counts non-whitespace characters a browserless reader
// would see.
func visibleBodyChars(root *html.Node) int {
	body := htmlquery.FindOne(root, "//body")
	if body == nil {
		return 0
	}
	return contentLength(strings.TrimSpace(nodeText(body)))
}
