package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	positiveHint = regexp.MustCompile(`(?i)article|body|content|entry|main|page|post|story|text|blog`)
	negativeHint = regexp.MustCompile(`(?i)combx|comment|community|disqus|foot|header|masthead|menu|meta|nav|promo|related|scroll|share|shoutbox|sidebar|sponsor|widget|banner|breadcrumb|cookie|social`)
)

// extractReadability scores candidate containers the readability way:
// paragraphs vote for their ancestors with points for length and comma
// count, class names shift the score, and link density discounts it.
// The winning container's paragraphs become the article.
func extractReadability(doc *goquery.Document) string {
	scores := make(map[*html.Node]float64)
	var order []*html.Node // document order keeps ties deterministic

	seed := func(n *html.Node) {
		if _, seen := scores[n]; !seen {
			scores[n] = initialScore(n)
			order = append(order, n)
		}
	}

	doc.Find("p, td, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		text := strings.TrimSpace(collapseSpace(nodeText(node)))
		if len(text) < 25 {
			return
		}

		points := 1.0
		points += float64(strings.Count(text, ",") + strings.Count(text, "、") + strings.Count(text, "،"))
		if extra := len(text) / 100; extra > 3 {
			points += 3
		} else {
			points += float64(extra)
		}

		parent := node.Parent
		if parent == nil {
			return
		}
		seed(parent)
		scores[parent] += points

		if gp := parent.Parent; gp != nil {
			seed(gp)
			scores[gp] += points / 2
		}
	})

	var best *html.Node
	bestScore := 0.0
	for _, node := range order {
		score := scores[node] * (1 - linkDensity(node))
		if score > bestScore {
			best, bestScore = node, score
		}
	}
	if best == nil {
		return ""
	}
	return harvestParagraphs(best)
}

// initialScore seeds a candidate from its tag and class/id hints.
func initialScore(n *html.Node) float64 {
	score := 0.0
	switch n.Data {
	case "article", "section", "main":
		score += 8
	case "div":
		score += 5
	case "pre", "td", "blockquote":
		score += 3
	case "ol", "ul", "li", "dl", "dd", "dt", "form", "address":
		score -= 3
	case "h1", "h2", "h3", "h4", "h5", "h6", "th":
		score -= 5
	}
	hint := attrVal(n, "class") + " " + attrVal(n, "id")
	if negativeHint.MatchString(hint) {
		score -= 25
	}
	if positiveHint.MatchString(hint) {
		score += 25
	}
	return score
}
