package extract

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/tidwall/gjson"
	"golang.org/x/net/html"
)

// Semantic containers that usually hold the article body, in priority
// order.
var articleXPaths = []string{
	"//article",
	"//*[@itemprop='articleBody']",
	"//*[@role='main']",
	"//main",
	"//*[contains(@class, 'article-body')]",
	"//*[contains(@class, 'article__body')]",
	"//*[contains(@class, 'story-body')]",
	"//*[contains(@class, 'post-content')]",
	"//*[contains(@class, 'entry-content')]",
	"//*[contains(@id, 'article-body')]",
}

// extractTrafilatura is the precision pass: it reads JSON-LD articleBody
// when present and harvests the densest semantic container. Pages without
// article structure fall through to the scoring and density methods.
func extractTrafilatura(root *html.Node) string {
	jsonLD := jsonLDArticleBody(root)
	container := semanticContainerText(root)
	if contentLength(jsonLD) >= contentLength(container) {
		return jsonLD
	}
	return container
}

// jsonLDArticleBody pulls articleBody out of ld+json blocks, including
// those nested under @graph.
func jsonLDArticleBody(root *html.Node) string {
	for _, script := range htmlquery.Find(root, "//script[@type='application/ld+json']") {
		raw := htmlquery.InnerText(script)
		if !gjson.Valid(raw) {
			continue
		}
		if body := gjson.Get(raw, "articleBody"); body.Exists() && body.Type == gjson.String {
			return body.String()
		}
		if body := gjson.Get(raw, `\@graph.#.articleBody|0`); body.Exists() && body.Type == gjson.String {
			return body.String()
		}
		// Some publishers wrap the object in a one-element array.
		if body := gjson.Get(raw, "0.articleBody"); body.Exists() && body.Type == gjson.String {
			return body.String()
		}
	}
	return ""
}

// semanticContainerText returns the text of the best-matching semantic
// container.
func semanticContainerText(root *html.Node) string {
	for _, xp := range articleXPaths {
		nodes, err := htmlquery.QueryAll(root, xp)
		if err != nil || len(nodes) == 0 {
			continue
		}
		// When a page carries several matches (e.g. teaser cards inside
		// <article> tags) take the one with the most text.
		var best *html.Node
		bestLen := 0
		for _, n := range nodes {
			if l := contentLength(nodeText(n)); l > bestLen {
				best, bestLen = n, l
			}
		}
		if best == nil || bestLen == 0 {
			continue
		}
		if text := harvestParagraphs(best); text != "" {
			return text
		}
	}
	return ""
}

// harvestParagraphs collects paragraph-level text beneath n, skipping
// navigation chrome and link-dense fragments.
func harvestParagraphs(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			if skipTags[node.Data] {
				return
			}
			switch node.Data {
			case "p", "h1", "h2", "h3", "blockquote", "li", "pre":
				text := strings.TrimSpace(collapseSpace(nodeText(node)))
				if text != "" && linkDensity(node) < 0.5 {
					parts = append(parts, text)
				}
				return
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, "\n\n")
}

// collapseSpace flattens internal whitespace to single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
