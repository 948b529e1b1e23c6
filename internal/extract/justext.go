package extract

import (
	"strings"

	"golang.org/x/net/html"
)

type paraClass int

const (
	paraBad paraClass = iota
	paraShort
	paraNearGood
	paraGood
)

type paragraph struct {
	text        string
	linkDensity float64
	class       paraClass
}

// Classification thresholds, following the jusText defaults adjusted for
// stoplist-free multilingual input.
const (
	justextMaxLinkDensity = 0.4
	justextLengthLow      = 70
	justextLengthHigh     = 200
)

// extractJustext segments the document into paragraphs and classifies
// each as boilerplate or content in two passes: a context-free pass on
// length and link density, then a context-sensitive pass that rescues
// short and near-good paragraphs sitting next to good ones.
func extractJustext(root *html.Node) string {
	paras := segmentParagraphs(root)
	if len(paras) == 0 {
		return ""
	}

	// Context-free classification.
	for i := range paras {
		p := &paras[i]
		switch {
		case p.linkDensity > justextMaxLinkDensity:
			p.class = paraBad
		case len(p.text) < justextLengthLow:
			p.class = paraShort
		case len(p.text) >= justextLengthHigh:
			p.class = paraGood
		default:
			p.class = paraNearGood
		}
	}

	// Context-sensitive revision: near-good next to good becomes good,
	// short between good paragraphs becomes good.
	for i := range paras {
		if paras[i].class != paraNearGood && paras[i].class != paraShort {
			continue
		}
		prevGood := neighborClass(paras, i, -1) == paraGood
		nextGood := neighborClass(paras, i, +1) == paraGood
		switch paras[i].class {
		case paraNearGood:
			if prevGood || nextGood {
				paras[i].class = paraGood
			}
		case paraShort:
			if prevGood && nextGood {
				paras[i].class = paraGood
			}
		}
	}

	var parts []string
	for _, p := range paras {
		if p.class == paraGood {
			parts = append(parts, p.text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// neighborClass returns the class of the nearest non-short paragraph in
// the given direction.
func neighborClass(paras []paragraph, i, step int) paraClass {
	for j := i + step; j >= 0 && j < len(paras); j += step {
		if paras[j].class != paraShort {
			return paras[j].class
		}
	}
	return paraBad
}

// segmentParagraphs walks the tree and emits one paragraph per
// block-level run of text.
func segmentParagraphs(root *html.Node) []paragraph {
	var paras []paragraph
	var sb strings.Builder
	linkChars := 0

	flush := func() {
		text := strings.TrimSpace(collapseSpace(sb.String()))
		if text != "" {
			ld := 0.0
			if len(text) > 0 {
				ld = float64(linkChars) / float64(len(text))
				if ld > 1 {
					ld = 1
				}
			}
			paras = append(paras, paragraph{text: text, linkDensity: ld})
		}
		sb.Reset()
		linkChars = 0
	}

	var walk func(*html.Node, bool)
	walk = func(n *html.Node, inLink bool) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			if inLink {
				linkChars += len(strings.TrimSpace(n.Data))
			}
			return
		case html.ElementNode:
			if skipTags[n.Data] {
				return
			}
			if n.Data == "a" {
				inLink = true
			}
			if blockTags[n.Data] {
				flush()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inLink)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			flush()
		}
	}
	walk(root, false)
	flush()
	return paras
}
