package extract

import (
	"strings"

	"golang.org/x/net/html"
)

type textBlock struct {
	text        string
	words       int
	linkedWords int
}

func (b textBlock) linkDensity() float64 {
	if b.words == 0 {
		return 0
	}
	return float64(b.linkedWords) / float64(b.words)
}

// extractBoilerpy walks the element tree in document order, folds text
// into blocks at block-tag boundaries, and keeps the blocks the
// word-count rules classify as content. This is the shallow-text
// classifier: a block is content when it and its neighbors carry enough
// unlinked words.
func extractBoilerpy(root *html.Node) string {
	blocks := collectBlocks(root)
	if len(blocks) == 0 {
		return ""
	}

	var parts []string
	for i, curr := range blocks {
		var prev, next textBlock
		if i > 0 {
			prev = blocks[i-1]
		}
		if i+1 < len(blocks) {
			next = blocks[i+1]
		}
		if isContentBlock(curr, prev, next) {
			parts = append(parts, curr.text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// isContentBlock applies the number-of-words rules over the current
// block and its neighbors.
func isContentBlock(curr, prev, next textBlock) bool {
	if curr.linkDensity() > 0.333333 {
		return false
	}
	if prev.linkDensity() <= 0.555556 {
		return curr.words > 16 || next.words > 15 || prev.words > 4
	}
	return curr.words > 40 || next.words > 17
}

// collectBlocks segments the tree into word-counted text blocks.
func collectBlocks(root *html.Node) []textBlock {
	var blocks []textBlock
	var sb strings.Builder
	linkedWords := 0

	flush := func() {
		text := strings.TrimSpace(collapseSpace(sb.String()))
		if text != "" {
			blocks = append(blocks, textBlock{
				text:        text,
				words:       len(strings.Fields(text)),
				linkedWords: linkedWords,
			})
		}
		sb.Reset()
		linkedWords = 0
	}

	var walk func(*html.Node, bool)
	walk = func(n *html.Node, inLink bool) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteString(" ")
			if inLink {
				linkedWords += len(strings.Fields(n.Data))
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
	return blocks
}
