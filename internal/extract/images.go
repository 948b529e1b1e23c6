package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// trackerFragments mark pixel and beacon images that are never article
// imagery.
var trackerFragments = []string{
	"pixel", "tracker", "beacon", "spacer", "blank", "1x1",
	"analytics", "counter.", "/stats/",
}

// collectImages gathers likely article images: social-card metadata
// first, then body images, absolutized against the final URL and capped
// at max.
func collectImages(doc *goquery.Document, baseURL string, max int) []string {
	if max <= 0 {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		base = nil
	}

	seen := make(map[string]bool)
	var out []string
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || len(out) >= max {
			return
		}
		if strings.HasPrefix(raw, "data:") {
			return
		}
		lower := strings.ToLower(raw)
		for _, frag := range trackerFragments {
			if strings.Contains(lower, frag) {
				return
			}
		}
		abs := raw
		if base != nil {
			if ref, err := url.Parse(raw); err == nil {
				abs = base.ResolveReference(ref).String()
			}
		}
		if !strings.HasPrefix(abs, "http://") && !strings.HasPrefix(abs, "https://") {
			return
		}
		if seen[abs] {
			return
		}
		seen[abs] = true
		out = append(out, abs)
	}

	doc.Find(`meta[property="og:image"], meta[name="og:image"]`).Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("content", ""))
	})
	doc.Find(`meta[name="twitter:image"], meta[property="twitter:image"]`).Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("content", ""))
	})

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if len(out) >= max {
			return
		}
		// Single-pixel dimensions mean a beacon regardless of the path.
		if s.AttrOr("width", "") == "1" || s.AttrOr("height", "") == "1" {
			return
		}
		add(s.AttrOr("src", ""))
	})

	return out
}
