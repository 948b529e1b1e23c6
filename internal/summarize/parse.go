package summarize

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/masx-gsgi/flashpipe/internal/types"
)

// ParseSummary extracts the summary string from an oracle response.
// Ladder: strict JSON on the whole body, then the first balanced object
// after code fences are stripped, then relaxed field extraction. Returns
// ErrOracleEmpty when nothing usable survives.
func ParseSummary(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", types.ErrOracleEmpty
	}

	var doc struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(s), &doc); err == nil {
		if out := strings.TrimSpace(doc.Summary); out != "" {
			return out, nil
		}
	}

	cleaned := stripFences(s)
	if obj := firstObject(cleaned); obj != "" {
		if err := json.Unmarshal([]byte(obj), &doc); err == nil {
			if out := strings.TrimSpace(doc.Summary); out != "" {
				return out, nil
			}
		}
		if v := gjson.Get(obj, "summary"); v.Exists() {
			if out := strings.TrimSpace(v.String()); out != "" {
				return out, nil
			}
		}
	}

	if v := gjson.Get(cleaned, "summary"); v.Exists() {
		if out := strings.TrimSpace(v.String()); out != "" {
			return out, nil
		}
	}
	return "", types.ErrOracleEmpty
}

// stripFences drops markdown code fences, keeping their contents.
func stripFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

// firstObject returns the first balanced {...} block, tracking strings
// and escapes so braces inside values do not end the object early.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
