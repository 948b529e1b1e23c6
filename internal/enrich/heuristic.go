package enrich

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

// HeuristicTagger is the default EntityTagger: a deterministic,
// capitalization-and-lexicon rule tagger that needs no model weights.
// Precision is tuned over recall so downstream geo resolution stays
// clean.
type HeuristicTagger struct {
	model string
}

// NewHeuristicTagger creates the rule-based tagger. The model string is
// recorded in the entities meta block.
func NewHeuristicTagger(model string) *HeuristicTagger {
	return &HeuristicTagger{model: model}
}

func (t *HeuristicTagger) Model() string { return t.model }

var (
	personTitles = wordSet(
		"president", "prime", "minister", "chancellor", "senator",
		"general", "colonel", "captain", "admiral", "secretary",
		"ambassador", "governor", "mayor", "king", "queen", "prince",
		"princess", "sheikh", "ayatollah", "chairman", "chief",
		"dr", "dr.", "mr", "mr.", "ms", "ms.", "mrs", "mrs.",
	)
	orgKeywords = wordSet(
		"ministry", "agency", "council", "committee", "commission",
		"bank", "corp", "corp.", "inc", "inc.", "ltd", "ltd.", "group",
		"army", "forces", "party", "university", "institute",
		"organization", "organisation", "administration", "association",
		"union", "nations", "parliament", "court", "police", "company",
		"authority", "federation", "league", "fund", "office", "bureau",
		"news", "times", "post", "broadcasting", "command",
	)
	locSuffixes = wordSet(
		"river", "sea", "ocean", "strait", "gulf", "bay", "mountains",
		"valley", "province", "region", "desert", "peninsula", "island",
		"islands", "lake", "canal", "border", "coast", "delta", "plateau",
	)
	demonyms = wordSet(
		"american", "british", "chinese", "russian", "russians",
		"ukrainian", "ukrainians", "iranian", "iranians", "israeli",
		"israelis", "palestinian", "palestinians", "french", "german",
		"germans", "turkish", "indian", "pakistani", "korean", "japanese",
		"european", "europeans", "african", "arab", "arabs", "kurdish",
		"kurds", "syrian", "syrians", "egyptian", "saudi", "yemeni",
		"lebanese", "afghan", "afghans", "taliban",
	)
	sentenceOpeners = wordSet(
		"the", "a", "an", "in", "on", "at", "it", "he", "she", "they",
		"we", "but", "and", "or", "as", "after", "before", "when",
		"while", "this", "that", "these", "those", "his", "her", "their",
		"our", "its", "there", "here", "now", "today", "yesterday",
		"meanwhile", "however", "according", "officials", "authorities",
	)
	// Lowercase particles allowed inside a capitalized run.
	runParticles = wordSet("of", "the", "al", "bin", "van", "de", "la", "der", "el", "ibn")

	dateRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:,\s*\d{4})?\b`),
		regexp.MustCompile(`(?i)\b\d{1,2}\s+(?:January|February|March|April|May|June|July|August|September|October|November|December)(?:\s+\d{4})?\b`),
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		regexp.MustCompile(`\b(?:Monday|Tuesday|Wednesday|Thursday|Friday|Saturday|Sunday)\b`),
	}
	moneyRe = []*regexp.Regexp{
		regexp.MustCompile(`[$\x{20AC}\x{00A3}\x{00A5}]\s?\d[\d,.]*(?:\s?(?:million|billion|trillion))?`),
		regexp.MustCompile(`(?i)\b\d[\d,.]*\s?(?:million|billion|trillion)?\s?(?:dollars|euros|pounds|rubles|yuan|yen)\b`),
	}
	quantityRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b\d[\d,.]*\s?(?:percent|km|kilometers|kilometres|miles|tons|tonnes|barrels|megawatts|hectares|troops|soldiers)\b`),
		regexp.MustCompile(`\b\d[\d,.]*%`),
	}
)

func wordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Tag scans one chunk for entity mentions.
func (t *HeuristicTagger) Tag(_ context.Context, text string) ([]Mention, error) {
	var mentions []Mention

	for _, re := range dateRe {
		for _, m := range re.FindAllString(text, -1) {
			mentions = append(mentions, Mention{Category: "DATE", Text: m, Score: 0.9})
		}
	}
	for _, re := range moneyRe {
		for _, m := range re.FindAllString(text, -1) {
			mentions = append(mentions, Mention{Category: "MONEY", Text: m, Score: 0.9})
		}
	}
	for _, re := range quantityRe {
		for _, m := range re.FindAllString(text, -1) {
			mentions = append(mentions, Mention{Category: "QUANTITY", Text: m, Score: 0.85})
		}
	}

	for _, sentence := range splitSentences(text) {
		mentions = append(mentions, tagSentence(sentence)...)
	}
	return mentions, nil
}

// splitSentences breaks text on sentence punctuation and newlines.
func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n' || r == ';'
	})
}

// tagSentence finds capitalized runs and classifies each one.
func tagSentence(sentence string) []Mention {
	tokens := strings.Fields(sentence)
	var mentions []Mention

	i := 0
	for i < len(tokens) {
		word := trimToken(tokens[i])
		if !isCapitalized(word) || (i == 0 && sentenceOpeners[strings.ToLower(word)]) {
			i++
			continue
		}

		// Grow the run, allowing connective particles between
		// capitalized words.
		run := []string{word}
		j := i + 1
		for j < len(tokens) {
			next := trimToken(tokens[j])
			if isCapitalized(next) {
				run = append(run, next)
				j++
				continue
			}
			if runParticles[strings.ToLower(next)] && j+1 < len(tokens) && isCapitalized(trimToken(tokens[j+1])) {
				run = append(run, strings.ToLower(next), trimToken(tokens[j+1]))
				j += 2
				continue
			}
			break
		}

		if m, ok := classifyRun(run); ok {
			mentions = append(mentions, m)
		}
		i = j
	}
	return mentions
}

// classifyRun names the run's category from lexicon signals.
func classifyRun(run []string) (Mention, bool) {
	joined := strings.Join(run, " ")

	if _, ok := LookupCountry(joined); ok {
		return Mention{Category: "GPE", Text: joined, Score: 0.95}, true
	}
	if len(run) == 1 && demonyms[strings.ToLower(run[0])] {
		return Mention{Category: "NORP", Text: run[0], Score: 0.7}, true
	}
	for _, w := range run {
		if orgKeywords[strings.ToLower(w)] {
			return Mention{Category: "ORG", Text: joined, Score: 0.85}, true
		}
	}
	if len(run) >= 2 && personTitles[strings.ToLower(run[0])] {
		rest := run[1:]
		// "Prime Minister X" carries a two-word title.
		if len(rest) >= 2 && personTitles[strings.ToLower(rest[0])] {
			rest = rest[1:]
		}
		if len(rest) > 0 {
			return Mention{Category: "PERSON", Text: strings.Join(rest, " "), Score: 0.9}, true
		}
		return Mention{}, false
	}
	for _, w := range run {
		if locSuffixes[strings.ToLower(w)] {
			return Mention{Category: "LOC", Text: joined, Score: 0.8}, true
		}
	}
	if len(run) >= 2 {
		return Mention{Category: "PERSON", Text: joined, Score: 0.6}, true
	}
	return Mention{}, false
}

// trimToken strips surrounding punctuation but keeps internal dots
// (U.S.) and hyphens.
func trimToken(tok string) string {
	return strings.TrimFunc(tok, func(r rune) bool {
		return unicode.IsPunct(r) && r != '.' && r != '-' && r != '\''
	})
}

// isCapitalized reports whether the token starts with an uppercase
// letter followed by letters, dots, hyphens, or apostrophes.
func isCapitalized(tok string) bool {
	if tok == "" {
		return false
	}
	runes := []rune(tok)
	if !unicode.IsUpper(runes[0]) {
		return false
	}
	for _, r := range runes[1:] {
		if !unicode.IsLetter(r) && r != '.' && r != '-' && r != '\'' {
			return false
		}
	}
	return true
}
