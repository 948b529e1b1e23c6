package enrich

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
)

// minDetectChars is the text length under which detection returns the
// undetermined code.
const minDetectChars = 50

// detectSampleChars bounds the detector input for speed.
const detectSampleChars = 500

var validLangCode = regexp.MustCompile(`^[a-z]{2,3}$`)

// Language detects the article language. An existing valid ISO code on
// the entry is trusted; otherwise the first 500 chars of the title plus
// extracted text decide.
type Language struct {
	logger *slog.Logger

	once     sync.Once
	detector lingua.LanguageDetector
}

// NewLanguage creates the language enricher. The detector's models load
// lazily on first use.
func NewLanguage(logger *slog.Logger) *Language {
	return &Language{logger: logger.With("component", "lang")}
}

func (l *Language) Name() string { return "language" }

func (l *Language) Enrich(_ context.Context, a *Article) error {
	existing := strings.ToLower(strings.TrimSpace(a.Entry.Language))
	if validLangCode.MatchString(existing) {
		a.Entry.Language = existing
		return nil
	}
	a.Entry.Language = l.Detect(strings.TrimSpace(a.Entry.Title + " " + a.Text))
	return nil
}

// Detect returns the ISO 639-1 code for the text, or "und" when the text
// is too short or no language is confident.
func (l *Language) Detect(text string) string {
	text = strings.TrimSpace(text)
	if len(text) < minDetectChars {
		return "und"
	}

	l.once.Do(func() {
		l.detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			Build()
	})

	sample := text
	if len(sample) > detectSampleChars {
		cut := detectSampleChars
		for cut > 0 && !utf8.RuneStart(sample[cut]) {
			cut--
		}
		sample = sample[:cut]
	}
	sample = strings.ReplaceAll(sample, "\n", " ")

	lang, ok := l.detector.DetectLanguageOf(sample)
	if !ok {
		return "und"
	}
	code := strings.ToLower(lang.IsoCode639_1().String())
	if !validLangCode.MatchString(code) {
		return "und"
	}

	confidence := l.detector.ComputeLanguageConfidence(sample, lang)
	l.logger.Debug("language detected", "lang", code, "confidence", confidence)
	return code
}
