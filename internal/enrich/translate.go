package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Translator turns a title into English. Implementations must be safe
// for concurrent use.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang string) (string, error)
}

// Passthrough returns the input unchanged. It is the tier A/B translator
// and the terminal fallback when no service is configured.
type Passthrough struct{}

func (Passthrough) Translate(_ context.Context, text, _ string) (string, error) {
	return text, nil
}

// HTTPTranslator calls a LibreTranslate-compatible service.
type HTTPTranslator struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPTranslator creates a service-backed translator.
func NewHTTPTranslator(endpoint string, logger *slog.Logger) *HTTPTranslator {
	return &HTTPTranslator{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger.With("component", "translator"),
	}
}

func (t *HTTPTranslator) Translate(ctx context.Context, text, sourceLang string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"q":      text,
		"source": sourceLang,
		"target": "en",
		"format": "text",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.endpoint+"/translate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("translate service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.TranslatedText), nil
}

// Title fills title_en: English titles pass through, everything else is
// translated with a fallback to the original. title_en is never empty
// when the title is non-empty.
type Title struct {
	translator Translator
	logger     *slog.Logger
}

// NewTitle creates the title enricher.
func NewTitle(translator Translator, logger *slog.Logger) *Title {
	return &Title{translator: translator, logger: logger.With("component", "title")}
}

func (t *Title) Name() string { return "title_en" }

func (t *Title) Enrich(ctx context.Context, a *Article) error {
	title := strings.TrimSpace(a.Entry.Title)
	if title == "" {
		return nil
	}

	lang := strings.ToLower(a.Entry.Language)
	if lang == "en" || lang == "eng" {
		a.Entry.TitleEN = title
		a.Out.TitleEN = &title
		return nil
	}

	translated, err := t.translator.Translate(ctx, title, lang)
	if err != nil || strings.TrimSpace(translated) == "" {
		if err != nil {
			t.logger.Debug("title translation failed, keeping original",
				"lang", lang, "error", err)
		}
		translated = title
	}
	a.Entry.TitleEN = translated
	a.Out.TitleEN = &translated
	return nil
}
