// Package embed converts article text to fixed-width unit vectors for the
// clustering stage. The default provider is fully local and deterministic;
// an HTTP provider covers OpenAI-compatible embedding services.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/masx-gsgi/flashpipe/internal/config"
)

// Embedder converts a batch of texts to L2-normalized vectors.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model identifies the embedding model recorded with each vector.
	Model() string
	// Dimension is the vector width.
	Dimension() int
}

// New selects an implementation from configuration.
func New(cfg *config.EmbeddingConfig, logger *slog.Logger) (Embedder, error) {
	switch cfg.Provider {
	case "", "local":
		return NewHashing(cfg.Model, cfg.Dimension), nil
	case "http":
		return NewHTTP(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// inputContentRunes caps how much article body feeds the embedding; the
// lead paragraphs carry the topical signal.
const inputContentRunes = 1000

// InputText builds the embedded text for one entry: its best title plus
// the leading slice of content.
func InputText(title, content string) string {
	if r := []rune(content); len(r) > inputContentRunes {
		content = string(r[:inputContentRunes])
	}
	return strings.TrimSpace(title + ". " + content)
}

// normalize scales vec to unit L2 norm in place. The zero vector is left
// unchanged.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}
