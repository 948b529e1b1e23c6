package embed

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Hashing is the local embedder: words and word bigrams are feature-hashed
// into the vector, with the hash's top bit choosing the sign, then the
// vector is L2-normalized. No model runtime, no network, and the same text
// always maps to the same vector across processes.
//
// Hashed projections preserve enough lexical overlap for near-neighbor
// clustering of same-story articles; they are not semantic embeddings.
type Hashing struct {
	model string
	dim   int
}

// NewHashing builds a local embedder of the given width.
func NewHashing(model string, dim int) *Hashing {
	if dim <= 0 {
		dim = 384
	}
	if model == "" {
		model = "feature-hash-v1"
	}
	return &Hashing{model: model, dim: dim}
}

func (h *Hashing) Model() string { return h.model }

func (h *Hashing) Dimension() int { return h.dim }

func (h *Hashing) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.embedOne(text)
	}
	return out, nil
}

func (h *Hashing) embedOne(text string) []float32 {
	vec := make([]float32, h.dim)
	words := tokenize(text)
	for i, w := range words {
		addFeature(vec, w)
		if i+1 < len(words) {
			addFeature(vec, w+" "+words[i+1])
		}
	}
	normalize(vec)
	return vec
}

// addFeature folds one token into the vector: the hash picks the bucket,
// its top bit the sign.
func addFeature(vec []float32, feature string) {
	h := xxhash.Sum64String(feature)
	idx := int(h % uint64(len(vec)))
	if h&(1<<63) != 0 {
		vec[idx]--
	} else {
		vec[idx]++
	}
}

// tokenize lowercases and splits on non-alphanumeric runs.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
