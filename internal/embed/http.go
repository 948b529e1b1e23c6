package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/masx-gsgi/flashpipe/internal/config"
)

// HTTP calls an OpenAI-compatible /embeddings endpoint.
type HTTP struct {
	endpoint string
	apiKey   string
	model    string
	dim      int
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTP creates a service-backed embedder.
func NewHTTP(cfg *config.EmbeddingConfig, logger *slog.Logger) *HTTP {
	return &HTTP{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		dim:      cfg.Dimension,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger.With("component", "embed_http"),
	}
}

func (h *HTTP) Model() string { return h.model }

func (h *HTTP) Dimension() int { return h.dim }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (h *HTTP) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(embeddingRequest{Model: h.model, Input: texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.endpoint+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding service returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var er embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, err
	}
	if len(er.Data) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d inputs",
			len(er.Data), len(texts))
	}

	sort.Slice(er.Data, func(i, j int) bool { return er.Data[i].Index < er.Data[j].Index })
	out := make([][]float32, len(er.Data))
	for i, d := range er.Data {
		if len(d.Embedding) != h.dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d",
				d.Index, len(d.Embedding), h.dim)
		}
		// Not every service returns unit vectors; the stored contract is
		// unit L2 norm.
		normalize(d.Embedding)
		out[i] = d.Embedding
	}
	return out, nil
}
