package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/masx-gsgi/flashpipe/internal/config"
	"github.com/masx-gsgi/flashpipe/internal/observability"
	"github.com/masx-gsgi/flashpipe/internal/types"
)

// oracleRetries is how many times a retryable primary failure is retried
// after the first attempt.
const oracleRetries = 2

// provider is one OpenAI-compatible chat-completions endpoint.
type provider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
}

// Oracle is the stage-two summarization client: a primary provider with
// capped exponential-backoff retries, one shot at a fallback provider,
// and a shared RPM budget across all calls.
type Oracle struct {
	primary      provider
	fallback     *provider
	premiumModel string
	premiumPct   float64
	limiter      *rate.Limiter
	client       *http.Client
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewOracle builds the client from configuration.
func NewOracle(cfg *config.OracleConfig, metrics *observability.Metrics, logger *slog.Logger) *Oracle {
	rpm := cfg.RPMLimit
	if rpm <= 0 {
		rpm = 600
	}
	o := &Oracle{
		primary: provider{
			name:    cfg.Provider,
			baseURL: strings.TrimRight(cfg.BaseURL, "/"),
			apiKey:  cfg.APIKey,
			model:   cfg.Model,
		},
		premiumModel: cfg.PremiumModel,
		premiumPct:   cfg.PremiumTopPct,
		limiter:      rate.NewLimiter(rate.Every(time.Minute / time.Duration(rpm)), 1),
		client:       &http.Client{Timeout: 120 * time.Second},
		metrics:      metrics,
		logger:       logger.With("component", "oracle"),
	}
	if cfg.FallbackAPIKey != "" && cfg.FallbackBaseURL != "" {
		o.fallback = &provider{
			name:    cfg.FallbackProvider,
			baseURL: strings.TrimRight(cfg.FallbackBaseURL, "/"),
			apiKey:  cfg.FallbackAPIKey,
			model:   cfg.FallbackModel,
		}
	}
	return o
}

// Ready reports whether the primary provider is usable.
func (o *Oracle) Ready() bool { return o.primary.apiKey != "" && o.primary.baseURL != "" }

// PremiumEnabled reports whether the premium re-summarization pass can run.
func (o *Oracle) PremiumEnabled() bool { return o.Ready() && o.premiumModel != "" && o.premiumPct > 0 }

// PremiumPct is the share of clusters re-summarized with the premium model.
func (o *Oracle) PremiumPct() float64 { return o.premiumPct }

// Summarize produces the cluster summary: primary provider with retries,
// then one attempt against the fallback provider.
func (o *Oracle) Summarize(ctx context.Context, c *Cluster) (string, error) {
	payload, err := BuildPayload(c)
	if err != nil {
		return "", err
	}

	out, err := o.callWithRetry(ctx, o.primary, o.primary.model, payload)
	if err == nil {
		return out, nil
	}
	o.metrics.OracleCallsTotal.WithLabelValues("failed").Inc()
	if o.fallback == nil || ctx.Err() != nil {
		return "", err
	}

	o.logger.Warn("primary oracle exhausted, trying fallback",
		"provider", o.primary.name,
		"model", o.primary.model,
		"cluster_id", c.ClusterID,
		"error", err)
	out, ferr := o.call(ctx, *o.fallback, o.fallback.model, payload)
	if ferr != nil {
		o.metrics.OracleCallsTotal.WithLabelValues("failed").Inc()
		o.logger.Error("fallback oracle failed",
			"provider", o.fallback.name, "cluster_id", c.ClusterID, "error", ferr)
		return "", fmt.Errorf("fallback provider %s: %w", o.fallback.name, ferr)
	}
	o.logger.Info("fallback oracle succeeded",
		"provider", o.fallback.name, "cluster_id", c.ClusterID)
	return out, nil
}

// SummarizePremium re-runs one cluster against the premium model, a
// single attempt. A failure keeps the standard summary.
func (o *Oracle) SummarizePremium(ctx context.Context, c *Cluster) (string, error) {
	if o.premiumModel == "" {
		return "", errors.New("premium model not configured")
	}
	payload, err := BuildPayload(c)
	if err != nil {
		return "", err
	}
	return o.call(ctx, o.primary, o.premiumModel, payload)
}

func (o *Oracle) callWithRetry(ctx context.Context, prov provider, model, payload string) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25
	bo.MaxInterval = 20 * time.Second
	bo.MaxElapsedTime = 0

	var out string
	op := func() error {
		s, err := o.call(ctx, prov, model, payload)
		if err == nil {
			out = s
			return nil
		}
		var oe *types.OracleError
		if errors.As(err, &oe) && !oe.Retryable {
			return backoff.Permanent(err)
		}
		o.metrics.OracleCallsTotal.WithLabelValues("retry").Inc()
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, oracleRetries), ctx)); err != nil {
		return "", err
	}
	return out, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// call makes one chat-completions request and parses the summary out of
// the response.
func (o *Oracle) call(ctx context.Context, prov provider, model, payload string) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: payload},
		},
		MaxTokens:   TokenBudget(payload),
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		prov.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+prov.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &types.OracleError{Provider: prov.name, Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &types.OracleError{Provider: prov.name, Err: err, Retryable: true}
	}
	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", &types.OracleError{
			Provider:   prov.name,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("chat completions returned %d: %s", resp.StatusCode, firstLine(raw)),
			Retryable:  retryable,
		}
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", &types.OracleError{
			Provider: prov.name,
			Err:      fmt.Errorf("decode response: %w", err),
			Retryable: true,
		}
	}
	if cr.Error != nil {
		return "", &types.OracleError{
			Provider: prov.name,
			Err:      fmt.Errorf("provider error: %s", cr.Error.Message),
		}
	}
	if len(cr.Choices) == 0 {
		return "", &types.OracleError{Provider: prov.name, Err: types.ErrOracleEmpty, Retryable: true}
	}

	summary, err := ParseSummary(cr.Choices[0].Message.Content)
	if err != nil {
		// temperature 0 output rarely changes on retry; let the fallback
		// provider take a shot instead.
		return "", &types.OracleError{Provider: prov.name, Err: err}
	}
	o.metrics.OracleCallsTotal.WithLabelValues("ok").Inc()
	return summary, nil
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
