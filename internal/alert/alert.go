// Package alert delivers flagged hotspots to an external channel. Delivery
// is best-effort: the caller logs failures and the run never fails because
// an alert could not be sent.
package alert

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

	"github.com/google/uuid"

	"github.com/masx-gsgi/flashpipe/internal/config"
)

// Alert is one flagged hotspot handed to a dispatcher.
type Alert struct {
	RunID           string
	FlashpointID    uuid.UUID
	FlashpointTitle string
	ClusterID       int
	Summary         string
	ArticleCount    int
	Score           float64
	TopDomains      []string
}

// Dispatcher delivers alerts.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, a *Alert) error
}

// New selects a dispatcher from configuration.
func New(cfg *config.AlertConfig, logger *slog.Logger) (Dispatcher, error) {
	switch cfg.Mode {
	case "", "none":
		return Noop{}, nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, errors.New("alert mode webhook requires a webhook url")
		}
		return NewWebhook(cfg.WebhookURL, logger), nil
	case "slack":
		if cfg.WebhookURL == "" {
			return nil, errors.New("alert mode slack requires a webhook url")
		}
		return NewSlack(cfg.WebhookURL, logger), nil
	default:
		return nil, fmt.Errorf("unknown alert mode %q", cfg.Mode)
	}
}

// Noop drops alerts.
type Noop struct{}

func (Noop) Name() string { return "none" }

func (Noop) Dispatch(context.Context, *Alert) error { return nil }

// postJSON sends a JSON document and treats any non-2xx answer as failure.
func postJSON(ctx context.Context, client *http.Client, url string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("alert endpoint returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func newAlertClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
