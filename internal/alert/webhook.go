package alert

import (
	"context"
	"log/slog"
	"net/http"
)

// Webhook posts alerts as flat JSON documents to a generic endpoint.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook creates a generic JSON dispatcher.
func NewWebhook(url string, logger *slog.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: newAlertClient(),
		logger: logger.With("component", "alert_webhook"),
	}
}

func (w *Webhook) Name() string { return "webhook" }

type webhookPayload struct {
	Type            string   `json:"type"`
	RunID           string   `json:"run_id"`
	FlashpointID    string   `json:"flashpoint_id"`
	FlashpointTitle string   `json:"flashpoint_title"`
	ClusterID       int      `json:"cluster_id"`
	Summary         string   `json:"summary"`
	ArticleCount    int      `json:"article_count"`
	HotspotScore    float64  `json:"hotspot_score"`
	TopDomains      []string `json:"top_domains"`
}

func (w *Webhook) Dispatch(ctx context.Context, a *Alert) error {
	doc := webhookPayload{
		Type:            "hotspot_alert",
		RunID:           a.RunID,
		FlashpointID:    a.FlashpointID.String(),
		FlashpointTitle: a.FlashpointTitle,
		ClusterID:       a.ClusterID,
		Summary:         a.Summary,
		ArticleCount:    a.ArticleCount,
		HotspotScore:    a.Score,
		TopDomains:      a.TopDomains,
	}
	if doc.TopDomains == nil {
		doc.TopDomains = []string{}
	}
	if err := postJSON(ctx, w.client, w.url, doc); err != nil {
		return err
	}
	w.logger.Debug("alert delivered", "flashpoint_id", a.FlashpointID, "cluster_id", a.ClusterID)
	return nil
}
