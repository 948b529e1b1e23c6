package alert

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// slackSummaryRunes caps the summary block; Slack rejects oversized text.
const slackSummaryRunes = 500

// Slack formats alerts as Block Kit messages for an incoming webhook.
type Slack struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewSlack creates a Slack dispatcher.
func NewSlack(url string, logger *slog.Logger) *Slack {
	return &Slack{
		url:    url,
		client: newAlertClient(),
		logger: logger.With("component", "alert_slack"),
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Dispatch(ctx context.Context, a *Alert) error {
	if err := postJSON(ctx, s.client, s.url, slackMessage(a)); err != nil {
		return err
	}
	s.logger.Debug("alert delivered", "flashpoint_id", a.FlashpointID, "cluster_id", a.ClusterID)
	return nil
}

func slackMessage(a *Alert) map[string]any {
	summary := a.Summary
	if r := []rune(summary); len(r) > slackSummaryRunes {
		summary = string(r[:slackSummaryRunes])
	}
	return map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type":  "plain_text",
					"text":  "🔥 Hotspot Alert: " + a.FlashpointTitle,
					"emoji": true,
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Score:* %.3f", a.Score)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Articles:* %d", a.ArticleCount)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Cluster:* #%d", a.ClusterID)},
				},
			},
			map[string]any{
				"type": "section",
				"text": map[string]any{"type": "mrkdwn", "text": summary},
			},
		},
	}
}
