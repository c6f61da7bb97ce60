package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	lines := make([]string, 0, len(n.Insights))
	for _, ins := range n.Insights {
		lines = append(lines, "• "+ins.Text)
	}

	sent := n.SentAt
	if sent.IsZero() {
		sent = time.Now().UTC()
	}
	embed := map[string]any{
		"title":       n.Title,
		"description": n.Body + "\n\n" + strings.Join(lines, "\n"),
		"color":       0xFF0000,
		"timestamp":   sent.Format(time.RFC3339),
	}

	body, err := json.Marshal(map[string]any{"embeds": []map[string]any{embed}})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	resp, err := postJSON(ctx, d.client, d.webhookURL, body, nil)
	if err != nil {
		return fmt.Errorf("send discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook status %d", resp.StatusCode)
	}

	return nil
}
