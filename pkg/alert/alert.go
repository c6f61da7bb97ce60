package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/elonfeng/tubeloop/pkg/learning"
)

// Notification is the data sent to alert destinations.
type Notification struct {
	Title    string             `json:"title"`
	Body     string             `json:"body"`
	Insights []learning.Insight `json:"insights"`
	SentAt   time.Time          `json:"sent_at"`
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// PublishInsights announces the insights a learning cycle just committed.
func (m *Manager) PublishInsights(ctx context.Context, insights []learning.Insight) error {
	if len(insights) == 0 || !m.HasNotifiers() {
		return nil
	}
	return m.Broadcast(ctx, &Notification{
		Title:    fmt.Sprintf("%d new learned rule(s)", len(insights)),
		Body:     "New patterns were learned from published video performance.",
		Insights: insights,
		SentAt:   time.Now().UTC(),
	})
}

func postJSON(ctx context.Context, client *http.Client, url string, body []byte, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	return client.Do(req)
}
