package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"conveyor/internal/config"
)

const userAgent = "Conveyor/0.1.0"

// Alert is one threshold violation reported by the health monitor.
type Alert struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	At        time.Time `json:"at"`
}

// Service defines the alert delivery surface exposed to monitoring.
type Service interface {
	PublishAlerts(ctx context.Context, alerts []Alert) error
	TestNotification(ctx context.Context) error
}

// NewService builds an alert publisher backed by the configured webhook.
// When no webhook URL is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	url := strings.TrimSpace(cfg.Health.WebhookURL)
	if url == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Health.WebhookTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &webhookService{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookService struct {
	url    string
	client *http.Client
}

type alertDocument struct {
	Source string  `json:"source"`
	Alerts []Alert `json:"alerts"`
}

func (w *webhookService) PublishAlerts(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	return w.send(ctx, alertDocument{Source: "conveyor", Alerts: alerts})
}

func (w *webhookService) TestNotification(ctx context.Context) error {
	return w.send(ctx, alertDocument{
		Source: "conveyor",
		Alerts: []Alert{{
			Type:     "test",
			Severity: "info",
			Message:  "conveyor webhook test",
			At:       time.Now().UTC(),
		}},
	})
}

func (w *webhookService) send(ctx context.Context, doc alertDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode alert document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

type noopService struct{}

func (noopService) PublishAlerts(context.Context, []Alert) error { return nil }

func (noopService) TestNotification(context.Context) error { return nil }
