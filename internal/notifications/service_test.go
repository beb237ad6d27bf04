package notifications_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/notifications"
)

func TestNewServiceReturnsNoopWhenURLMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Health.WebhookURL = ""
	svc := notifications.NewService(&cfg)
	err := svc.PublishAlerts(context.Background(), []notifications.Alert{{
		Type:    "queue_depth",
		Message: "backlog high",
	}})
	if err != nil {
		t.Fatalf("expected noop publisher to return nil, got %v", err)
	}
}

func TestWebhookServicePostsAlertDocument(t *testing.T) {
	var captured struct {
		contentType string
		body        []byte
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		captured.contentType = r.Header.Get("Content-Type")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		captured.body = body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Health.WebhookURL = server.URL
	cfg.Health.WebhookTimeout = 5

	svc := notifications.NewService(&cfg)
	err := svc.PublishAlerts(context.Background(), []notifications.Alert{{
		Type:      "error_rate",
		Severity:  "critical",
		Message:   "failure rate 0.50 exceeds 0.25",
		Value:     0.5,
		Threshold: 0.25,
		At:        time.Now().UTC(),
	}})
	if err != nil {
		t.Fatalf("PublishAlerts: %v", err)
	}

	if captured.contentType != "application/json" {
		t.Fatalf("unexpected content type %q", captured.contentType)
	}
	var doc struct {
		Source string                `json:"source"`
		Alerts []notifications.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(captured.body, &doc); err != nil {
		t.Fatalf("unmarshal alert document: %v", err)
	}
	if doc.Source != "conveyor" {
		t.Fatalf("unexpected source %q", doc.Source)
	}
	if len(doc.Alerts) != 1 || doc.Alerts[0].Type != "error_rate" {
		t.Fatalf("unexpected alerts %+v", doc.Alerts)
	}
}

func TestWebhookServiceRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Health.WebhookURL = server.URL

	svc := notifications.NewService(&cfg)
	err := svc.PublishAlerts(context.Background(), []notifications.Alert{{Type: "queue_depth"}})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestPublishAlertsSkipsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected for empty alert list")
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Health.WebhookURL = server.URL

	svc := notifications.NewService(&cfg)
	if err := svc.PublishAlerts(context.Background(), nil); err != nil {
		t.Fatalf("PublishAlerts: %v", err)
	}
}
