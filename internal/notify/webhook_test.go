package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/bigredeye/checkgate/api"
	"github.com/bigredeye/checkgate/internal/config"
	"github.com/bigredeye/checkgate/internal/models"
)

func webhookConfig(url, token string) *config.Config {
	conf := &config.Config{}
	conf.Notify.Webhook.URL = url
	conf.Notify.Webhook.Token = token
	return conf
}

func finishedRun() (*models.PipelineRun, []models.GateResult) {
	run := &models.PipelineRun{
		ID:     "run-1",
		Branch: "main",
		Event:  "push",
		Status: models.RunStatusFailed,
	}
	results := []models.GateResult{
		{RunID: run.ID, Gate: "clippy", Status: models.GateStatusFailed, ExitCode: 101},
	}
	return run, results
}

func TestWebhookDelivery(t *testing.T) {
	var received api.Run
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook := NewWebhook(webhookConfig(server.URL, "secret"), zap.NewNop())
	run, results := finishedRun()

	if err := webhook.NotifyRunFinished(context.Background(), run, results); err != nil {
		t.Fatal("Failed to deliver webhook:", err)
	}

	if received.ID != run.ID || received.Status != models.RunStatusFailed {
		t.Fatalf("Unexpected payload: %+v", received)
	}
	if len(received.Gates) != 1 || received.Gates[0].Gate != "clippy" {
		t.Fatalf("Unexpected gates: %+v", received.Gates)
	}
}

func TestWebhookRetriesTransientFailures(t *testing.T) {
	attempts := atomic.NewInt32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Inc() == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook := NewWebhook(webhookConfig(server.URL, ""), zap.NewNop())
	run, results := finishedRun()

	if err := webhook.NotifyRunFinished(context.Background(), run, results); err != nil {
		t.Fatal("Failed to deliver webhook:", err)
	}
	if attempts.Load() < 2 {
		t.Fatalf("Expected a retry, got %d attempts", attempts.Load())
	}
}
