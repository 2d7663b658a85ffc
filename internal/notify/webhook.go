package notify

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/bigredeye/checkgate/api"
	"github.com/bigredeye/checkgate/internal/config"
	lf "github.com/bigredeye/checkgate/internal/logfield"
	"github.com/bigredeye/checkgate/internal/models"
)

const webhookAttempts = 4

// Webhook posts the finalized run as JSON to a configured endpoint,
// with bearer auth and exponential retries.
type Webhook struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

func NewWebhook(conf *config.Config, logger *zap.Logger) *Webhook {
	httpClient := http.DefaultClient
	if token := conf.Notify.Webhook.Token; token != "" {
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), source)
	}

	client := resty.NewWithClient(httpClient).
		SetTimeout(time.Second * 10)

	return &Webhook{
		client: client,
		url:    conf.Notify.Webhook.URL,
		logger: logger.Named("webhook"),
	}
}

func (w *Webhook) NotifyRunFinished(ctx context.Context, run *models.PipelineRun, results []models.GateResult) error {
	payload := api.RunFromModel(run, results)

	attempt := 0
	deliver := func() error {
		attempt++
		resp, err := w.client.R().
			SetContext(ctx).
			SetBody(payload).
			Post(w.url)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return errors.Errorf("Unexpected webhook response: %s", resp.Status())
		}
		return nil
	}
	retrying := func(err error, delay time.Duration) {
		w.logger.Warn("Retrying run webhook",
			zap.Error(err),
			lf.RunID(run.ID),
			lf.Attempt(attempt),
			zap.Duration("delay", delay),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), webhookAttempts), ctx)
	if err := backoff.RetryNotify(deliver, policy, retrying); err != nil {
		return errors.Wrap(err, "Failed to deliver run webhook")
	}

	w.logger.Info("Delivered run webhook", lf.RunID(run.ID), lf.Status(run.Status))
	return nil
}
