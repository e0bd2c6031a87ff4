// Package host delivers launch decisions to the exclusive UI surface. The
// surface is an external collaborator: it eventually calls back with an
// explicit user choice or a plain session-ended signal. The scheduler has no
// retry obligation; a failed delivery degrades to suppress.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/goodtune/intentgate/internal/metrics"
	"github.com/goodtune/intentgate/internal/scheduler"
	"github.com/rs/zerolog"
)

// Notifier requests the host to bring up an exclusive surface.
type Notifier interface {
	NotifyLaunch(ctx context.Context, app string, reason scheduler.Reason) error
}

// NopNotifier discards launch requests. Used when no host delivery is
// configured; the decision is still recorded and queryable over the API.
type NopNotifier struct{}

// NotifyLaunch implements Notifier.
func (NopNotifier) NotifyLaunch(context.Context, string, scheduler.Reason) error {
	return nil
}

// launchPayload is the webhook request body.
type launchPayload struct {
	App       string           `json:"app"`
	Reason    scheduler.Reason `json:"reason"`
	Timestamp time.Time        `json:"timestamp"`
}

// WebhookNotifier POSTs launch requests to the host surface's endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "host-webhook").Logger(),
	}
}

// NotifyLaunch implements Notifier.
func (n *WebhookNotifier) NotifyLaunch(ctx context.Context, app string, reason scheduler.Reason) error {
	body, err := json.Marshal(launchPayload{App: app, Reason: reason, Timestamp: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal launch payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build launch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		metrics.HostNotifyFailuresTotal.WithLabelValues("webhook").Inc()
		return fmt.Errorf("deliver launch to host: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		metrics.HostNotifyFailuresTotal.WithLabelValues("webhook").Inc()
		return fmt.Errorf("host rejected launch: status %d", resp.StatusCode)
	}

	n.logger.Debug().
		Str("app", app).
		Str("reason", string(reason)).
		Msg("Launch delivered to host")
	return nil
}
