package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/V4T54L/postbus/internal/domain"
)

const sendTimeout = 10 * time.Second

// WebhookAlerter posts dead-letter alerts to an operator webhook. Alerts are
// sent asynchronously and throttled per tenant; with no URL configured they are
// only logged.
type WebhookAlerter struct {
	url        string
	client     *http.Client
	logger     *slog.Logger
	ratePerMin int
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	wg         sync.WaitGroup
}

// NewWebhookAlerter creates an alerter. ratePerMinute <= 0 disables throttling.
func NewWebhookAlerter(url string, ratePerMinute int, logger *slog.Logger) *WebhookAlerter {
	return &WebhookAlerter{
		url:        url,
		client:     &http.Client{Timeout: sendTimeout},
		logger:     logger.With("component", "alert_webhook"),
		ratePerMin: ratePerMinute,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Alert schedules the notification and returns immediately.
func (a *WebhookAlerter) Alert(ctx context.Context, alert domain.Alert) error {
	if !a.allow(alert.Tenant) {
		a.logger.Warn("alert throttled", "tenant", alert.Tenant)
		return nil
	}
	if a.url == "" {
		a.logger.Warn("dead letter alert", "tenant", alert.Tenant, "reason", alert.Reason, "ts", alert.TS)
		return nil
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		if err := a.Send(sendCtx, alert); err != nil {
			a.logger.Warn("failed to deliver alert", "tenant", alert.Tenant, "error", err)
		}
	}()
	return nil
}

// Send posts {tenant, reason, ts} synchronously.
func (a *WebhookAlerter) Send(ctx context.Context, alert domain.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Wait blocks until in-flight alerts have finished.
func (a *WebhookAlerter) Wait() {
	a.wg.Wait()
}

func (a *WebhookAlerter) allow(tenant string) bool {
	if a.ratePerMin <= 0 {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[tenant]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(a.ratePerMin)), a.ratePerMin)
		a.limiters[tenant] = l
	}
	return l.Allow()
}
