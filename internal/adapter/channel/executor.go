package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/V4T54L/postbus/internal/domain"
)

const maxResponseBytes = 1 << 20

// ExecutorConfig configures retries and the optional circuit breaker for
// outbound publish calls.
type ExecutorConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Breaker settings; BreakerWindow == 0 disables the breaker.
	BreakerFailures uint
	BreakerWindow   uint
	BreakerDelay    time.Duration

	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration
}

// DefaultExecutorConfig returns the settings used by the dispatcher binary.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxRetries:      2,
		BaseDelay:       200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BreakerFailures: 5,
		BreakerWindow:   10,
		BreakerDelay:    30 * time.Second,
		RequestTimeout:  10 * time.Second,
	}
}

// statusError carries a non-2xx status out of an attempt so the policies can
// classify it.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.code)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500 && code != http.StatusNotImplemented
}

// shouldRetry retries network failures and retryable statuses, never caller
// cancellation or an open breaker.
func shouldRetry(_ *http.Response, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return retryableStatus(se.code)
	}
	return true
}

// httpCaller posts JSON through a failsafe executor and maps the outcome to
// a *domain.PublishError.
type httpCaller struct {
	name     string
	client   *http.Client
	executor failsafe.Executor[*http.Response]
	logger   *slog.Logger
}

func newHTTPCaller(name string, cfg ExecutorConfig, withBreaker bool, logger *slog.Logger) *httpCaller {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	logger = logger.With("component", "channel_adapter", "adapter", name)

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(shouldRetry).
		Build()

	policies := []failsafe.Policy[*http.Response]{retry}
	if withBreaker && cfg.BreakerWindow > 0 {
		breaker := circuitbreaker.NewBuilder[*http.Response]().
			WithFailureThresholdRatio(cfg.BreakerFailures, cfg.BreakerWindow).
			WithDelay(cfg.BreakerDelay).
			WithSuccessThreshold(1).
			HandleIf(shouldRetry).
			OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
				logger.Warn("circuit breaker state change", "from_state", stateName(e.OldState), "to_state", stateName(e.NewState))
			}).
			Build()
		policies = append(policies, breaker)
	}

	return &httpCaller{
		name:     name,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		executor: failsafe.With(policies...),
		logger:   logger,
	}
}

// postJSON sends payload to url and returns the response body of a 2xx reply.
func (c *httpCaller) postJSON(ctx context.Context, ch domain.Channel, url string, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewPublishError(ch, domain.KindFatal, "encode payload: %w", err)
	}

	var respBody []byte
	lastStatus := 0
	_, err = c.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastStatus = 0
			c.logger.Debug("publish attempt failed", "error", err)
			return nil, err
		}
		defer resp.Body.Close()
		lastStatus = resp.StatusCode

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
			return nil, &statusError{code: resp.StatusCode}
		}
		respBody, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err == nil {
		return respBody, nil
	}
	return nil, classify(ch, lastStatus, err)
}

// classify maps the final attempt to an error kind.
func classify(ch domain.Channel, status int, err error) *domain.PublishError {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &domain.PublishError{Channel: ch, Kind: domain.KindUnconfigured, Err: fmt.Errorf("credentials rejected: %w", err)}
	case status == http.StatusNotImplemented:
		return &domain.PublishError{Channel: ch, Kind: domain.KindNotImplemented, Err: err}
	case status != 0 && !retryableStatus(status):
		return &domain.PublishError{Channel: ch, Kind: domain.KindFatal, Err: err}
	default:
		return &domain.PublishError{Channel: ch, Kind: domain.KindTransient, Err: err}
	}
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}

// publishResponse is the optional body returned by publish endpoints.
type publishResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
}

func parsePostID(body []byte) string {
	var r publishResponse
	if len(body) == 0 || json.Unmarshal(body, &r) != nil {
		return ""
	}
	if r.PostID != "" {
		return r.PostID
	}
	return r.ID
}
