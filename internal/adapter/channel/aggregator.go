package channel

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/V4T54L/postbus/internal/domain"
)

// AggregatorAdapter forwards every channel of a job to the tenant's own webhook.
type AggregatorAdapter struct {
	caller *httpCaller
	now    func() time.Time
}

// NewAggregatorAdapter creates the aggregator adapter. Tenant webhooks are
// independent endpoints, so no breaker is shared between them.
func NewAggregatorAdapter(cfg ExecutorConfig, logger *slog.Logger) *AggregatorAdapter {
	return &AggregatorAdapter{
		caller: newHTTPCaller("aggregator", cfg, false, logger),
		now:    time.Now,
	}
}

type aggregatorPayload struct {
	Tenant   string         `json:"tenant"`
	Channel  domain.Channel `json:"channel"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
	Caption  string         `json:"caption,omitempty"`
	MediaURL string         `json:"media_url,omitempty"`
	JobID    string         `json:"job_id"`
	TS       time.Time      `json:"ts"`
}

func (a *AggregatorAdapter) Publish(ctx context.Context, tenant *domain.Tenant, req domain.PublishRequest) (*domain.PublishConfirmation, error) {
	p, ok := tenant.Policy.(domain.AggregatorPolicy)
	if !ok || strings.TrimSpace(p.WebhookURL) == "" {
		return nil, domain.NewPublishError(req.Channel, domain.KindUnconfigured, "tenant %s has no aggregator webhook", tenant.ID)
	}

	body, err := a.caller.postJSON(ctx, req.Channel, p.WebhookURL, nil, aggregatorPayload{
		Tenant:   tenant.ID,
		Channel:  req.Channel,
		Template: req.Template,
		Data:     req.Data,
		Caption:  req.Caption,
		MediaURL: req.MediaURL,
		JobID:    req.JobID,
		TS:       a.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return &domain.PublishConfirmation{Channel: req.Channel, PostID: parsePostID(body), PublishedAt: a.now().UTC()}, nil
}
