package channel

import (
	"context"
	"log/slog"
	"time"

	"github.com/V4T54L/postbus/internal/domain"
)

// DirectAdapter publishes one channel with the tenant's own credentials.
// Platform-specific API clients live behind Endpoint; this adapter only speaks
// the shared JSON contract.
type DirectAdapter struct {
	channel  domain.Channel
	endpoint string
	// platform guards the shared endpoint with a breaker; webhook serves
	// tenant-owned URLs, which must not trip each other.
	platform *httpCaller
	webhook  *httpCaller
	now      func() time.Time
}

// NewDirectAdapter creates the adapter for ch. An empty endpoint means direct
// publishing to ch is not available yet.
func NewDirectAdapter(ch domain.Channel, endpoint string, cfg ExecutorConfig, logger *slog.Logger) *DirectAdapter {
	return &DirectAdapter{
		channel:  ch,
		endpoint: endpoint,
		platform: newHTTPCaller(string(ch), cfg, true, logger),
		webhook:  newHTTPCaller(string(ch)+"_webhook", cfg, false, logger),
		now:      time.Now,
	}
}

type directPayload struct {
	JobID    string         `json:"job_id"`
	Tenant   string         `json:"tenant"`
	Template string         `json:"template"`
	Caption  string         `json:"caption"`
	MediaURL string         `json:"media_url,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

func (a *DirectAdapter) Publish(ctx context.Context, tenant *domain.Tenant, req domain.PublishRequest) (*domain.PublishConfirmation, error) {
	p, ok := tenant.Policy.(domain.PerChannelPolicy)
	if !ok || !p.IsManaged(a.channel) {
		return nil, domain.NewPublishError(a.channel, domain.KindUnconfigured, "channel not managed for tenant %s", tenant.ID)
	}

	payload := directPayload{
		JobID:    req.JobID,
		Tenant:   tenant.ID,
		Template: req.Template,
		Caption:  req.Caption,
		MediaURL: req.MediaURL,
		Data:     req.Data,
	}

	creds := tenant.Credentials[a.channel]
	var (
		body []byte
		err  error
	)
	switch {
	case creds.WebhookURL != "":
		body, err = a.webhook.postJSON(ctx, a.channel, creds.WebhookURL, nil, payload)
	case creds.AccessToken == "":
		return nil, domain.NewPublishError(a.channel, domain.KindUnconfigured, "no credentials for tenant %s", tenant.ID)
	case a.endpoint == "":
		return nil, domain.NewPublishError(a.channel, domain.KindNotImplemented, "direct publishing not available")
	default:
		body, err = a.platform.postJSON(ctx, a.channel, a.endpoint, map[string]string{
			"Authorization": "Bearer " + creds.AccessToken,
		}, payload)
	}
	if err != nil {
		return nil, err
	}
	return &domain.PublishConfirmation{Channel: a.channel, PostID: parsePostID(body), PublishedAt: a.now().UTC()}, nil
}
