package domain

import (
	"context"
	"time"
)

// PublishRequest is what an adapter receives for one channel of a job.
type PublishRequest struct {
	JobID    string
	Channel  Channel
	Template string
	Caption  string
	MediaURL string
	Data     map[string]any
}

// PublishConfirmation is returned by an adapter after a successful publish.
type PublishConfirmation struct {
	Channel     Channel   `json:"channel"`
	PostID      string    `json:"post_id,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// ChannelAdapter publishes to one destination. Failures should be *PublishError;
// any other error is treated as fatal.
type ChannelAdapter interface {
	Publish(ctx context.Context, tenant *Tenant, req PublishRequest) (*PublishConfirmation, error)
}

// AdapterSet holds the direct adapter per channel plus the aggregator.
type AdapterSet struct {
	Aggregator ChannelAdapter
	Direct     map[Channel]ChannelAdapter
}

// For returns the direct adapter registered for ch.
func (s AdapterSet) For(ch Channel) (ChannelAdapter, bool) {
	a, ok := s.Direct[ch]
	return a, ok && a != nil
}
