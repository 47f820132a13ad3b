package channel

import (
	"log/slog"

	"github.com/V4T54L/postbus/internal/domain"
)

// NewAdapterSet builds a direct adapter for every known channel plus the
// aggregator.
func NewAdapterSet(endpoints map[domain.Channel]string, cfg ExecutorConfig, logger *slog.Logger) domain.AdapterSet {
	set := domain.AdapterSet{
		Aggregator: NewAggregatorAdapter(cfg, logger),
		Direct:     make(map[domain.Channel]domain.ChannelAdapter, len(domain.AllChannels)),
	}
	for _, ch := range domain.AllChannels {
		set.Direct[ch] = NewDirectAdapter(ch, endpoints[ch], cfg, logger)
	}
	return set
}
