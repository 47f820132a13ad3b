package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "postbus"

// PostBusMetrics holds all Prometheus metrics for the post bus services.
// A nil *PostBusMetrics is valid and records nothing.
type PostBusMetrics struct {
	AdmissionsTotal   *prometheus.CounterVec
	ChannelsTotal     *prometheus.CounterVec
	JobsTotal         *prometheus.CounterVec
	AdapterLatency    *prometheus.HistogramVec
	RedeliverySkips   prometheus.Counter
	WALActive         prometheus.Gauge
	APIKeyCacheHits   prometheus.Counter
	APIKeyCacheMisses prometheus.Counter
}

// NewPostBusMetrics registers the metrics with reg. Tests pass a fresh
// prometheus.NewRegistry(); binaries pass prometheus.DefaultRegisterer.
func NewPostBusMetrics(reg prometheus.Registerer) *PostBusMetrics {
	f := promauto.With(reg)
	return &PostBusMetrics{
		AdmissionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "requests_total",
			Help:      "Total number of publish admissions by status.",
		}, []string{"status"}), // status: queued, duplicate, invalid, forbidden, error
		ChannelsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "channel_results_total",
			Help:      "Per-channel dispatch outcomes.",
		}, []string{"channel", "status"}),
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "jobs_total",
			Help:      "Job outcomes: success, partial, dead_lettered, skipped.",
		}, []string{"outcome"}),
		AdapterLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "adapter_duration_seconds",
			Help:      "Channel adapter call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"channel"}),
		RedeliverySkips: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "redelivery_skips_total",
			Help:      "Redelivered jobs acknowledged without re-publishing because a final response exists.",
		}),
		WALActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "wal_active_gauge",
			Help:      "Indicates if the Write-Ahead Log is currently active (1 for active, 0 for inactive).",
		}),
		APIKeyCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "api_key_cache_hits_total",
			Help:      "Total number of API key cache hits.",
		}),
		APIKeyCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "api_key_cache_misses_total",
			Help:      "Total number of API key cache misses.",
		}),
	}
}

func (m *PostBusMetrics) Admission(status string) {
	if m == nil {
		return
	}
	m.AdmissionsTotal.WithLabelValues(status).Inc()
}

func (m *PostBusMetrics) ChannelResult(channel, status string) {
	if m == nil {
		return
	}
	m.ChannelsTotal.WithLabelValues(channel, status).Inc()
}

func (m *PostBusMetrics) JobOutcome(outcome string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(outcome).Inc()
}

func (m *PostBusMetrics) ObserveAdapter(channel string, d time.Duration) {
	if m == nil {
		return
	}
	m.AdapterLatency.WithLabelValues(channel).Observe(d.Seconds())
}

func (m *PostBusMetrics) RedeliverySkipped() {
	if m == nil {
		return
	}
	m.RedeliverySkips.Inc()
}

func (m *PostBusMetrics) SetWALActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.WALActive.Set(1)
		return
	}
	m.WALActive.Set(0)
}

func (m *PostBusMetrics) APIKeyCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.APIKeyCacheHits.Inc()
		return
	}
	m.APIKeyCacheMisses.Inc()
}
