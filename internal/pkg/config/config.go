package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/V4T54L/postbus/internal/domain"
)

const (
	BackendRedis    = "redis"
	BackendKafka    = "kafka"
	BackendPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	APIServerAddr   string `env:"API_SERVER_ADDR" envDefault:":8080"`
	AdminServerAddr string `env:"ADMIN_SERVER_ADDR" envDefault:":9091"`
	MetricsAddr     string `env:"DISPATCHER_METRICS_ADDR" envDefault:":9092"`
	MaxBodySize     int64  `env:"MAX_BODY_SIZE_BYTES" envDefault:"262144"` // 256KB

	RedisAddr   string `env:"REDIS_ADDR,required"`
	PostgresURL string `env:"POSTGRES_URL"`

	QueueBackend     string   `env:"QUEUE_BACKEND" envDefault:"redis"`
	QueueStream      string   `env:"QUEUE_STREAM" envDefault:"postbus:jobs"`
	ConsumerGroup    string   `env:"CONSUMER_GROUP" envDefault:"post-dispatchers"`
	KafkaBrokers     []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic       string   `env:"KAFKA_TOPIC" envDefault:"postbus.jobs"`
	DeadLetterStream string   `env:"DEAD_LETTER_STREAM" envDefault:"postbus:dead_letters"`
	DeadLetterSink   string   `env:"DEAD_LETTER_BACKEND" envDefault:"redis"`
	TenantStore      string   `env:"TENANT_STORE" envDefault:"redis"`

	JWTSecret      string        `env:"JWT_SECRET,required"`
	AdminAPIKeys   []string      `env:"ADMIN_API_KEYS" envSeparator:","`
	APIKeyCacheTTL time.Duration `env:"API_KEY_CACHE_TTL" envDefault:"5m"`

	IdempotencyTTL  time.Duration  `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	QuotaCeilings   map[string]int `env:"QUOTA_CEILINGS" envDefault:"yt=6,fb=100,ig=50,tiktok=50,x=100" envKeyValSeparator:"="`
	QuotaCounterTTL time.Duration  `env:"QUOTA_COUNTER_TTL" envDefault:"25h"`

	AdapterTimeout    time.Duration     `env:"ADAPTER_TIMEOUT" envDefault:"30s"`
	AdapterMaxRetries int               `env:"ADAPTER_MAX_RETRIES" envDefault:"2"`
	ChannelEndpoints  map[string]string `env:"CHANNEL_ENDPOINTS" envKeyValSeparator:"="`

	AlertWebhookURL    string `env:"ALERT_WEBHOOK_URL"`
	AlertRatePerMinute int    `env:"ALERT_RATE_PER_MINUTE" envDefault:"6"`

	DispatchBatchSize int           `env:"DISPATCH_BATCH_SIZE" envDefault:"50"`
	DispatchInterval  time.Duration `env:"DISPATCH_INTERVAL" envDefault:"1s"`

	WALPath        string `env:"WAL_PATH" envDefault:"/var/lib/postbus/wal"`
	WALSegmentSize int64  `env:"WAL_SEGMENT_SIZE_BYTES" envDefault:"16777216"`   // 16MB
	WALMaxDiskSize int64  `env:"WAL_MAX_DISK_SIZE_BYTES" envDefault:"536870912"` // 512MB

	CredentialRedactionFields []string `env:"CREDENTIAL_REDACTION_FIELDS" envSeparator:"," envDefault:"access_token,refresh_token,client_secret,webhook_url"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects backend names and channel keys the service does not know.
func (c *Config) Validate() error {
	switch c.QueueBackend {
	case BackendRedis:
	case BackendKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("QUEUE_BACKEND=kafka requires KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend)
	}

	for name, backend := range map[string]string{"DEAD_LETTER_BACKEND": c.DeadLetterSink, "TENANT_STORE": c.TenantStore} {
		switch backend {
		case BackendRedis:
		case BackendPostgres:
			if c.PostgresURL == "" {
				return fmt.Errorf("%s=postgres requires POSTGRES_URL", name)
			}
		default:
			return fmt.Errorf("unknown %s %q", name, backend)
		}
	}

	if _, err := c.Ceilings(); err != nil {
		return err
	}
	if _, err := c.Endpoints(); err != nil {
		return err
	}
	return nil
}

// Ceilings returns the daily quota ceilings keyed by channel.
func (c *Config) Ceilings() (map[domain.Channel]int, error) {
	out := make(map[domain.Channel]int, len(c.QuotaCeilings))
	for name, ceiling := range c.QuotaCeilings {
		ch, ok := domain.ParseChannel(name)
		if !ok {
			return nil, fmt.Errorf("QUOTA_CEILINGS: unknown channel %q", name)
		}
		if ceiling < 0 {
			return nil, fmt.Errorf("QUOTA_CEILINGS: negative ceiling for %q", name)
		}
		out[ch] = ceiling
	}
	return out, nil
}

// Endpoints returns the direct publish endpoints keyed by channel.
func (c *Config) Endpoints() (map[domain.Channel]string, error) {
	out := make(map[domain.Channel]string, len(c.ChannelEndpoints))
	for name, endpoint := range c.ChannelEndpoints {
		ch, ok := domain.ParseChannel(name)
		if !ok {
			return nil, fmt.Errorf("CHANNEL_ENDPOINTS: unknown channel %q", name)
		}
		out[ch] = endpoint
	}
	return out, nil
}
