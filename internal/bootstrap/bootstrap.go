// Package bootstrap opens the configured backends and assembles the
// components shared by the api and dispatcher binaries.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/postbus/internal/adapter/api/middleware"
	"github.com/V4T54L/postbus/internal/adapter/metrics"
	kafkarepo "github.com/V4T54L/postbus/internal/adapter/repository/kafka"
	"github.com/V4T54L/postbus/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/postbus/internal/adapter/repository/redis"
	"github.com/V4T54L/postbus/internal/domain"
	"github.com/V4T54L/postbus/internal/pkg/config"
)

// OpenRedis connects to addr, which may be a redis:// URL or host:port. A
// failed ping is returned alongside the client so producers can start in
// WAL-only mode.
func OpenRedis(ctx context.Context, addr string) (redis.UniversalClient, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return client, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// OpenPostgres opens and pings the database.
func OpenPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

// Stores are the repositories selected by configuration.
type Stores struct {
	KV          domain.KVStore
	Tenants     domain.TenantRepository
	DeadLetters domain.DeadLetterSink
	Keys        domain.APIKeyRepository
	// StreamAdmin is nil unless the queue backend is Redis.
	StreamAdmin domain.StreamAdminRepository
}

// NewStores wires the repositories for cfg. db may be nil when no store is
// configured for postgres.
func NewStores(cfg *config.Config, rdb redis.UniversalClient, db *sql.DB, m *metrics.PostBusMetrics, logger *slog.Logger) (*Stores, error) {
	needsDB := cfg.TenantStore == config.BackendPostgres || cfg.DeadLetterSink == config.BackendPostgres
	if needsDB && db == nil {
		return nil, errors.New("postgres is configured but no database is open")
	}

	s := &Stores{KV: redisrepo.NewKVStore(rdb)}

	if cfg.TenantStore == config.BackendPostgres {
		s.Tenants = postgres.NewTenantRepository(db)
	} else {
		s.Tenants = redisrepo.NewTenantRepository(rdb)
	}

	if cfg.DeadLetterSink == config.BackendPostgres {
		s.DeadLetters = postgres.NewDeadLetterRepository(db)
	} else {
		s.DeadLetters = redisrepo.NewDeadLetterStream(rdb, cfg.DeadLetterStream, logger)
	}

	switch {
	case len(cfg.AdminAPIKeys) > 0:
		s.Keys = middleware.NewStaticKeys(cfg.AdminAPIKeys)
	case db != nil:
		s.Keys = postgres.NewAPIKeyRepository(db, logger, cfg.APIKeyCacheTTL, m)
	default:
		logger.Warn("no admin API keys configured, admin routes will reject every request")
		s.Keys = middleware.NewStaticKeys(nil)
	}

	if cfg.QueueBackend == config.BackendRedis {
		s.StreamAdmin = redisrepo.NewAdminRepository(rdb, redisrepo.QueueConfig{
			Stream: cfg.QueueStream,
			Group:  cfg.ConsumerGroup,
		}, logger)
	}
	return s, nil
}

// Queue is the configured job queue plus the lifecycle hooks of its backend.
type Queue struct {
	domain.JobQueue
	stream *redisrepo.JobQueue
	kafka  *kafkarepo.JobQueue
}

// QueueOptions select the role of the process on the queue.
type QueueOptions struct {
	// Consumer is the consumer name; empty for producer-only processes.
	Consumer string
	// WAL buffers Redis producers during outages; nil disables it.
	WAL domain.WALRepository
}

// NewQueue builds the job queue for cfg.QueueBackend.
func NewQueue(cfg *config.Config, rdb redis.UniversalClient, opts QueueOptions, m *metrics.PostBusMetrics, logger *slog.Logger) *Queue {
	if cfg.QueueBackend == config.BackendKafka {
		group := ""
		if opts.Consumer != "" {
			group = cfg.ConsumerGroup
		}
		q := kafkarepo.NewJobQueue(cfg.KafkaBrokers, cfg.KafkaTopic, group, logger)
		return &Queue{JobQueue: q, kafka: q}
	}

	q := redisrepo.NewJobQueue(rdb, redisrepo.QueueConfig{
		Stream:   cfg.QueueStream,
		Group:    cfg.ConsumerGroup,
		Consumer: opts.Consumer,
	}, opts.WAL, m, logger)
	return &Queue{JobQueue: q, stream: q}
}

// StartHealthCheck runs the Redis WAL failover loop until ctx is done. It
// returns immediately for Kafka.
func (q *Queue) StartHealthCheck(ctx context.Context, interval time.Duration) {
	if q.stream != nil {
		q.stream.StartHealthCheck(ctx, interval)
	}
}

// ReplayWAL drains jobs logged by a previous run into Redis.
func (q *Queue) ReplayWAL(ctx context.Context) error {
	if q.stream == nil {
		return nil
	}
	return q.stream.ReplayWAL(ctx)
}

func (q *Queue) Close() error {
	if q.kafka != nil {
		return q.kafka.Close()
	}
	return nil
}
