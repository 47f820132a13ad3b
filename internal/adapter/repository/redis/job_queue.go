package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/postbus/internal/adapter/metrics"
	"github.com/V4T54L/postbus/internal/domain"
)

const (
	payloadField        = "payload"
	defaultBlockTimeout = 2 * time.Second
)

// QueueConfig names the stream and consumer identity a JobQueue works with.
type QueueConfig struct {
	Stream   string
	Group    string
	Consumer string
	// Block bounds how long ReadBatch waits for new entries. Negative means
	// return immediately.
	Block time.Duration
}

// JobQueue is the Redis Streams implementation of domain.JobQueue. Producers
// fall back to the local WAL while Redis is unreachable.
type JobQueue struct {
	client         redis.UniversalClient
	logger         *slog.Logger
	metrics        *metrics.PostBusMetrics
	wal            domain.WALRepository
	cfg            QueueConfig
	isAvailable    atomic.Bool
	pendingDrained atomic.Bool
}

// NewJobQueue creates the queue and makes sure the consumer group exists.
// The WAL is optional; dispatchers pass nil.
func NewJobQueue(client redis.UniversalClient, cfg QueueConfig, wal domain.WALRepository, m *metrics.PostBusMetrics, logger *slog.Logger) *JobQueue {
	if cfg.Block == 0 {
		cfg.Block = defaultBlockTimeout
	}
	q := &JobQueue{
		client:  client,
		logger:  logger.With("component", "redis_job_queue", "stream", cfg.Stream),
		metrics: m,
		wal:     wal,
		cfg:     cfg,
	}
	q.isAvailable.Store(true)

	if err := q.setupConsumerGroup(context.Background()); err != nil {
		q.markUnavailable(err)
		q.logger.Error("failed to set up consumer group, redis may be unavailable on startup", "error", err)
	}
	return q
}

// StartHealthCheck pings Redis every interval and replays the WAL once it
// recovers. It blocks until ctx is done.
func (q *JobQueue) StartHealthCheck(ctx context.Context, interval time.Duration) {
	if q.wal == nil {
		q.logger.Info("WAL is not configured, skipping health check")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.checkHealth(ctx)
		}
	}
}

func (q *JobQueue) checkHealth(ctx context.Context) {
	if err := q.client.Ping(ctx).Err(); err != nil {
		q.markUnavailable(err)
		return
	}
	if q.isAvailable.Load() {
		return
	}
	if err := q.setupConsumerGroup(ctx); err != nil {
		q.logger.Error("failed to set up consumer group after recovery", "error", err)
		return
	}
	if err := q.ReplayWAL(ctx); err != nil {
		q.logger.Error("failed to replay WAL after redis recovery", "error", err)
		return
	}
	q.isAvailable.Store(true)
	q.metrics.SetWALActive(false)
	q.logger.Info("redis connection recovered")
}

// ReplayWAL moves every logged job into the stream and truncates the WAL.
func (q *JobQueue) ReplayWAL(ctx context.Context) error {
	if q.wal == nil {
		return nil
	}
	replayed := 0
	err := q.wal.Replay(ctx, func(job domain.Job) error {
		if err := q.add(ctx, job); err != nil {
			return err
		}
		replayed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("WAL replay failed: %w", err)
	}
	if err := q.wal.Truncate(ctx); err != nil {
		return fmt.Errorf("failed to truncate WAL after replay: %w", err)
	}
	q.logger.Info("WAL replayed to redis", "jobs", replayed)
	return nil
}

func (q *JobQueue) setupConsumerGroup(ctx context.Context) error {
	if q.cfg.Group == "" {
		return nil
	}
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !isBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Enqueue appends the job to the stream, or to the WAL while Redis is down.
func (q *JobQueue) Enqueue(ctx context.Context, job domain.Job) error {
	if !q.isAvailable.Load() {
		return q.writeWAL(ctx, job, nil)
	}

	err := q.add(ctx, job)
	if err != nil && isNetworkError(err) {
		q.markUnavailable(err)
		return q.writeWAL(ctx, job, err)
	}
	return err
}

func (q *JobQueue) writeWAL(ctx context.Context, job domain.Job, cause error) error {
	if q.wal == nil {
		if cause == nil {
			cause = errors.New("redis is unavailable")
		}
		return fmt.Errorf("WAL is not configured: %w", cause)
	}
	q.logger.Warn("redis is unavailable, writing job to WAL", "job_id", job.ID, "tenant", job.Tenant)
	return q.wal.Write(ctx, job)
}

func (q *JobQueue) markUnavailable(err error) {
	if q.isAvailable.CompareAndSwap(true, false) {
		q.logger.Error("redis connection lost", "error", err)
		if q.wal != nil {
			q.metrics.SetWALActive(true)
		}
	}
}

func (q *JobQueue) add(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]interface{}{payloadField: payload},
	}
	if err := q.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD to redis stream: %w", err)
	}
	return nil
}

// ReadBatch returns up to count jobs for this consumer. Entries left pending by
// a previous run of the same consumer are returned before new ones.
func (q *JobQueue) ReadBatch(ctx context.Context, count int) ([]domain.Job, error) {
	if !q.pendingDrained.Load() {
		jobs, err := q.read(ctx, "0", count, -1)
		if err != nil {
			return nil, err
		}
		if len(jobs) > 0 {
			return jobs, nil
		}
		q.pendingDrained.Store(true)
	}
	return q.read(ctx, ">", count, q.cfg.Block)
}

func (q *JobQueue) read(ctx context.Context, start string, count int, block time.Duration) ([]domain.Job, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		Streams:  []string{q.cfg.Stream, start},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XREADGROUP from redis: %w", err)
	}
	if len(streams) == 0 {
		return nil, nil
	}

	jobs := make([]domain.Job, 0, len(streams[0].Messages))
	var poison []string
	for _, msg := range streams[0].Messages {
		job, err := decodeJob(msg)
		if err != nil {
			q.logger.Warn("undecodable job in stream, acknowledging", "message_id", msg.ID, "error", err)
			poison = append(poison, msg.ID)
			continue
		}
		jobs = append(jobs, job)
	}
	if len(poison) > 0 {
		if err := q.client.XAck(ctx, q.cfg.Stream, q.cfg.Group, poison...).Err(); err != nil {
			q.logger.Warn("failed to acknowledge undecodable jobs", "error", err)
		}
	}
	return jobs, nil
}

// Ack acknowledges the jobs' stream entries.
func (q *JobQueue) Ack(ctx context.Context, jobs ...domain.Job) error {
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if j.DeliveryID != "" {
			ids = append(ids, j.DeliveryID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := q.client.XAck(ctx, q.cfg.Stream, q.cfg.Group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to XACK messages in redis: %w", err)
	}
	return nil
}

func decodeJob(msg redis.XMessage) (domain.Job, error) {
	var job domain.Job
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		return job, errors.New("missing payload field")
	}
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return job, err
	}
	job.DeliveryID = msg.ID
	return job, nil
}

func isBusyGroupError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed)
}
