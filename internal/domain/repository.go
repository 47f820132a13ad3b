package domain

import (
	"context"
	"time"
)

// KVStore is a plain key-value store with optional TTL and no transactions.
// Incr is the only atomic read-modify-write it offers.
type KVStore interface {
	// Get returns ErrNotFound when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Incr atomically increments the integer at key and (re)sets its TTL.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// JobQueue is the at-least-once durable queue between admission and dispatch.
type JobQueue interface {
	// Enqueue hands a job to the broker.
	Enqueue(ctx context.Context, job Job) error

	// ReadBatch returns up to count delivered jobs with DeliveryID set.
	ReadBatch(ctx context.Context, count int) ([]Job, error)

	// Ack marks jobs as consumed so the broker does not redeliver them.
	Ack(ctx context.Context, jobs ...Job) error
}

// TenantRepository persists tenant records.
type TenantRepository interface {
	// FindByID returns ErrNotFound when the tenant has never been stored.
	FindByID(ctx context.Context, id string) (*TenantRecord, error)

	// Store inserts or replaces the record.
	Store(ctx context.Context, rec TenantRecord) error
}

// DeadLetterSink stores dead-letter records for external triage.
type DeadLetterSink interface {
	WriteDeadLetter(ctx context.Context, rec DeadLetterRecord) error
	ListDeadLetters(ctx context.Context, count int64) ([]DeadLetterRecord, error)
}

// Alerter sends best-effort notifications about dead-lettered jobs.
type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// APIKeyRepository defines the interface for validating admin API keys.
type APIKeyRepository interface {
	// IsValid checks if the provided API key is valid and active.
	// Implementations should handle caching to reduce database load.
	IsValid(ctx context.Context, key string) (bool, error)
}

// WALRepository is the local write-ahead log used when the queue is unreachable.
type WALRepository interface {
	// Write appends a job to the current segment.
	Write(ctx context.Context, job Job) error

	// Replay hands every logged job to handler, oldest first.
	Replay(ctx context.Context, handler func(job Job) error) error

	// Truncate removes replayed segments.
	Truncate(ctx context.Context) error
}

// StreamAdminRepository exposes broker stream internals to operators.
type StreamAdminRepository interface {
	GetGroupInfo(ctx context.Context, stream string) ([]ConsumerGroupInfo, error)
	GetConsumerInfo(ctx context.Context, stream, group string) ([]ConsumerInfo, error)
	GetPendingSummary(ctx context.Context, stream, group string) (*PendingMessageSummary, error)
	GetPendingMessages(ctx context.Context, stream, group, consumer, startID string, count int64) ([]PendingMessageDetail, error)
	ClaimMessages(ctx context.Context, stream, group, consumer string, minIdleTime time.Duration, messageIDs []string) ([]Job, error)
	AcknowledgeMessages(ctx context.Context, stream, group string, messageIDs ...string) (int64, error)
	TrimStream(ctx context.Context, stream string, maxLen int64) (int64, error)
}
