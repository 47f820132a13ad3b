package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/postbus/internal/domain"
)

// JobStreamAlias lets operators address the configured job stream without
// knowing its key.
const JobStreamAlias = "jobs"

// AdminRepository exposes the job stream and its dispatcher group to operators.
// Stream and group arguments default to the ones the dispatchers use.
type AdminRepository struct {
	client redis.UniversalClient
	cfg    QueueConfig
	logger *slog.Logger
}

func NewAdminRepository(client redis.UniversalClient, cfg QueueConfig, logger *slog.Logger) *AdminRepository {
	return &AdminRepository{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "redis_admin", "stream", cfg.Stream),
	}
}

func (r *AdminRepository) stream(name string) string {
	if name == "" || name == JobStreamAlias {
		return r.cfg.Stream
	}
	return name
}

func (r *AdminRepository) group(name string) string {
	if name == "" {
		return r.cfg.Group
	}
	return name
}

func (r *AdminRepository) GetGroupInfo(ctx context.Context, stream string) ([]domain.ConsumerGroupInfo, error) {
	stream = r.stream(stream)
	groups, err := r.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dispatcher groups of %s: %w", stream, err)
	}

	out := make([]domain.ConsumerGroupInfo, 0, len(groups))
	for _, g := range groups {
		out = append(out, domain.ConsumerGroupInfo{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			LastDeliveredID: g.LastDeliveredID,
		})
	}
	return out, nil
}

// GetConsumerInfo lists the dispatcher instances of a group and how long each
// has been idle.
func (r *AdminRepository) GetConsumerInfo(ctx context.Context, stream, group string) ([]domain.ConsumerInfo, error) {
	stream, group = r.stream(stream), r.group(group)
	consumers, err := r.client.XInfoConsumers(ctx, stream, group).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dispatchers of %s/%s: %w", stream, group, err)
	}

	out := make([]domain.ConsumerInfo, 0, len(consumers))
	for _, c := range consumers {
		out = append(out, domain.ConsumerInfo{Name: c.Name, Pending: c.Pending, IdleMS: c.Idle.Milliseconds()})
	}
	return out, nil
}

func (r *AdminRepository) GetPendingSummary(ctx context.Context, stream, group string) (*domain.PendingMessageSummary, error) {
	stream, group = r.stream(stream), r.group(group)
	pending, err := r.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to summarise pending jobs of %s/%s: %w", stream, group, err)
	}
	return &domain.PendingMessageSummary{
		Total:          pending.Count,
		FirstMessageID: pending.Lower,
		LastMessageID:  pending.Higher,
		ConsumerTotals: pending.Consumers,
	}, nil
}

// GetPendingMessages lists unacknowledged deliveries from startID on, and
// names the tenant and job each one carries. Entries no longer in the stream
// are listed without them.
func (r *AdminRepository) GetPendingMessages(ctx context.Context, stream, group, consumer, startID string, count int64) ([]domain.PendingMessageDetail, error) {
	stream, group = r.stream(stream), r.group(group)
	if startID == "" {
		startID = "-"
	}
	messages, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   stream,
		Group:    group,
		Start:    startID,
		End:      "+",
		Count:    count,
		Consumer: consumer,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs of %s/%s: %w", stream, group, err)
	}
	if len(messages) == 0 {
		return []domain.PendingMessageDetail{}, nil
	}

	pipe := r.client.Pipeline()
	lookups := make([]*redis.XMessageSliceCmd, len(messages))
	for i, m := range messages {
		lookups[i] = pipe.XRangeN(ctx, stream, m.ID, m.ID, 1)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load pending jobs of %s: %w", stream, err)
	}

	out := make([]domain.PendingMessageDetail, len(messages))
	for i, m := range messages {
		out[i] = domain.PendingMessageDetail{
			ID:         m.ID,
			Consumer:   m.Consumer,
			IdleMS:     m.Idle.Milliseconds(),
			RetryCount: m.RetryCount,
		}
		entries, err := lookups[i].Result()
		if err != nil || len(entries) == 0 {
			continue
		}
		job, err := decodeJob(entries[0])
		if err != nil {
			r.logger.Warn("pending entry does not hold a job", "message_id", m.ID, "error", err)
			continue
		}
		out[i].JobID = job.ID
		out[i].Tenant = job.Tenant
	}
	return out, nil
}

// ClaimMessages reassigns idle pending jobs to consumer, typically after the
// dispatcher that held them died.
func (r *AdminRepository) ClaimMessages(ctx context.Context, stream, group, consumer string, minIdleTime time.Duration, messageIDs []string) ([]domain.Job, error) {
	stream, group = r.stream(stream), r.group(group)
	if consumer == "" {
		return nil, &domain.ValidationError{Field: "consumer", Message: "is required"}
	}
	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdleTime,
		Messages: messageIDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs on %s/%s: %w", stream, group, err)
	}

	jobs := make([]domain.Job, 0, len(claimed))
	for _, msg := range claimed {
		job, err := decodeJob(msg)
		if err != nil {
			r.logger.Warn("failed to decode claimed job", "message_id", msg.ID, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	r.logger.Info("jobs claimed by operator", "group", group, "consumer", consumer, "count", len(jobs))
	return jobs, nil
}

// AcknowledgeMessages drops deliveries from the pending list without
// dispatching them. The count covers only IDs that were pending.
func (r *AdminRepository) AcknowledgeMessages(ctx context.Context, stream, group string, messageIDs ...string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, &domain.ValidationError{Field: "message_ids", Message: "must not be empty"}
	}
	stream, group = r.stream(stream), r.group(group)
	n, err := r.client.XAck(ctx, stream, group, messageIDs...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to acknowledge jobs on %s/%s: %w", stream, group, err)
	}
	r.logger.Warn("jobs acknowledged by operator", "group", group, "requested", len(messageIDs), "acknowledged", n)
	return n, nil
}

// TrimStream drops the oldest entries until at most maxLen remain, but never
// removes an entry some group still has pending: a trimmed pending job could
// not be reclaimed.
func (r *AdminRepository) TrimStream(ctx context.Context, stream string, maxLen int64) (int64, error) {
	if maxLen <= 0 {
		return 0, &domain.ValidationError{Field: "maxlen", Message: "must be positive"}
	}
	stream = r.stream(stream)

	length, err := r.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read length of %s: %w", stream, err)
	}
	excess := length - maxLen
	if excess <= 0 {
		return 0, nil
	}

	oldest, err := r.oldestPending(ctx, stream)
	if err != nil {
		return 0, err
	}
	if oldest == "" {
		return r.client.XTrimMaxLen(ctx, stream, maxLen).Result()
	}

	entries, err := r.client.XRangeN(ctx, stream, "-", oldest, excess).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", stream, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.ID == oldest {
			break
		}
		ids = append(ids, e.ID)
	}
	if len(ids) == 0 {
		r.logger.Info("trim stopped at oldest pending job", "oldest_pending", oldest)
		return 0, nil
	}
	n, err := r.client.XDel(ctx, stream, ids...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to trim %s: %w", stream, err)
	}
	if int64(len(ids)) < excess {
		r.logger.Info("trim stopped at oldest pending job", "oldest_pending", oldest, "trimmed", n)
	}
	return n, nil
}

// oldestPending returns the lowest pending ID across every group of stream,
// or "" when nothing is pending.
func (r *AdminRepository) oldestPending(ctx context.Context, stream string) (string, error) {
	groups, err := r.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read groups of %s: %w", stream, err)
	}
	var oldest string
	for _, g := range groups {
		if g.Pending == 0 {
			continue
		}
		p, err := r.client.XPending(ctx, stream, g.Name).Result()
		if err != nil {
			return "", fmt.Errorf("failed to read pending jobs of %s/%s: %w", stream, g.Name, err)
		}
		if p.Count > 0 && (oldest == "" || streamIDLess(p.Lower, oldest)) {
			oldest = p.Lower
		}
	}
	return oldest, nil
}

// streamIDLess orders "<ms>-<seq>" entry IDs.
func streamIDLess(a, b string) bool {
	ams, aseq := splitStreamID(a)
	bms, bseq := splitStreamID(b)
	if ams != bms {
		return ams < bms
	}
	return aseq < bseq
}

func splitStreamID(id string) (uint64, uint64) {
	msPart, seqPart, _ := strings.Cut(id, "-")
	ms, _ := strconv.ParseUint(msPart, 10, 64)
	seq, _ := strconv.ParseUint(seqPart, 10, 64)
	return ms, seq
}
