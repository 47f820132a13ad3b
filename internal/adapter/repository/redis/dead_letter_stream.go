package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/postbus/internal/domain"
)

const defaultDeadLetterMaxLen = 100000

// DeadLetterStream appends dead-letter records to a capped Redis stream. The
// stream is never consumed by the dispatcher.
type DeadLetterStream struct {
	client redis.UniversalClient
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewDeadLetterStream(client redis.UniversalClient, stream string, logger *slog.Logger) *DeadLetterStream {
	return &DeadLetterStream{
		client: client,
		stream: stream,
		maxLen: defaultDeadLetterMaxLen,
		logger: logger.With("component", "dead_letter_stream"),
	}
}

func (s *DeadLetterStream) WriteDeadLetter(ctx context.Context, rec domain.DeadLetterRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			payloadField: payload,
			"tenant":     rec.Tenant,
			"job_id":     rec.Job.ID,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to XADD dead letter: %w", err)
	}
	s.logger.Warn("job moved to dead letters", "tenant", rec.Tenant, "job_id", rec.Job.ID)
	return nil
}

// ListDeadLetters returns the newest count records, newest first.
func (s *DeadLetterStream) ListDeadLetters(ctx context.Context, count int64) ([]domain.DeadLetterRecord, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	out := make([]domain.DeadLetterRecord, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values[payloadField].(string)
		if !ok {
			continue
		}
		var rec domain.DeadLetterRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("skipping undecodable dead letter", "message_id", msg.ID, "error", err)
			continue
		}
		rec.ID = msg.ID
		out = append(out, rec)
	}
	return out, nil
}
