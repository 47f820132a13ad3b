package usecase

import (
	"context"
	"time"

	"github.com/V4T54L/postbus/internal/domain"
)

const (
	defaultPendingCount    = 100
	defaultDeadLetterCount = 50
	maxDeadLetterCount     = 1000
)

// AdminStreamUseCase provides operator views of the job stream and dead letters.
type AdminStreamUseCase struct {
	repo        domain.StreamAdminRepository
	deadLetters domain.DeadLetterSink
}

// NewAdminStreamUseCase creates a new AdminStreamUseCase. repo may be nil when
// the queue backend has no stream internals to expose.
func NewAdminStreamUseCase(repo domain.StreamAdminRepository, deadLetters domain.DeadLetterSink) *AdminStreamUseCase {
	return &AdminStreamUseCase{repo: repo, deadLetters: deadLetters}
}

// StreamsEnabled reports whether stream inspection is available.
func (uc *AdminStreamUseCase) StreamsEnabled() bool {
	return uc.repo != nil
}

func (uc *AdminStreamUseCase) GetGroupInfo(ctx context.Context, stream string) ([]domain.ConsumerGroupInfo, error) {
	return uc.repo.GetGroupInfo(ctx, stream)
}

func (uc *AdminStreamUseCase) GetConsumerInfo(ctx context.Context, stream, group string) ([]domain.ConsumerInfo, error) {
	return uc.repo.GetConsumerInfo(ctx, stream, group)
}

func (uc *AdminStreamUseCase) GetPendingSummary(ctx context.Context, stream, group string) (*domain.PendingMessageSummary, error) {
	return uc.repo.GetPendingSummary(ctx, stream, group)
}

func (uc *AdminStreamUseCase) GetPendingMessages(ctx context.Context, stream, group, consumer string, startID string, count int64) ([]domain.PendingMessageDetail, error) {
	if startID == "" {
		startID = "-"
	}
	if count <= 0 {
		count = defaultPendingCount
	}
	return uc.repo.GetPendingMessages(ctx, stream, group, consumer, startID, count)
}

// ClaimMessages moves idle pending jobs to consumer and returns them.
func (uc *AdminStreamUseCase) ClaimMessages(ctx context.Context, stream, group, consumer string, minIdleTime time.Duration, messageIDs []string) ([]domain.Job, error) {
	return uc.repo.ClaimMessages(ctx, stream, group, consumer, minIdleTime, messageIDs)
}

func (uc *AdminStreamUseCase) AcknowledgeMessages(ctx context.Context, stream, group string, messageIDs ...string) (int64, error) {
	return uc.repo.AcknowledgeMessages(ctx, stream, group, messageIDs...)
}

func (uc *AdminStreamUseCase) TrimStream(ctx context.Context, stream string, maxLen int64) (int64, error) {
	return uc.repo.TrimStream(ctx, stream, maxLen)
}

// ListDeadLetters returns the most recent dead-letter records, newest first.
func (uc *AdminStreamUseCase) ListDeadLetters(ctx context.Context, count int64) ([]domain.DeadLetterRecord, error) {
	if count <= 0 {
		count = defaultDeadLetterCount
	}
	if count > maxDeadLetterCount {
		count = maxDeadLetterCount
	}
	return uc.deadLetters.ListDeadLetters(ctx, count)
}
