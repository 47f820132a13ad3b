package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/V4T54L/postbus/internal/domain"
)

const quotaKeyPrefix = "quota:"

// QuotaTracker counts confirmed publishes per tenant, channel and UTC day.
//
// The check in ShouldDefer and the Incr after a publish are separate store
// calls, so two dispatchers working the same tenant and channel can both pass
// the check at ceiling-1. The counter can therefore overshoot the ceiling by
// the number of concurrent dispatchers.
type QuotaTracker struct {
	store    domain.KVStore
	ceilings map[domain.Channel]int64
	ttl      time.Duration
	now      func() time.Time
}

// NewQuotaTracker creates a tracker. Channels without a ceiling are unlimited;
// a ceiling of zero defers every publish to that channel.
func NewQuotaTracker(store domain.KVStore, ceilings map[domain.Channel]int, ttl time.Duration) *QuotaTracker {
	c := make(map[domain.Channel]int64, len(ceilings))
	for ch, n := range ceilings {
		c[ch] = int64(n)
	}
	return &QuotaTracker{store: store, ceilings: c, ttl: ttl, now: time.Now}
}

// ShouldDefer reports whether tenant has reached today's ceiling for ch.
func (q *QuotaTracker) ShouldDefer(ctx context.Context, tenant string, ch domain.Channel) (bool, error) {
	ceiling, limited := q.ceilings[ch]
	if !limited {
		return false, nil
	}
	used, err := q.Usage(ctx, tenant, ch)
	if err != nil {
		return false, err
	}
	return used >= ceiling, nil
}

// Increment records one confirmed publish. Call it only after the adapter succeeded.
func (q *QuotaTracker) Increment(ctx context.Context, tenant string, ch domain.Channel) (int64, error) {
	n, err := q.store.Incr(ctx, q.key(tenant, ch), q.ttl)
	if err != nil {
		return 0, fmt.Errorf("increment quota %s/%s: %w", tenant, ch, err)
	}
	return n, nil
}

// Usage returns today's count for tenant and ch.
func (q *QuotaTracker) Usage(ctx context.Context, tenant string, ch domain.Channel) (int64, error) {
	raw, err := q.store.Get(ctx, q.key(tenant, ch))
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read quota %s/%s: %w", tenant, ch, err)
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt quota counter %s/%s: %w", tenant, ch, err)
	}
	return n, nil
}

// Ceiling returns the configured ceiling for ch.
func (q *QuotaTracker) Ceiling(ch domain.Channel) (int64, bool) {
	n, ok := q.ceilings[ch]
	return n, ok
}

func (q *QuotaTracker) key(tenant string, ch domain.Channel) string {
	return quotaKeyPrefix + tenant + ":" + string(ch) + ":" + q.now().UTC().Format("2006-01-02")
}
