package usecase

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/V4T54L/postbus/internal/domain"
	"github.com/V4T54L/postbus/internal/domain/mocks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type dispatchFixture struct {
	store    *mocks.MemoryKVStore
	queue    *mocks.MockJobQueue
	tenants  *mocks.MockTenantRepository
	dlq      *mocks.MockDeadLetterSink
	alerter  *mocks.MockAlerter
	agg      *mocks.MockAdapter
	direct   map[domain.Channel]*mocks.MockAdapter
	idem     *IdempotencyCache
	quota    *QuotaTracker
	resolver *TenantConfigResolver
	uc       *DispatchJobsUseCase
}

func newDispatchFixture(t *testing.T, ceilings map[domain.Channel]int) *dispatchFixture {
	t.Helper()
	f := &dispatchFixture{
		store:   mocks.NewMemoryKVStore(),
		queue:   &mocks.MockJobQueue{},
		tenants: &mocks.MockTenantRepository{Records: map[string]domain.TenantRecord{}},
		dlq:     &mocks.MockDeadLetterSink{},
		alerter: &mocks.MockAlerter{},
		agg:     &mocks.MockAdapter{},
		direct:  map[domain.Channel]*mocks.MockAdapter{},
	}
	adapters := domain.AdapterSet{Aggregator: f.agg, Direct: map[domain.Channel]domain.ChannelAdapter{}}
	for _, ch := range domain.AllChannels {
		a := &mocks.MockAdapter{}
		f.direct[ch] = a
		adapters.Direct[ch] = a
	}
	f.idem = NewIdempotencyCache(f.store, 24*time.Hour)
	f.quota = NewQuotaTracker(f.store, ceilings, 25*time.Hour)
	f.resolver = NewTenantConfigResolver(f.tenants, discardLogger())
	f.uc = NewDispatchJobsUseCase(DispatchDeps{
		Queue:       f.queue,
		Tenants:     f.resolver,
		Quota:       f.quota,
		Idempotency: f.idem,
		Adapters:    adapters,
		DeadLetters: f.dlq,
		Alerter:     f.alerter,
		Logger:      discardLogger(),
	}, 10, time.Second)
	return f
}

func (f *dispatchFixture) perChannelTenant(id string, managed ...domain.Channel) {
	m := map[domain.Channel]bool{}
	for _, ch := range managed {
		m[ch] = true
	}
	f.tenants.Records[id] = domain.TenantRecord{ID: id, Name: id, Mode: domain.PolicyModePerChannel, Managed: m}
}

func (f *dispatchFixture) aggregatorTenant(id, url string) {
	f.tenants.Records[id] = domain.TenantRecord{ID: id, Name: id, Mode: domain.PolicyModeAggregator, WebhookURL: url}
}

func (f *dispatchFixture) totalDirectCalls() int {
	n := 0
	for _, a := range f.direct {
		n += a.CallCount()
	}
	return n
}

func newJob(id, tenant string, channels ...domain.Channel) domain.Job {
	return domain.Job{
		ID:        id,
		Tenant:    tenant,
		Template:  "goal",
		Channels:  channels,
		Data:      map[string]any{"player": "Sam Kerr", "team": "Harbour FC"},
		CreatedAt: time.Now().UTC(),
		IdemKey:   "idem:" + tenant + ":key:" + id,
	}
}

// storedResponse decodes the idempotency slot into a generic envelope.
func storedResponse(t *testing.T, store domain.KVStore, key string) map[string]any {
	t.Helper()
	raw, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("expected stored response under %q, got %v", key, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("stored response is not JSON: %v", err)
	}
	return out
}

func softError(kind domain.ErrorKind) func(context.Context, *domain.Tenant, domain.PublishRequest) (*domain.PublishConfirmation, error) {
	return func(_ context.Context, _ *domain.Tenant, req domain.PublishRequest) (*domain.PublishConfirmation, error) {
		return nil, domain.NewPublishError(req.Channel, kind, "channel %s unavailable for tenant", req.Channel)
	}
}
