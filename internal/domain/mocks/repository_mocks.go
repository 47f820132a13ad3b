package mocks

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/V4T54L/postbus/internal/domain"
)

// MemoryKVStore is an in-memory domain.KVStore with TTL support.
type MemoryKVStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	Now     func() time.Time

	GetErr  error
	SetErr  error
	IncrErr error

	SetCalls int
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{entries: make(map[string]memoryEntry), Now: time.Now}
}

func (m *MemoryKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	e, ok := m.lookup(key)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MemoryKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	m.SetCalls++
	m.entries[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: m.expiry(ttl)}
	return nil
}

func (m *MemoryKVStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryKVStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IncrErr != nil {
		return 0, m.IncrErr
	}
	var n int64
	if e, ok := m.lookup(key); ok {
		n, _ = strconv.ParseInt(string(e.value), 10, 64)
	}
	n++
	m.entries[key] = memoryEntry{value: []byte(strconv.FormatInt(n, 10)), expiresAt: m.expiry(ttl)}
	return n, nil
}

// Keys returns the live keys, for assertions.
func (m *MemoryKVStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		if _, ok := m.lookup(k); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func (m *MemoryKVStore) lookup(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *MemoryKVStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.Now().Add(ttl)
}

// MockJobQueue is a mock implementation of domain.JobQueue for testing.
type MockJobQueue struct {
	mu              sync.Mutex
	EnqueuedJobs    []domain.Job
	ReadBatchResult []domain.Job
	AckedJobs       []domain.Job
	EnqueueErr      error
	ReadErr         error
	AckErr          error
	// OnEnqueue runs after a successful enqueue, outside the lock.
	OnEnqueue func(job domain.Job)
}

func (m *MockJobQueue) Enqueue(ctx context.Context, job domain.Job) error {
	m.mu.Lock()
	if m.EnqueueErr != nil {
		m.mu.Unlock()
		return m.EnqueueErr
	}
	m.EnqueuedJobs = append(m.EnqueuedJobs, job)
	hook := m.OnEnqueue
	m.mu.Unlock()
	if hook != nil {
		hook(job)
	}
	return nil
}

func (m *MockJobQueue) ReadBatch(ctx context.Context, count int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	batch := m.ReadBatchResult
	m.ReadBatchResult = nil
	return batch, nil
}

func (m *MockJobQueue) Ack(ctx context.Context, jobs ...domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.AckedJobs = append(m.AckedJobs, jobs...)
	return nil
}

// Enqueued returns a copy of the enqueued jobs.
func (m *MockJobQueue) Enqueued() []domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Job(nil), m.EnqueuedJobs...)
}

// MockTenantRepository is an in-memory domain.TenantRepository.
type MockTenantRepository struct {
	mu       sync.Mutex
	Records  map[string]domain.TenantRecord
	FindErr  error
	StoreErr error
	Stored   []domain.TenantRecord
}

func (m *MockTenantRepository) FindByID(ctx context.Context, id string) (*domain.TenantRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	rec, ok := m.Records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (m *MockTenantRepository) Store(ctx context.Context, rec domain.TenantRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StoreErr != nil {
		return m.StoreErr
	}
	if m.Records == nil {
		m.Records = make(map[string]domain.TenantRecord)
	}
	m.Records[rec.ID] = rec
	m.Stored = append(m.Stored, rec)
	return nil
}

// MockDeadLetterSink records dead letters in memory.
type MockDeadLetterSink struct {
	mu       sync.Mutex
	Records  []domain.DeadLetterRecord
	WriteErr error
}

func (m *MockDeadLetterSink) WriteDeadLetter(ctx context.Context, rec domain.DeadLetterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Records = append(m.Records, rec)
	return nil
}

func (m *MockDeadLetterSink) ListDeadLetters(ctx context.Context, count int64) ([]domain.DeadLetterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DeadLetterRecord, 0, len(m.Records))
	for i := len(m.Records) - 1; i >= 0 && int64(len(out)) < count; i-- {
		out = append(out, m.Records[i])
	}
	return out, nil
}

// MockAlerter records alerts synchronously.
type MockAlerter struct {
	mu       sync.Mutex
	Alerts   []domain.Alert
	AlertErr error
}

func (m *MockAlerter) Alert(ctx context.Context, alert domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AlertErr != nil {
		return m.AlertErr
	}
	m.Alerts = append(m.Alerts, alert)
	return nil
}

// MockAdapter is a func-backed domain.ChannelAdapter that counts calls.
type MockAdapter struct {
	mu          sync.Mutex
	Calls       []domain.PublishRequest
	PublishFunc func(ctx context.Context, tenant *domain.Tenant, req domain.PublishRequest) (*domain.PublishConfirmation, error)
}

func (m *MockAdapter) Publish(ctx context.Context, tenant *domain.Tenant, req domain.PublishRequest) (*domain.PublishConfirmation, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn := m.PublishFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, tenant, req)
	}
	return &domain.PublishConfirmation{Channel: req.Channel, PostID: req.JobID + "-" + string(req.Channel), PublishedAt: time.Now().UTC()}, nil
}

// CallCount returns how many times Publish was invoked.
func (m *MockAdapter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
