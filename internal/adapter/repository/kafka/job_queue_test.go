package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/postbus/internal/domain"
)

type fakeTopic struct {
	mu        sync.Mutex
	messages  []kafka.Message
	next      int
	committed []kafka.Message
	writeErr  error
	commitErr error
	// partitions defaults to 2.
	partitions int
}

func (f *fakeTopic) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	n := f.partitions
	if n == 0 {
		n = 2
	}
	for _, m := range msgs {
		m.Partition = len(f.messages) % n
		m.Offset = int64(len(f.messages))
		f.messages = append(f.messages, m)
	}
	return nil
}

func (f *fakeTopic) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if f.next < len(f.messages) {
		m := f.messages[f.next]
		f.next++
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeTopic) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeTopic) Close() error { return nil }

func newTestQueue(topic *fakeTopic) *JobQueue {
	q := NewJobQueueWith(topic, topic, slog.New(slog.NewTextHandler(io.Discard, nil)))
	q.fetchWait = 20 * time.Millisecond
	return q
}

func testJob(id, tenant string) domain.Job {
	return domain.Job{
		ID:        id,
		Tenant:    tenant,
		Template:  "result",
		Channels:  []domain.Channel{domain.ChannelX},
		Data:      map[string]any{"home_team": "Rovers"},
		CreatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		IdemKey:   "idem:" + tenant + ":key:" + id,
	}
}

func TestJobQueue_EnqueueKeysByTenant(t *testing.T) {
	topic := &fakeTopic{}
	q := newTestQueue(topic)

	require.NoError(t, q.Enqueue(context.Background(), testJob("job-1", "club-a")))
	require.Len(t, topic.messages, 1)
	assert.Equal(t, "club-a", string(topic.messages[0].Key))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(topic.messages[0].Value, &decoded))
	for _, field := range []string{"tenant", "template", "channels", "data", "createdAt", "idemKey"} {
		assert.Contains(t, decoded, field)
	}

	topic.writeErr = errors.New("leader not available")
	require.Error(t, q.Enqueue(context.Background(), testJob("job-2", "club-a")))
}

func TestJobQueue_ReadBatchAndAck(t *testing.T) {
	topic := &fakeTopic{}
	q := newTestQueue(topic)
	ctx := context.Background()

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		require.NoError(t, q.Enqueue(ctx, testJob(id, "club-a")))
	}

	jobs, err := q.ReadBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-1", jobs[0].ID)
	assert.Equal(t, "0:0", jobs[0].DeliveryID)
	assert.Equal(t, "1:1", jobs[1].DeliveryID)

	require.NoError(t, q.Ack(ctx, jobs...))
	require.Len(t, topic.committed, 2)
	assert.Empty(t, q.inFlight)

	jobs, err = q.ReadBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-3", jobs[0].ID)

	jobs, err = q.ReadBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestJobQueue_CommitsUndecodableMessages(t *testing.T) {
	topic := &fakeTopic{}
	q := newTestQueue(topic)
	ctx := context.Background()

	require.NoError(t, topic.WriteMessages(ctx, kafka.Message{Value: []byte("{broken")}))
	require.NoError(t, q.Enqueue(ctx, testJob("job-1", "club-a")))

	jobs, err := q.ReadBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Len(t, topic.committed, 1)
	assert.Equal(t, int64(0), topic.committed[0].Offset)
	assert.Empty(t, q.done)
}

func TestJobQueue_UndecodableWaitsForEarlierJobs(t *testing.T) {
	topic := &fakeTopic{partitions: 1}
	q := newTestQueue(topic)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("job-1", "club-a")))
	require.NoError(t, topic.WriteMessages(ctx, kafka.Message{Value: []byte("{broken")}))
	require.NoError(t, q.Enqueue(ctx, testJob("job-2", "club-a")))

	jobs, err := q.ReadBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Empty(t, topic.committed, "offset 1 would also commit job-1 before it was dispatched")

	// job-2 finishing first must not commit past job-1 either.
	require.NoError(t, q.Ack(ctx, jobs[1]))
	assert.Empty(t, topic.committed)

	require.NoError(t, q.Ack(ctx, jobs[0]))
	require.Len(t, topic.committed, 3)
	var offsets []int64
	for _, m := range topic.committed {
		offsets = append(offsets, m.Offset)
	}
	assert.ElementsMatch(t, []int64{0, 1, 2}, offsets)
	assert.Empty(t, q.inFlight)
	assert.Empty(t, q.done)
}

func TestJobQueue_AckFailureRetriesCommit(t *testing.T) {
	topic := &fakeTopic{}
	q := newTestQueue(topic)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("job-1", "club-a")))
	jobs, err := q.ReadBatch(ctx, 1)
	require.NoError(t, err)

	topic.commitErr = errors.New("rebalance in progress")
	require.Error(t, q.Ack(ctx, jobs...))
	assert.Empty(t, topic.committed)
	assert.Len(t, q.done, 1)

	topic.commitErr = nil
	require.NoError(t, q.Ack(ctx, jobs...))
	require.Len(t, topic.committed, 1)
	assert.Empty(t, q.inFlight)
	assert.Empty(t, q.done)
}

func TestJobQueue_ReadBatchHonoursCancellation(t *testing.T) {
	q := newTestQueue(&fakeTopic{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.ReadBatch(ctx, 10)
	require.ErrorIs(t, err, context.Canceled)
}

func TestJobQueue_ProducerOnly(t *testing.T) {
	q := NewJobQueueWith(&fakeTopic{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := q.ReadBatch(context.Background(), 1)
	require.Error(t, err)
	require.NoError(t, q.Ack(context.Background(), testJob("job-1", "club-a")))
}
