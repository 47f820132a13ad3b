package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/V4T54L/postbus/internal/domain"
)

const defaultFetchWait = 2 * time.Second

// MessageWriter is the producer side of kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is the consumer-group side of kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// JobQueue implements domain.JobQueue on a Kafka topic. Jobs are keyed by
// tenant so one tenant's jobs stay ordered within a partition.
//
// Committing an offset commits everything below it in the partition, so a
// finished message (acked, or undecodable) is only committed once no earlier
// message of its partition is still in flight.
type JobQueue struct {
	writer    MessageWriter
	reader    MessageReader
	fetchWait time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[string]kafka.Message
	done     []kafka.Message
}

// NewJobQueue builds a queue over brokers. An empty group yields a
// producer-only queue.
func NewJobQueue(brokers []string, topic, group string, logger *slog.Logger) *JobQueue {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	var r MessageReader
	if group != "" {
		r = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  group,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}
	return NewJobQueueWith(w, r, logger)
}

// NewJobQueueWith wires an existing writer and reader; reader may be nil.
func NewJobQueueWith(w MessageWriter, r MessageReader, logger *slog.Logger) *JobQueue {
	return &JobQueue{
		writer:    w,
		reader:    r,
		fetchWait: defaultFetchWait,
		logger:    logger.With("component", "kafka_job_queue"),
		inFlight:  make(map[string]kafka.Message),
	}
}

func (q *JobQueue) Enqueue(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(job.Tenant),
		Value: payload,
		Time:  job.CreatedAt,
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write job to kafka: %w", err)
	}
	return nil
}

// ReadBatch fetches up to count messages, waiting at most fetchWait for the
// batch to fill.
func (q *JobQueue) ReadBatch(ctx context.Context, count int) ([]domain.Job, error) {
	if q.reader == nil {
		return nil, errors.New("kafka queue has no consumer group")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, q.fetchWait)
	defer cancel()

	var jobs []domain.Job
	for len(jobs) < count {
		msg, err := q.reader.FetchMessage(fetchCtx)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				break
			}
			if len(jobs) > 0 {
				break
			}
			return nil, fmt.Errorf("failed to fetch from kafka: %w", err)
		}

		var job domain.Job
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			q.logger.Warn("undecodable job on topic, skipping", "partition", msg.Partition, "offset", msg.Offset, "error", err)
			q.mu.Lock()
			q.done = append(q.done, msg)
			q.mu.Unlock()
			continue
		}
		job.DeliveryID = deliveryID(msg)
		q.track(job.DeliveryID, msg)
		jobs = append(jobs, job)
	}

	if err := q.commitReady(ctx); err != nil {
		q.logger.Warn("failed to commit skipped messages", "error", err)
	}
	return jobs, nil
}

// Ack marks the given jobs finished and commits every finished offset that no
// earlier in-flight message holds back.
func (q *JobQueue) Ack(ctx context.Context, jobs ...domain.Job) error {
	if q.reader == nil {
		return nil
	}
	q.mu.Lock()
	for _, j := range jobs {
		if msg, ok := q.inFlight[j.DeliveryID]; ok {
			delete(q.inFlight, j.DeliveryID)
			q.done = append(q.done, msg)
		}
	}
	q.mu.Unlock()

	if err := q.commitReady(ctx); err != nil {
		return fmt.Errorf("failed to commit kafka offsets: %w", err)
	}
	return nil
}

// commitReady commits finished messages lying below the lowest in-flight
// offset of their partition. Messages that fail to commit stay queued.
func (q *JobQueue) commitReady(ctx context.Context) error {
	q.mu.Lock()
	lowest := make(map[int]int64, len(q.inFlight))
	for _, m := range q.inFlight {
		if off, ok := lowest[m.Partition]; !ok || m.Offset < off {
			lowest[m.Partition] = m.Offset
		}
	}
	var ready []kafka.Message
	for _, m := range q.done {
		if off, ok := lowest[m.Partition]; ok && m.Offset > off {
			continue
		}
		ready = append(ready, m)
	}
	q.mu.Unlock()

	if len(ready) == 0 {
		return nil
	}
	if err := q.reader.CommitMessages(ctx, ready...); err != nil {
		return err
	}

	q.mu.Lock()
	committed := make(map[string]struct{}, len(ready))
	for _, m := range ready {
		committed[deliveryID(m)] = struct{}{}
	}
	remaining := q.done[:0]
	for _, m := range q.done {
		if _, ok := committed[deliveryID(m)]; !ok {
			remaining = append(remaining, m)
		}
	}
	q.done = remaining
	q.mu.Unlock()
	return nil
}

func (q *JobQueue) Close() error {
	var errs []error
	if q.writer != nil {
		errs = append(errs, q.writer.Close())
	}
	if q.reader != nil {
		errs = append(errs, q.reader.Close())
	}
	return errors.Join(errs...)
}

func (q *JobQueue) track(id string, msg kafka.Message) {
	q.mu.Lock()
	q.inFlight[id] = msg
	q.mu.Unlock()
}

func deliveryID(msg kafka.Message) string {
	return strconv.Itoa(msg.Partition) + ":" + strconv.FormatInt(msg.Offset, 10)
}
