package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/timeout"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/V4T54L/postbus/internal/adapter/metrics"
	"github.com/V4T54L/postbus/internal/domain"
)

const (
	defaultBatchSize      = 50
	defaultAdapterTimeout = 30 * time.Second
	tracerName            = "github.com/V4T54L/postbus/internal/usecase"
)

// Outcome is the terminal state of one job.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomePartial      Outcome = "partial"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeSkipped      Outcome = "skipped"
)

// DispatchDeps are the collaborators of the dispatcher.
type DispatchDeps struct {
	Queue       domain.JobQueue
	Tenants     *TenantConfigResolver
	Quota       *QuotaTracker
	Idempotency *IdempotencyCache
	Adapters    domain.AdapterSet
	Content     *ContentBuilder
	DeadLetters domain.DeadLetterSink
	Alerter     domain.Alerter
	Metrics     *metrics.PostBusMetrics
	Logger      *slog.Logger
}

// DispatchJobsUseCase consumes admitted jobs and publishes them per tenant policy.
// Jobs in a batch are processed one at a time.
type DispatchJobsUseCase struct {
	DispatchDeps
	batchSize      int
	adapterTimeout time.Duration
	tracer         trace.Tracer
	now            func() time.Time
}

// NewDispatchJobsUseCase creates a dispatcher. A zero batchSize or adapterTimeout
// selects the default.
func NewDispatchJobsUseCase(deps DispatchDeps, batchSize int, adapterTimeout time.Duration) *DispatchJobsUseCase {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if adapterTimeout <= 0 {
		adapterTimeout = defaultAdapterTimeout
	}
	if deps.Content == nil {
		deps.Content = NewContentBuilder()
	}
	deps.Logger = deps.Logger.With("component", "dispatcher")
	return &DispatchJobsUseCase{
		DispatchDeps:   deps,
		batchSize:      batchSize,
		adapterTimeout: adapterTimeout,
		tracer:         otel.Tracer(tracerName),
		now:            time.Now,
	}
}

// ProcessBatch reads one batch and dispatches its jobs sequentially. Every
// dispatched job is acknowledged whatever its outcome.
func (uc *DispatchJobsUseCase) ProcessBatch(ctx context.Context) (int, error) {
	jobs, err := uc.Queue.ReadBatch(ctx, uc.batchSize)
	if err != nil {
		uc.Logger.Error("failed to read job batch from queue", "error", err)
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	uc.Logger.Debug("read batch of jobs from queue", "count", len(jobs))

	var ackErrs []error
	processed := 0
	for _, job := range jobs {
		// Unstarted jobs stay pending and are redelivered.
		if ctx.Err() != nil {
			break
		}
		outcome := uc.Dispatch(ctx, job)
		uc.Metrics.JobOutcome(string(outcome))

		if err := uc.Queue.Ack(context.WithoutCancel(ctx), job); err != nil {
			uc.Logger.Error("failed to acknowledge job", "job_id", job.ID, "delivery_id", job.DeliveryID, "error", err)
			ackErrs = append(ackErrs, err)
			continue
		}
		processed++
	}

	uc.Logger.Info("processed job batch", "count", processed)
	return processed, errors.Join(ackErrs...)
}

// Dispatch drives one job to a terminal outcome and records it in the
// idempotency slot. It never returns an error: hard failures end in the
// dead-letter sink.
func (uc *DispatchJobsUseCase) Dispatch(ctx context.Context, job domain.Job) Outcome {
	ctx, span := uc.tracer.Start(ctx, "postbus.dispatch", trace.WithAttributes(
		attribute.String("postbus.tenant", job.Tenant),
		attribute.String("postbus.job_id", job.ID),
		attribute.String("postbus.template", job.Template),
		attribute.Int("postbus.channels", len(job.Channels)),
	))
	defer span.End()

	if uc.alreadyFinal(ctx, job) {
		uc.Metrics.RedeliverySkipped()
		uc.Logger.Info("job already finalized, skipping redelivery", "tenant", job.Tenant, "job_id", job.ID)
		span.SetAttributes(attribute.String("postbus.outcome", string(OutcomeSkipped)))
		return OutcomeSkipped
	}

	data, err := uc.run(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		uc.deadLetter(ctx, job, err)
		span.SetAttributes(attribute.String("postbus.outcome", string(OutcomeDeadLettered)))
		return OutcomeDeadLettered
	}

	success := len(data.Fallbacks) == 0
	uc.finalize(ctx, job, domain.Response{Success: success, Data: data})

	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomePartial
	}
	span.SetAttributes(attribute.String("postbus.outcome", string(outcome)))
	uc.Logger.Info("job dispatched", "tenant", job.Tenant, "job_id", job.ID, "outcome", outcome, "fallbacks", len(data.Fallbacks))
	return outcome
}

func (uc *DispatchJobsUseCase) run(ctx context.Context, job domain.Job) (*domain.DispatchData, error) {
	// Jobs admitted before channel sets were enforced may still repeat one.
	job.Channels = domain.UniqueChannels(job.Channels)

	tenant, err := uc.Tenants.Resolve(ctx, job.Tenant)
	if err != nil {
		return nil, err
	}

	switch p := tenant.Policy.(type) {
	case domain.AggregatorPolicy:
		return uc.runAggregated(ctx, tenant, job)
	case domain.PerChannelPolicy:
		return uc.runPerChannel(ctx, tenant, job)
	default:
		return nil, fmt.Errorf("tenant %q has unsupported policy %T", tenant.ID, p)
	}
}

// runAggregated forwards each channel through the tenant webhook. Any failure,
// soft or hard, aborts the job.
func (uc *DispatchJobsUseCase) runAggregated(ctx context.Context, tenant *domain.Tenant, job domain.Job) (*domain.DispatchData, error) {
	if uc.Adapters.Aggregator == nil {
		return nil, errors.New("aggregator adapter is not configured")
	}
	data := &domain.DispatchData{Results: make(map[domain.Channel]domain.ChannelResult, len(job.Channels))}
	for _, ch := range job.Channels {
		conf, err := uc.publish(ctx, uc.Adapters.Aggregator, tenant, uc.Content.Build(job, ch))
		if err != nil {
			return nil, err
		}
		data.Results[ch] = domain.ChannelResult{Status: domain.StatusPublished, PostID: conf.PostID}
		uc.Metrics.ChannelResult(string(ch), string(domain.StatusPublished))
	}
	return data, nil
}

func (uc *DispatchJobsUseCase) runPerChannel(ctx context.Context, tenant *domain.Tenant, job domain.Job) (*domain.DispatchData, error) {
	data := &domain.DispatchData{Results: make(map[domain.Channel]domain.ChannelResult, len(job.Channels))}
	span := trace.SpanFromContext(ctx)

	for _, ch := range job.Channels {
		deferred, err := uc.Quota.ShouldDefer(ctx, tenant.ID, ch)
		if err != nil {
			uc.Logger.Warn("quota check failed, proceeding", "tenant", tenant.ID, "channel", ch, "error", err)
		}
		if deferred {
			reason := domain.QuotaReason(ch)
			data.Results[ch] = domain.ChannelResult{
				Status:    domain.StatusDeferred,
				Reason:    reason,
				Fallback:  domain.FallbackShare,
				Suggested: domain.SuggestedShareTargets,
			}
			data.Fallbacks = append(data.Fallbacks, domain.FallbackEntry{Channel: ch, Reason: reason})
			uc.Metrics.ChannelResult(string(ch), string(domain.StatusDeferred))
			span.AddEvent("channel.deferred", trace.WithAttributes(attribute.String("postbus.channel", string(ch))))
			continue
		}

		adapter, ok := uc.Adapters.For(ch)
		var conf *domain.PublishConfirmation
		if ok {
			conf, err = uc.publish(ctx, adapter, tenant, uc.Content.Build(job, ch))
		} else {
			err = domain.NewPublishError(ch, domain.KindNotImplemented, "no adapter registered")
		}

		if err != nil {
			kind := domain.KindOf(err)
			if !kind.Soft() {
				return nil, err
			}
			reason := domain.SoftReason(ch, kind)
			data.Results[ch] = domain.ChannelResult{
				Status:    domain.StatusFallbackRequired,
				Reason:    reason,
				Error:     err.Error(),
				Fallback:  domain.FallbackShare,
				Suggested: domain.SuggestedShareTargets,
			}
			data.Fallbacks = append(data.Fallbacks, domain.FallbackEntry{Channel: ch, Reason: reason})
			uc.Metrics.ChannelResult(string(ch), string(domain.StatusFallbackRequired))
			span.AddEvent("channel.fallback", trace.WithAttributes(
				attribute.String("postbus.channel", string(ch)),
				attribute.String("postbus.reason", reason),
			))
			continue
		}

		if _, err := uc.Quota.Increment(context.WithoutCancel(ctx), tenant.ID, ch); err != nil {
			uc.Logger.Warn("failed to increment quota counter", "tenant", tenant.ID, "channel", ch, "error", err)
		}
		data.Results[ch] = domain.ChannelResult{Status: domain.StatusPublished, PostID: conf.PostID}
		uc.Metrics.ChannelResult(string(ch), string(domain.StatusPublished))
		span.AddEvent("channel.published", trace.WithAttributes(attribute.String("postbus.channel", string(ch))))
	}
	return data, nil
}

// publish calls the adapter under the per-call timeout. A timeout surfaces as a
// non-PublishError and is therefore fatal.
func (uc *DispatchJobsUseCase) publish(ctx context.Context, adapter domain.ChannelAdapter, tenant *domain.Tenant, req domain.PublishRequest) (*domain.PublishConfirmation, error) {
	start := time.Now()
	defer func() { uc.Metrics.ObserveAdapter(string(req.Channel), time.Since(start)) }()

	conf, err := failsafe.With[*domain.PublishConfirmation](timeout.New[*domain.PublishConfirmation](uc.adapterTimeout)).
		WithContext(ctx).
		GetWithExecution(func(exec failsafe.Execution[*domain.PublishConfirmation]) (*domain.PublishConfirmation, error) {
			return adapter.Publish(exec.Context(), tenant, req)
		})
	if err != nil {
		return nil, err
	}
	if conf == nil {
		return &domain.PublishConfirmation{Channel: req.Channel, PublishedAt: uc.now().UTC()}, nil
	}
	return conf, nil
}

// alreadyFinal reports whether the job's slot already holds a dispatch outcome,
// which happens when the broker redelivers a job whose ack was lost.
func (uc *DispatchJobsUseCase) alreadyFinal(ctx context.Context, job domain.Job) bool {
	if job.IdemKey == "" {
		return false
	}
	raw, found, err := uc.Idempotency.Lookup(ctx, job.IdemKey)
	if err != nil {
		uc.Logger.Warn("idempotency lookup failed before dispatch", "job_id", job.ID, "error", err)
		return false
	}
	return found && !domain.IsInterim(raw)
}

func (uc *DispatchJobsUseCase) finalize(ctx context.Context, job domain.Job, resp domain.Response) {
	if job.IdemKey == "" {
		return
	}
	if _, err := uc.Idempotency.Store(context.WithoutCancel(ctx), job.IdemKey, resp); err != nil {
		uc.Logger.Error("failed to finalize idempotency record", "tenant", job.Tenant, "job_id", job.ID, "error", err)
	}
}

func (uc *DispatchJobsUseCase) deadLetter(ctx context.Context, job domain.Job, cause error) {
	ctx = context.WithoutCancel(ctx)
	ts := uc.now().UTC()
	uc.Logger.Error("job failed, moving to dead letters", "tenant", job.Tenant, "job_id", job.ID, "error", cause)

	bestEffort(ctx, uc.Logger, "dead_letter_write", func(ctx context.Context) error {
		return uc.DeadLetters.WriteDeadLetter(ctx, domain.DeadLetterRecord{
			Tenant:    job.Tenant,
			Error:     cause.Error(),
			Job:       job,
			Timestamp: ts,
		})
	})
	if uc.Alerter != nil {
		bestEffort(ctx, uc.Logger, "dead_letter_alert", func(ctx context.Context) error {
			return uc.Alerter.Alert(ctx, domain.Alert{Tenant: job.Tenant, Reason: cause.Error(), TS: ts})
		})
	}
	uc.finalize(ctx, job, domain.ErrorResponse(domain.ErrorCodeDLQ, cause.Error()))
}
