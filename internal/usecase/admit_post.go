package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/V4T54L/postbus/internal/adapter/metrics"
	"github.com/V4T54L/postbus/internal/domain"
)

// PostRequest is the admission body of POST /post.
type PostRequest struct {
	Tenant   string         `json:"tenant" validate:"required,notblank"`
	Template string         `json:"template" validate:"required,notblank"`
	Channels []string       `json:"channels" validate:"required,min=1,unique,dive,channel"`
	Data     map[string]any `json:"data" validate:"required"`
}

// Admission is the result of admitting a request.
type Admission struct {
	// Duplicate is set when Body came from the idempotency slot.
	Duplicate bool
	Body      []byte
	JobID     string
}

// AdmitPostUseCase validates, deduplicates and enqueues publish requests.
type AdmitPostUseCase struct {
	queue    domain.JobQueue
	idem     *IdempotencyCache
	validate *validator.Validate
	metrics  *metrics.PostBusMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdmitPostUseCase creates a new AdmitPostUseCase.
func NewAdmitPostUseCase(queue domain.JobQueue, idem *IdempotencyCache, m *metrics.PostBusMetrics, logger *slog.Logger) *AdmitPostUseCase {
	return &AdmitPostUseCase{
		queue:    queue,
		idem:     idem,
		validate: newPostValidator(),
		metrics:  m,
		logger:   logger.With("component", "admission"),
		now:      time.Now,
	}
}

func newPostValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("channel", func(fl validator.FieldLevel) bool {
		return domain.Channel(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// Validate checks the request shape and returns a *domain.ValidationError.
func (uc *AdmitPostUseCase) Validate(req PostRequest) error {
	err := uc.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &domain.ValidationError{Message: err.Error()}
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "PostRequest.")
	switch fe.Tag() {
	case "required", "notblank":
		return &domain.ValidationError{Field: field, Message: "is required"}
	case "min":
		return &domain.ValidationError{Field: field, Message: "must contain at least one channel"}
	case "unique":
		return &domain.ValidationError{Field: field, Message: "must not repeat a channel"}
	case "channel":
		return &domain.ValidationError{Field: field, Message: fmt.Sprintf("unknown channel %q", fe.Value())}
	default:
		return &domain.ValidationError{Field: field, Message: fmt.Sprintf("failed %s validation", fe.Tag())}
	}
}

// Admit returns the cached response for a known key, or enqueues a new job and
// returns the interim queued response. A failed validation never touches the
// cache or the queue.
func (uc *AdmitPostUseCase) Admit(ctx context.Context, req PostRequest, explicitKey string) (*Admission, error) {
	if err := uc.Validate(req); err != nil {
		uc.metrics.Admission("invalid")
		return nil, err
	}

	key, err := uc.idem.ResolveKey(req.Tenant, explicitKey, req)
	if err != nil {
		uc.metrics.Admission("error")
		return nil, err
	}

	// Lookup and store are two round trips; concurrent first submissions with the
	// same key can both miss and both enqueue.
	raw, found, err := uc.idem.Lookup(ctx, key)
	if err != nil {
		uc.logger.Warn("idempotency lookup failed, admitting as new", "tenant", req.Tenant, "error", err)
	}
	if found {
		uc.metrics.Admission("duplicate")
		uc.logger.Debug("duplicate admission", "tenant", req.Tenant, "key", key)
		return &Admission{Duplicate: true, Body: raw}, nil
	}

	job := domain.Job{
		ID:        uuid.NewString(),
		Tenant:    req.Tenant,
		Template:  req.Template,
		Channels:  make([]domain.Channel, len(req.Channels)),
		Data:      req.Data,
		CreatedAt: uc.now().UTC(),
		IdemKey:   key,
	}
	for i, c := range req.Channels {
		job.Channels[i] = domain.Channel(c)
	}

	// The interim value goes in before the job is visible to dispatchers so it
	// can never overwrite a final outcome.
	body, err := uc.idem.Store(ctx, key, domain.QueuedResponse())
	if err != nil {
		if body == nil {
			uc.metrics.Admission("error")
			return nil, err
		}
		uc.logger.Warn("failed to write interim idempotency record", "tenant", req.Tenant, "job_id", job.ID, "error", err)
	}

	if err := uc.queue.Enqueue(ctx, job); err != nil {
		uc.metrics.Admission("error")
		uc.logger.Error("failed to enqueue job", "tenant", req.Tenant, "job_id", job.ID, "error", err)
		bestEffort(context.WithoutCancel(ctx), uc.logger, "clear_interim", func(ctx context.Context) error {
			return uc.idem.Clear(ctx, key)
		})
		return nil, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}

	uc.metrics.Admission("queued")
	uc.logger.Info("job admitted", "tenant", job.Tenant, "job_id", job.ID, "channels", len(job.Channels))
	return &Admission{Body: body, JobID: job.ID}, nil
}
