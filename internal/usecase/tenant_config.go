package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/V4T54L/postbus/internal/domain"
)

// TenantConfigResolver loads tenant policy and credentials. Nothing is cached:
// every job reads the current record, so admin changes apply to the next job.
type TenantConfigResolver struct {
	repo   domain.TenantRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewTenantConfigResolver creates a resolver backed by repo.
func NewTenantConfigResolver(repo domain.TenantRepository, logger *slog.Logger) *TenantConfigResolver {
	return &TenantConfigResolver{
		repo:   repo,
		logger: logger.With("component", "tenant_resolver"),
		now:    time.Now,
	}
}

// Resolve returns the tenant, creating the default per-channel configuration on
// first access and persisting legacy-record migrations.
func (r *TenantConfigResolver) Resolve(ctx context.Context, id string) (*domain.Tenant, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrTenantNotFound
	}

	rec, err := r.repo.FindByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		tenant := domain.NewDefaultTenant(id, r.now().UTC())
		if err := r.repo.Store(ctx, domain.RecordFromTenant(tenant)); err != nil {
			r.logger.Warn("failed to persist default tenant config", "tenant", id, "error", err)
		} else {
			r.logger.Info("created default tenant config", "tenant", id)
		}
		return tenant, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant %q: %w", id, err)
	}

	if rec.Migrate() {
		rec.UpdatedAt = r.now().UTC()
		if err := r.repo.Store(ctx, *rec); err != nil {
			r.logger.Warn("failed to persist migrated tenant config", "tenant", id, "error", err)
		} else {
			r.logger.Info("migrated legacy tenant config", "tenant", id, "mode", rec.Mode)
		}
	}
	return rec.Tenant(), nil
}

// TenantUpdate is the admin payload replacing a tenant's configuration.
type TenantUpdate struct {
	Name        string                                `json:"name"`
	Locale      string                                `json:"locale"`
	Timezone    string                                `json:"timezone"`
	Mode        domain.PolicyMode                     `json:"mode"`
	WebhookURL  string                                `json:"webhook_url"`
	Managed     map[domain.Channel]bool               `json:"managed"`
	Credentials map[domain.Channel]domain.Credentials `json:"credentials"`
}

// Update replaces the tenant's configuration, keeping its creation time.
func (r *TenantConfigResolver) Update(ctx context.Context, id string, upd TenantUpdate) (*domain.Tenant, error) {
	current, err := r.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	switch upd.Mode {
	case domain.PolicyModeAggregator:
		if strings.TrimSpace(upd.WebhookURL) == "" {
			return nil, &domain.ValidationError{Field: "webhook_url", Message: "required for aggregator mode"}
		}
	case domain.PolicyModePerChannel:
	default:
		return nil, &domain.ValidationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", upd.Mode)}
	}
	for ch := range upd.Managed {
		if !ch.Valid() {
			return nil, &domain.ValidationError{Field: "managed", Message: fmt.Sprintf("unknown channel %q", ch)}
		}
	}
	for ch := range upd.Credentials {
		if !ch.Valid() {
			return nil, &domain.ValidationError{Field: "credentials", Message: fmt.Sprintf("unknown channel %q", ch)}
		}
	}

	rec := domain.TenantRecord{
		ID:          id,
		Name:        upd.Name,
		Locale:      upd.Locale,
		Timezone:    upd.Timezone,
		Mode:        upd.Mode,
		WebhookURL:  upd.WebhookURL,
		Managed:     upd.Managed,
		Credentials: upd.Credentials,
		CreatedAt:   current.CreatedAt,
		UpdatedAt:   r.now().UTC(),
	}
	if rec.Name == "" {
		rec.Name = current.Name
	}
	if err := r.repo.Store(ctx, rec); err != nil {
		return nil, fmt.Errorf("store tenant %q: %w", id, err)
	}
	return rec.Tenant(), nil
}
