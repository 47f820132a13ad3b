package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/postbus/internal/domain"
)

const tenantKeyPrefix = "tenant:"

// TenantRepository stores tenant records as JSON documents under tenant:{id}.
type TenantRepository struct {
	client redis.UniversalClient
}

func NewTenantRepository(client redis.UniversalClient) *TenantRepository {
	return &TenantRepository{client: client}
}

func (r *TenantRepository) FindByID(ctx context.Context, id string) (*domain.TenantRecord, error) {
	raw, err := r.client.Get(ctx, tenantKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", id, err)
	}

	var rec domain.TenantRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode tenant %s: %w", id, err)
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return &rec, nil
}

func (r *TenantRepository) Store(ctx context.Context, rec domain.TenantRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode tenant %s: %w", rec.ID, err)
	}
	if err := r.client.Set(ctx, tenantKeyPrefix+rec.ID, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to store tenant %s: %w", rec.ID, err)
	}
	return nil
}
