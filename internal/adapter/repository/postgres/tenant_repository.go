package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/V4T54L/postbus/internal/domain"
)

// TenantRepository keeps each tenant record as a JSONB document so legacy
// shapes survive until they are migrated on read.
type TenantRepository struct {
	db *sql.DB
}

func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) FindByID(ctx context.Context, id string) (*domain.TenantRecord, error) {
	query := `SELECT config FROM tenants WHERE id = $1`

	var raw []byte
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find tenant %s: %w", id, err)
	}

	var rec domain.TenantRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode tenant %s: %w", id, err)
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return &rec, nil
}

func (r *TenantRepository) Store(ctx context.Context, rec domain.TenantRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode tenant %s: %w", rec.ID, err)
	}

	query := `
		INSERT INTO tenants (id, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			config = EXCLUDED.config,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, rec.ID, raw, rec.CreatedAt, rec.UpdatedAt); err != nil {
		return fmt.Errorf("store tenant %s: %w", rec.ID, err)
	}
	return nil
}
