package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/V4T54L/postbus/internal/domain"
)

// DeadLetterRepository writes dead-letter records to the dead_letters table
// for external triage.
type DeadLetterRepository struct {
	db *sql.DB
}

func NewDeadLetterRepository(db *sql.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

func (r *DeadLetterRepository) WriteDeadLetter(ctx context.Context, rec domain.DeadLetterRecord) error {
	job, err := json.Marshal(rec.Job)
	if err != nil {
		return fmt.Errorf("encode dead letter job: %w", err)
	}

	query := `INSERT INTO dead_letters (tenant, job_id, error, job, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, rec.Tenant, rec.Job.ID, rec.Error, job, rec.Timestamp); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns the newest count records, newest first.
func (r *DeadLetterRepository) ListDeadLetters(ctx context.Context, count int64) ([]domain.DeadLetterRecord, error) {
	query := `SELECT id, tenant, error, job, created_at FROM dead_letters ORDER BY id DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, count)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []domain.DeadLetterRecord
	for rows.Next() {
		var (
			id  int64
			job []byte
			rec domain.DeadLetterRecord
		)
		if err := rows.Scan(&id, &rec.Tenant, &rec.Error, &job, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if err := json.Unmarshal(job, &rec.Job); err != nil {
			return nil, fmt.Errorf("decode dead letter %d: %w", id, err)
		}
		rec.ID = strconv.FormatInt(id, 10)
		out = append(out, rec)
	}
	return out, rows.Err()
}
