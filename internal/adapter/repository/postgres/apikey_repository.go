package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/V4T54L/postbus/internal/adapter/metrics"
)

type cacheEntry struct {
	isValid   bool
	expiresAt time.Time
}

// APIKeyRepository validates admin API keys against PostgreSQL, caching each
// verdict for cacheTTL. Keys are stored and cached only as SHA-256 digests.
type APIKeyRepository struct {
	db       *sql.DB
	logger   *slog.Logger
	cache    map[string]cacheEntry
	mu       sync.RWMutex
	cacheTTL time.Duration
	metrics  *metrics.PostBusMetrics
	now      func() time.Time
}

func NewAPIKeyRepository(db *sql.DB, logger *slog.Logger, cacheTTL time.Duration, m *metrics.PostBusMetrics) *APIKeyRepository {
	return &APIKeyRepository{
		db:       db,
		logger:   logger.With("component", "apikey_repository"),
		cache:    make(map[string]cacheEntry),
		cacheTTL: cacheTTL,
		metrics:  m,
		now:      time.Now,
	}
}

// IsValid reports whether key exists, is active and has not expired.
func (r *APIKeyRepository) IsValid(ctx context.Context, key string) (bool, error) {
	digest := HashAPIKey(key)

	r.mu.RLock()
	entry, found := r.cache[digest]
	r.mu.RUnlock()
	if found && r.now().Before(entry.expiresAt) {
		r.metrics.APIKeyCache(true)
		return entry.isValid, nil
	}
	r.metrics.APIKeyCache(false)

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another request may have refreshed the entry while we waited.
	entry, found = r.cache[digest]
	if found && r.now().Before(entry.expiresAt) {
		return entry.isValid, nil
	}

	var isValid bool
	query := `SELECT EXISTS(SELECT 1 FROM api_keys WHERE key_hash = $1 AND is_active = true AND (expires_at IS NULL OR expires_at > NOW()))`
	if err := r.db.QueryRowContext(ctx, query, digest).Scan(&isValid); err != nil {
		r.logger.Error("failed to validate API key in database", "error", err)
		return false, err
	}

	r.cache[digest] = cacheEntry{
		isValid:   isValid,
		expiresAt: r.now().Add(r.cacheTTL),
	}
	return isValid, nil
}

// HashAPIKey returns the hex SHA-256 digest stored in api_keys.key_hash.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
