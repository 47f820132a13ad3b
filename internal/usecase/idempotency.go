package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/V4T54L/postbus/internal/domain"
)

const idempotencyKeyPrefix = "idem:"

// IdempotencyCache maps a request key to the last response written for it.
// There is one slot per key: the interim queued value written at admission is
// overwritten by the dispatcher's final value.
type IdempotencyCache struct {
	store domain.KVStore
	ttl   time.Duration
}

// NewIdempotencyCache creates a cache whose entries expire after ttl.
func NewIdempotencyCache(store domain.KVStore, ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{store: store, ttl: ttl}
}

// ResolveKey returns the storage key for a request. An explicit caller key wins;
// otherwise the request fingerprint is used. Keys are namespaced per tenant so
// two tenants reusing the same Idempotency-Key never collide.
func (c *IdempotencyCache) ResolveKey(tenant, explicitKey string, req PostRequest) (string, error) {
	if explicitKey != "" {
		return tenantNamespace(tenant) + ":key:" + explicitKey, nil
	}
	fp, err := Fingerprint(tenant, req)
	if err != nil {
		return "", err
	}
	return tenantNamespace(tenant) + ":fp:" + fp, nil
}

// tenantNamespace length-prefixes the tenant id, so a ':' inside a tenant id
// or caller key cannot shift where one part ends and the next begins.
func tenantNamespace(tenant string) string {
	return idempotencyKeyPrefix + strconv.Itoa(len(tenant)) + ":" + tenant
}

// Lookup returns the stored response bytes for key.
func (c *IdempotencyCache) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return raw, true, nil
}

// Store overwrites the slot for key with resp and returns the encoded bytes.
func (c *IdempotencyCache) Store(ctx context.Context, key string, resp domain.Response) ([]byte, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode idempotent response: %w", err)
	}
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		return raw, fmt.Errorf("idempotency store: %w", err)
	}
	return raw, nil
}

// Clear drops the slot for key.
func (c *IdempotencyCache) Clear(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Fingerprint is a deterministic digest of the tenant and the canonical job body.
// encoding/json sorts map keys at every depth, which makes the body canonical.
func Fingerprint(tenant string, req PostRequest) (string, error) {
	body, err := json.Marshal(struct {
		Template string         `json:"template"`
		Channels []string       `json:"channels"`
		Data     map[string]any `json:"data"`
	}{req.Template, req.Channels, req.Data})
	if err != nil {
		return "", fmt.Errorf("canonicalize request: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(tenant))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}
