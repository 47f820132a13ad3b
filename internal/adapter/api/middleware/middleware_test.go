package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/postbus/internal/domain"
	"github.com/V4T54L/postbus/internal/pkg/auth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type erroringKeys struct{}

func (erroringKeys) IsValid(context.Context, string) (bool, error) {
	return false, errors.New("db down")
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func TestAPIKey(t *testing.T) {
	keys := NewStaticKeys([]string{" key-1 ", "", "key-2"})

	tests := []struct {
		name           string
		key            string
		repo           domain.APIKeyRepository
		expectedStatus int
	}{
		{"Missing", "", keys, http.StatusUnauthorized},
		{"Unknown", "key-3", keys, http.StatusUnauthorized},
		{"Trimmed config key", "key-1", keys, http.StatusNoContent},
		{"Second key", "key-2", keys, http.StatusNoContent},
		{"Repository error", "key-1", erroringKeys{}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/dead-letters", nil)
			if tt.key != "" {
				req.Header.Set(APIKeyHeader, tt.key)
			}
			rr := httptest.NewRecorder()
			APIKey(tt.repo, discardLogger())(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}

func TestBearer(t *testing.T) {
	const secret = "bearer-secret"
	valid, err := auth.GenerateToken("svc", "club-a", "", secret, time.Hour)
	require.NoError(t, err)
	expired, err := auth.GenerateToken("svc", "club-a", "", secret, -time.Minute)
	require.NoError(t, err)
	foreign, err := auth.GenerateToken("svc", "club-a", "", "other-secret", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name           string
		header         string
		expectedStatus int
	}{
		{"Missing header", "", http.StatusUnauthorized},
		{"Wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"Empty token", "Bearer ", http.StatusUnauthorized},
		{"Expired", "Bearer " + expired, http.StatusUnauthorized},
		{"Foreign signature", "Bearer " + foreign, http.StatusUnauthorized},
		{"Valid", "Bearer " + valid, http.StatusNoContent},
		{"Lowercase scheme", "bearer " + valid, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *auth.Claims
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = ClaimsFromContext(r.Context())
				w.WriteHeader(http.StatusNoContent)
			})
			req := httptest.NewRequest(http.MethodPost, "/post", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			Bearer(secret, discardLogger())(next).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus == http.StatusNoContent {
				require.NotNil(t, seen)
				assert.Equal(t, "club-a", seen.TenantID)
			} else {
				assert.Nil(t, seen)
			}
		})
	}
}

func TestClaimsFromContext_Empty(t *testing.T) {
	assert.Nil(t, ClaimsFromContext(context.Background()))
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := chimw.RequestID(Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
	out := buf.String()
	assert.Contains(t, out, `"status":418`)
	assert.Contains(t, out, `"path":"/health"`)
	assert.Contains(t, out, `"request_id"`)
}
