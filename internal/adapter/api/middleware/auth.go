package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/V4T54L/postbus/internal/adapter/api/respond"
	"github.com/V4T54L/postbus/internal/domain"
	"github.com/V4T54L/postbus/internal/pkg/auth"
)

const APIKeyHeader = "X-API-Key"

type contextKey string

const claimsKey contextKey = "claims"

// APIKey guards the admin surface with the X-API-Key header.
func APIKey(repo domain.APIKeyRepository, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(APIKeyHeader)
			if apiKey == "" {
				logger.Warn("API key missing from request", "remote_addr", r.RemoteAddr)
				respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "API key required")
				return
			}

			isValid, err := repo.IsValid(r.Context(), apiKey)
			if err != nil {
				logger.Error("failed to validate API key", "error", err)
				respond.Error(w, http.StatusInternalServerError, respond.CodeInternal, "internal server error")
				return
			}
			if !isValid {
				logger.Warn("invalid API key provided", "remote_addr", r.RemoteAddr)
				respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// StaticKeys validates API keys against a fixed list from configuration.
type StaticKeys struct {
	keys [][]byte
}

func NewStaticKeys(keys []string) *StaticKeys {
	s := &StaticKeys{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			s.keys = append(s.keys, []byte(k))
		}
	}
	return s
}

func (s *StaticKeys) IsValid(_ context.Context, key string) (bool, error) {
	for _, k := range s.keys {
		if subtle.ConstantTimeCompare(k, []byte(key)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// Bearer validates the Authorization bearer token and stores its claims in the
// request context.
func Bearer(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "bearer token required")
				return
			}

			claims, err := auth.ValidateToken(strings.TrimSpace(token), secret)
			if err != nil {
				logger.Warn("rejected bearer token", "remote_addr", r.RemoteAddr, "error", err)
				respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims returns ctx carrying claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the claims stored by Bearer, or nil.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}
