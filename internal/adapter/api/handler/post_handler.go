package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/V4T54L/postbus/internal/adapter/api/middleware"
	"github.com/V4T54L/postbus/internal/adapter/api/respond"
	"github.com/V4T54L/postbus/internal/domain"
	"github.com/V4T54L/postbus/internal/usecase"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	maxIdempotencyKeyLen = 255
)

// Admitter admits publish requests.
type Admitter interface {
	Admit(ctx context.Context, req usecase.PostRequest, explicitKey string) (*usecase.Admission, error)
}

// PostHandler serves POST /post.
type PostHandler struct {
	admitter    Admitter
	logger      *slog.Logger
	maxBodySize int64
}

func NewPostHandler(admitter Admitter, logger *slog.Logger, maxBodySize int64) *PostHandler {
	return &PostHandler{
		admitter:    admitter,
		logger:      logger.With("component", "post_handler"),
		maxBodySize: maxBodySize,
	}
}

func (h *PostHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		respond.Error(w, http.StatusUnsupportedMediaType, respond.CodeUnsupported, "Content-Type must be application/json")
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "bearer token required")
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLen {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidation, "Idempotency-Key must be at most 255 characters")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	var req usecase.PostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respond.Error(w, http.StatusRequestEntityTooLarge, respond.CodeTooLarge, "payload too large")
			return
		}
		respond.Error(w, http.StatusBadRequest, respond.CodeValidation, "malformed JSON body")
		return
	}

	if req.Tenant != "" && !claims.CanPublishFor(req.Tenant) {
		h.logger.Warn("token tenant mismatch", "token_tenant", claims.TenantID, "tenant", req.Tenant)
		respond.Error(w, http.StatusForbidden, respond.CodeForbidden, "token is not valid for this tenant")
		return
	}

	admission, err := h.admitter.Admit(r.Context(), req, key)
	if err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			respond.Error(w, http.StatusBadRequest, respond.CodeValidation, verr.Error())
		case errors.Is(err, domain.ErrQueueUnavailable):
			respond.Error(w, http.StatusServiceUnavailable, respond.CodeUnavailable, "job queue unavailable, retry later")
		default:
			h.logger.Error("admission failed", "tenant", req.Tenant, "error", err)
			respond.Error(w, http.StatusInternalServerError, respond.CodeInternal, "internal server error")
		}
		return
	}

	if admission.Duplicate {
		respond.Raw(w, http.StatusOK, admission.Body)
		return
	}
	if admission.JobID != "" {
		w.Header().Set("X-Job-ID", admission.JobID)
	}
	respond.Raw(w, http.StatusAccepted, admission.Body)
}
