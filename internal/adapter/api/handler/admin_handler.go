package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/V4T54L/postbus/internal/adapter/api/respond"
	"github.com/V4T54L/postbus/internal/adapter/redact"
	"github.com/V4T54L/postbus/internal/domain"
	"github.com/V4T54L/postbus/internal/usecase"
)

// AdminHandler serves job stream administration and dead-letter triage.
type AdminHandler struct {
	uc       *usecase.AdminStreamUseCase
	redactor *redact.Redactor
	logger   *slog.Logger
}

func NewAdminHandler(uc *usecase.AdminStreamUseCase, redactor *redact.Redactor, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{uc: uc, redactor: redactor, logger: logger.With("component", "admin_handler")}
}

// HealthCheck is a simple health check endpoint.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RequireStreams rejects stream routes when the queue backend is not Redis.
func (h *AdminHandler) RequireStreams(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.uc.StreamsEnabled() {
			respond.Error(w, http.StatusNotImplemented, respond.CodeNotImplemented, "stream inspection requires the redis queue backend")
			return
		}
		next(w, r)
	}
}

// ListDeadLetters returns the newest dead-letter records with credentials masked.
// GET /admin/dead-letters?count={count}
func (h *AdminHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	var count int64
	if countStr := r.URL.Query().Get("count"); countStr != "" {
		var err error
		count, err = strconv.ParseInt(countStr, 10, 64)
		if err != nil {
			respond.Error(w, http.StatusBadRequest, respond.CodeValidation, "invalid count parameter")
			return
		}
	}

	records, err := h.uc.ListDeadLetters(r.Context(), count)
	if err != nil {
		h.logger.Error("failed to list dead letters", "error", err)
		respond.Error(w, http.StatusInternalServerError, respond.CodeInternal, "internal server error")
		return
	}

	body, err := h.redactor.Value(records)
	if err != nil {
		h.logger.Error("failed to redact dead letters", "error", err)
		respond.Error(w, http.StatusInternalServerError, respond.CodeInternal, "internal server error")
		return
	}
	respond.Raw(w, http.StatusOK, body)
}

// GetGroupInfo handles requests to get consumer group info.
// GET /admin/streams/{streamName}/groups
func (h *AdminHandler) GetGroupInfo(w http.ResponseWriter, r *http.Request) {
	streamName := r.PathValue("streamName")
	if streamName == "" {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidation, "streamName is required")
		return
	}

	groups, err := h.uc.GetGroupInfo(r.Context(), streamName)
	if err != nil {
		h.logger.Error("failed to get group info", "error", err)
		respond.Error(w, http.StatusInternalServerError, respond.CodeInternal, "internal server error")
		return
	}

	respond.JSON(w, http.StatusOK, groups)
}

// GetConsumerInfo handles requests to get consumer info for a group.
// GET /admin/streams/{streamName}/groups/{groupName}/consumers
func (h *AdminHandler) GetConsumerInfo(w http.ResponseWriter, r *http.Request) {
	streamName := r.PathValue("streamName")
	groupName := r.PathValue("groupName")

	consumers, err := h.uc.GetConsumerInfo(r.Context(), streamName, groupName)
	if err != nil {
		h.logger.Error("failed to get consumer info", "error", err)
		respond.Error(w, http.StatusInternalServerError, respond.CodeInternal, "internal server error")
		return
	}

	respond.JSON(w, http.StatusOK, consumers)
}

// GetPendingSummary handles requests to get a summary of pending messages.
// GET /admin/streams/{streamName}/groups/{groupName}/pending
func (h *AdminHandler) GetPendingSummary(w http.ResponseWriter, r *http.Request) {
	streamName := r.PathValue("streamName")
	groupName := r.PathValue("groupName")

	summary, err := h.uc.GetPendingSummary(r.Context(), streamName, groupName)
	if err != nil {
		h.logger.Error("failed to get pending summary", "error", err)
		respond.Error(w, http.StatusInternalServerError, respond.CodeInternal, "internal server error")
		return
	}

	respond.JSON(w, http.StatusOK, summary)
}

// GetPendingMessages handles requests to list pending messages.
// GET /admin/streams/{streamName}/groups/{groupName}/pending/messages?consumer={consumerName}&start={startID}&count={count}
func (h *AdminHandler) GetPendingMessages(w http.ResponseWriter, r *http.Request) {
	streamName := r.PathValue("streamName")
	groupName := r.PathValue("groupName")
	consumerName := r.URL.Query().Get("consumer")
	startID := r.URL.Query().Get("start")
	countStr := r.URL.Query().Get("count")

	var count int64
	if countStr != "" {
		var err error
		count, err = strconv.ParseInt(countStr, 10, 64)
		if err != nil {
			respond.Error(w, http.StatusBadRequest, respond.CodeValidation, "invalid count parameter")
			return
		}
	}

	messages, err := h.uc.GetPendingMessages(r.Context(), streamName, groupName, consumerName, startID, count)
	if err != nil {
		h.logger.Error("failed to get pending messages", "error", err)
		respond.Error(w, http.StatusInternalServerError, respond.CodeInternal, "internal server error")
		return
	}

	respond.JSON(w, http.StatusOK, messages)
}

// ClaimMessages handles requests to claim pending messages.
// POST /admin/streams/{streamName}/groups/{groupName}/claim
func (h *AdminHandler) ClaimMessages(w http.ResponseWriter, r *http.Request) {
	streamName := r.PathValue("streamName")
	groupName := r.PathValue("groupName")

	var payload struct {
		Consumer    string   `json:"consumer"`
		MinIdleTime string   `json:"min_idle_time"`
		MessageIDs  []string `json:"message_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidation, "invalid request body")
		return
	}

	minIdle, err := time.ParseDuration(payload.MinIdleTime)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidation, "invalid min_idle_time format")
		return
	}

	claimed, err := h.uc.ClaimMessages(r.Context(), streamName, groupName, payload.Consumer, minIdle, payload.MessageIDs)
	if err != nil {
		h.streamError(w, "failed to claim messages", err)
		return
	}

	body, err := h.redactor.Value(claimed)
	if err != nil {
		h.logger.Error("failed to redact claimed jobs", "error", err)
		respond.Error(w, http.StatusInternalServerError, respond.CodeInternal, "internal server error")
		return
	}
	respond.Raw(w, http.StatusOK, body)
}

// AcknowledgeMessages handles requests to acknowledge messages.
// POST /admin/streams/{streamName}/groups/{groupName}/ack
func (h *AdminHandler) AcknowledgeMessages(w http.ResponseWriter, r *http.Request) {
	streamName := r.PathValue("streamName")
	groupName := r.PathValue("groupName")

	var payload struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidation, "invalid request body")
		return
	}

	if len(payload.MessageIDs) == 0 {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidation, "message_ids cannot be empty")
		return
	}

	count, err := h.uc.AcknowledgeMessages(r.Context(), streamName, groupName, payload.MessageIDs...)
	if err != nil {
		h.streamError(w, "failed to acknowledge messages", err)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]int64{"acknowledged": count})
}

// TrimStream handles requests to trim a stream.
// POST /admin/streams/{streamName}/trim
func (h *AdminHandler) TrimStream(w http.ResponseWriter, r *http.Request) {
	streamName := r.PathValue("streamName")

	var payload struct {
		MaxLen int64 `json:"maxlen"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidation, "invalid request body")
		return
	}
	if payload.MaxLen <= 0 {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidation, "maxlen must be a positive integer")
		return
	}

	trimmedCount, err := h.uc.TrimStream(r.Context(), streamName, payload.MaxLen)
	if err != nil {
		h.streamError(w, "failed to trim stream", err)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]int64{"trimmed": trimmedCount})
}

func (h *AdminHandler) streamError(w http.ResponseWriter, msg string, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidation, verr.Error())
		return
	}
	h.logger.Error(msg, "error", err)
	respond.Error(w, http.StatusInternalServerError, respond.CodeInternal, "internal server error")
}
