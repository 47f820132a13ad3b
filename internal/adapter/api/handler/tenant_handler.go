package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/V4T54L/postbus/internal/adapter/api/respond"
	"github.com/V4T54L/postbus/internal/adapter/redact"
	"github.com/V4T54L/postbus/internal/domain"
	"github.com/V4T54L/postbus/internal/usecase"
)

// TenantConfigurator reads and replaces tenant configuration.
type TenantConfigurator interface {
	Resolve(ctx context.Context, id string) (*domain.Tenant, error)
	Update(ctx context.Context, id string, upd usecase.TenantUpdate) (*domain.Tenant, error)
}

// TenantHandler serves /admin/tenants/{tenantID}. Responses never carry
// credential values.
type TenantHandler struct {
	tenants  TenantConfigurator
	redactor *redact.Redactor
	logger   *slog.Logger
}

func NewTenantHandler(tenants TenantConfigurator, redactor *redact.Redactor, logger *slog.Logger) *TenantHandler {
	return &TenantHandler{tenants: tenants, redactor: redactor, logger: logger.With("component", "tenant_handler")}
}

// GetTenant returns the resolved tenant, creating the default on first access.
// GET /admin/tenants/{tenantID}
func (h *TenantHandler) GetTenant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("tenantID")
	tenant, err := h.tenants.Resolve(r.Context(), id)
	if err != nil {
		h.writeError(w, id, err)
		return
	}
	h.writeTenant(w, tenant)
}

// PutTenant replaces the tenant's configuration.
// PUT /admin/tenants/{tenantID}
func (h *TenantHandler) PutTenant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("tenantID")

	var upd usecase.TenantUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidation, "invalid request body")
		return
	}

	tenant, err := h.tenants.Update(r.Context(), id, upd)
	if err != nil {
		h.writeError(w, id, err)
		return
	}
	h.logger.Info("tenant updated", "tenant", id, "mode", tenant.Policy.Mode())
	h.writeTenant(w, tenant)
}

func (h *TenantHandler) writeTenant(w http.ResponseWriter, tenant *domain.Tenant) {
	body, err := h.redactor.Value(domain.RecordFromTenant(tenant))
	if err != nil {
		h.logger.Error("failed to redact tenant", "tenant", tenant.ID, "error", err)
		respond.Error(w, http.StatusInternalServerError, respond.CodeInternal, "internal server error")
		return
	}
	respond.Raw(w, http.StatusOK, body)
}

func (h *TenantHandler) writeError(w http.ResponseWriter, id string, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		respond.Error(w, http.StatusBadRequest, respond.CodeValidation, verr.Error())
	case errors.Is(err, domain.ErrTenantNotFound):
		respond.Error(w, http.StatusNotFound, respond.CodeNotFound, "tenant id is required")
	default:
		h.logger.Error("tenant operation failed", "tenant", id, "error", err)
		respond.Error(w, http.StatusInternalServerError, respond.CodeInternal, "internal server error")
	}
}
