package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/postbus/internal/adapter/api/handler"
	"github.com/V4T54L/postbus/internal/adapter/api/middleware"
	"github.com/V4T54L/postbus/internal/adapter/redact"
	"github.com/V4T54L/postbus/internal/domain"
	"github.com/V4T54L/postbus/internal/usecase"
)

// AdminDeps groups what the admin router serves.
type AdminDeps struct {
	Streams  *usecase.AdminStreamUseCase
	Tenants  handler.TenantConfigurator
	Keys     domain.APIKeyRepository
	Redactor *redact.Redactor
	Gatherer prometheus.Gatherer
}

// NewAdminRouter creates the HTTP router for admin operations. /health and
// /metrics are open; everything under /admin/ requires an API key.
func NewAdminRouter(deps AdminDeps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	adminHandler := handler.NewAdminHandler(deps.Streams, deps.Redactor, logger)
	tenantHandler := handler.NewTenantHandler(deps.Tenants, deps.Redactor, logger)

	mux.HandleFunc("GET /health", adminHandler.HealthCheck)
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	admin := http.NewServeMux()
	streams := adminHandler.RequireStreams

	// Stream Info
	admin.HandleFunc("GET /admin/streams/{streamName}/groups", streams(adminHandler.GetGroupInfo))
	admin.HandleFunc("GET /admin/streams/{streamName}/groups/{groupName}/consumers", streams(adminHandler.GetConsumerInfo))

	// Pending Messages
	admin.HandleFunc("GET /admin/streams/{streamName}/groups/{groupName}/pending", streams(adminHandler.GetPendingSummary))
	admin.HandleFunc("GET /admin/streams/{streamName}/groups/{groupName}/pending/messages", streams(adminHandler.GetPendingMessages))

	// Stream Operations
	admin.HandleFunc("POST /admin/streams/{streamName}/groups/{groupName}/claim", streams(adminHandler.ClaimMessages))
	admin.HandleFunc("POST /admin/streams/{streamName}/groups/{groupName}/ack", streams(adminHandler.AcknowledgeMessages))
	admin.HandleFunc("POST /admin/streams/{streamName}/trim", streams(adminHandler.TrimStream))

	// Dead letters and tenants
	admin.HandleFunc("GET /admin/dead-letters", adminHandler.ListDeadLetters)
	admin.HandleFunc("GET /admin/tenants/{tenantID}", tenantHandler.GetTenant)
	admin.HandleFunc("PUT /admin/tenants/{tenantID}", tenantHandler.PutTenant)

	mux.Handle("/admin/", middleware.APIKey(deps.Keys, logger)(admin))

	return middleware.Logging(logger)(mux)
}
