package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/V4T54L/postbus/internal/adapter/api/handler"
	"github.com/V4T54L/postbus/internal/adapter/api/middleware"
	"github.com/V4T54L/postbus/internal/pkg/config"
)

// NewRouter creates the public router for the publish endpoint.
func NewRouter(cfg *config.Config, logger *slog.Logger, admitter handler.Admitter) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)

	postHandler := handler.NewPostHandler(admitter, logger, cfg.MaxBodySize)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Bearer(cfg.JWTSecret, logger))
		r.Method(http.MethodPost, "/post", postHandler)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
