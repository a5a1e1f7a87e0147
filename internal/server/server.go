package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/alerta-link/alertalink/internal/config"
	"github.com/alerta-link/alertalink/internal/engine"
)

// Server is the HTTP surface consumed by the mobile and web clients.
type Server struct {
	engine *engine.Engine
	cfg    *config.Config
	log    zerolog.Logger
}

// New builds the router: CORS with an explicit origin list, a per-IP token
// bucket wrapping the analyze-shaped endpoints, and the public routes.
// Rate-limited requests are rejected before any pipeline work happens.
func New(e *engine.Engine, cfg *config.Config, log zerolog.Logger) http.Handler {
	s := &Server{engine: e, cfg: cfg, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	limit := cfg.RateLimitPerMinute
	if limit <= 0 {
		limit = 30
	}
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(limit, time.Minute))
		r.Post("/analyze", s.handleAnalyze)
	})

	r.Post("/report", s.handleReport)
	r.Post("/ingest", s.handleIngest)
	r.Get("/health", s.handleHealth)
	r.Get("/settings", s.handleSettings)
	r.Post("/settings/mode", s.handleSetMode)
	r.Get("/whois/{domain}", s.handleWhois)

	return r
}
