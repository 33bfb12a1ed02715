// Package server exposes the ledger engine over HTTP/JSON. The engine
// serializes access internally, so handlers call it directly.
package server

import (
	"net/http"

	"PortfolioLedger/internal/engine"
	"PortfolioLedger/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Server wires the engine to the HTTP routes.
type Server struct {
	engine  *engine.Engine
	health  *observability.HealthChecker
	metrics http.Handler
	log     zerolog.Logger
}

// New creates the server. metricsHandler serves the Prometheus registry
// (promhttp); pass nil to disable the endpoint.
func New(eng *engine.Engine, health *observability.HealthChecker, metricsHandler http.Handler, log zerolog.Logger) *Server {
	return &Server{
		engine:  eng,
		health:  health,
		metrics: metricsHandler,
		log:     log.With().Str("component", "http_server").Logger(),
	}
}

// Router builds the chi router with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/assets", s.handleGetAssets)
		r.Post("/assets", s.handleAddAsset)
		r.Delete("/assets/{symbol}", s.handleRemoveAsset)

		r.Post("/prices", s.handleUpdatePrices)

		r.Get("/positions", s.handleGetPositions)
		r.Post("/positions", s.handleOpenPosition)
		r.Patch("/positions/{id}/levels", s.handleUpdateLevels)
		r.Post("/positions/{id}/close", s.handleClosePosition)

		r.Get("/trades", s.handleGetTrades)
		r.Post("/trades", s.handleRecordTrade)

		r.Get("/cash", s.handleGetCash)
		r.Post("/cash/deposit", s.handleDeposit)
		r.Post("/cash/withdraw", s.handleWithdraw)

		r.Get("/history", s.handleValueHistory)
		r.Post("/snapshots", s.handleTakeSnapshot)
		r.Get("/risk", s.handleRiskMetrics)

		r.Get("/config", s.handleGetConfig)
		r.Patch("/config", s.handleUpdateConfig)

		r.Get("/export", s.handleExport)
		r.Post("/import", s.handleImport)
	})

	return r
}
