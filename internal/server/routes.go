package server

import (
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"linkcheck/internal/handlers"
	"linkcheck/internal/handlers/api"
	"linkcheck/internal/middleware"
)

// Handlers groups the handlers the routes are bound to.
type Handlers struct {
	Probe       *handlers.ProbeHandler
	Checks      *api.ChecksHandler
	Recheck     *api.RecheckHandler
	BrokenLinks *api.BrokenLinkHandler
	Exclusions  *api.ExclusionHandler
}

// RegisterRoutes registers all application routes.
func (s *Server) RegisterRoutes(h Handlers) {
	auth := middleware.NewTokenAuth(s.Cfg.APIToken)

	s.App.Get("/healthz", h.Probe.Liveness)
	s.App.Get("/readyz", h.Probe.Readiness)
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := s.App.Group("/api/v1")

	v1.Get("/checks/last", h.Checks.Last)
	v1.Post("/checks", auth.RequireToken, h.Checks.Start)
	v1.Post("/recheck", auth.RequireToken, h.Recheck.Recheck)

	v1.Get("/broken-links", h.BrokenLinks.List)

	v1.Get("/exclusions", h.Exclusions.List)
	v1.Post("/exclusions", auth.RequireToken, h.Exclusions.Create)
	v1.Delete("/exclusions/:id", auth.RequireToken, h.Exclusions.Delete)
}
