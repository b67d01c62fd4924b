package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vnsid/vnsid/internal/health"
	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/registry"
	"github.com/vnsid/vnsid/pkg/version"
)

// setupRoutes configures the admin API.
func (s *Server) setupRoutes() {
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(newRateLimiter(adminRate, adminBurst).middleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods(http.MethodGet)

	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	metricsPath := s.opts.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	s.router.Handle(metricsPath, promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	api.HandleFunc("/streams", s.handleStreams).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
}

// handleVersion handles the /version endpoint
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := s.writeJSON(w, http.StatusOK, version.GetInfo()); err != nil {
		s.logger.WithError(err).Error("Failed to encode version response")
	}
}

type sessionsResponse struct {
	Count    int         `json:"count"`
	Sessions interface{} `json:"sessions"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.Sessions()
	if err := s.writeJSON(w, http.StatusOK, sessionsResponse{Count: len(sessions), Sessions: sessions}); err != nil {
		logger.FromContext(r.Context()).WithError(err).Error("Failed to encode sessions response")
	}
}

// handleStreams lists the streams of every process sharing the registry.
func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	streams := []*registry.Stream{}
	if s.deps.Registry != nil {
		list, err := s.deps.Registry.List(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		streams = append(streams, list...)
	}
	if err := s.writeJSON(w, http.StatusOK, struct {
		Count   int                `json:"count"`
		Streams []*registry.Stream `json:"streams"`
	}{len(streams), streams}); err != nil {
		logger.FromContext(r.Context()).WithError(err).Error("Failed to encode streams response")
	}
}

// writeJSON is a helper to write JSON responses
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// writeError is a helper to write error responses
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.errorHandler.HandleError(w, r, err)
}
