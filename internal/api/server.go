package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/omzlo/nocan-node-manager/internal/config"
	"github.com/omzlo/nocan-node-manager/internal/firmware"
	"github.com/omzlo/nocan-node-manager/internal/jobs"
	"github.com/omzlo/nocan-node-manager/internal/metrics"
	"github.com/omzlo/nocan-node-manager/internal/nodes"
)

// maxUploadMemory bounds the multipart form kept in memory for uploads.
const maxUploadMemory = 1 << 20

// Server wires HTTP handlers to the node table, firmware service and jobs.
type Server struct {
	router   chi.Router
	nodes    *nodes.Registry
	firmware *firmware.Service
	jobs     *jobs.Registry
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	nodeRegistry *nodes.Registry,
	firmwareService *firmware.Service,
	jobRegistry *jobs.Registry,
	auth config.AuthConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		nodes:    nodeRegistry,
		firmware: firmwareService,
		jobs:     jobRegistry,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if auth.Enabled {
		r.Use(apiKeyMiddleware(auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", s.listNodes)
			r.Route("/{node}", func(r chi.Router) {
				r.Get("/", s.showNode)
				r.Post("/", s.commandNode)
				r.Get("/firmware/{memory}", s.downloadFirmware)
				r.Post("/firmware/{memory}", s.uploadFirmware)
			})
		})
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/", s.jobStatus)
			r.Get("/result", s.jobResult)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"jobs":          s.jobs.Len(),
		"transfer_busy": s.firmware.Busy(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
