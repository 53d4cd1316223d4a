package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/yndnr/routemesh-go/internal/core/domain"
	"github.com/yndnr/routemesh-go/internal/server/clusterserver"
	"github.com/yndnr/routemesh-go/internal/telemetry/logger"
)

// Cluster is the part of the route manager the monitor reads.
type Cluster interface {
	ServerName() string
	Cluster() string
	Instance() string
	Addr() string
	AdvertiseAddr() string
	Running() bool
	View() clusterserver.MembershipView
	Routes() []domain.RouteInfo
}

// Options configures a Handler.
type Options struct {
	Cluster Cluster

	// Config returns the sanitized running configuration for /varz. It is
	// called per request so reloads show up.
	Config func() any

	Logger *slog.Logger
}

// Handler serves the monitor endpoints.
type Handler struct {
	cluster Cluster
	config  func() any
	logger  *slog.Logger
	start   time.Time
	mux     *http.ServeMux
}

// New creates a Handler.
func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Handler{
		cluster: opts.Cluster,
		config:  opts.Config,
		logger:  opts.Logger,
		start:   time.Now(),
		mux:     http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logger.WithLogger(r.Context(), h.logger)))
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	h.mux.HandleFunc("GET /routez", h.handleRoutez)
	h.mux.HandleFunc("GET /varz", h.handleVarz)
	h.mux.HandleFunc("/", h.handleNotFound)
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "RM-HTTP-4040", "no such endpoint: "+r.URL.Path, nil)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := logger.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		logger.L(r.Context()).Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := logger.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message, details))
}
