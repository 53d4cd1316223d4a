package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/routemesh-go/internal/server/httpserver/handler"
	"github.com/yndnr/routemesh-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the monitor router.
type RouterConfig struct {
	// Cluster is the route manager being monitored.
	Cluster handler.Cluster

	// Config returns the sanitized configuration shown on /varz.
	Config func() any

	// Metrics is served on /metrics and records request metrics. Nil
	// serves the global registry.
	Metrics *metric.Registry

	Logger *slog.Logger

	// AllowList is the IP/CIDR allowlist (empty = no restriction).
	AllowList []string

	// RateLimit is the per-IP request rate (requests/second, 0 = off).
	RateLimit float64
	RateBurst int
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		RateLimit: 50,
		RateBurst: 100,
	}
}

// NewRouter creates the monitor handler with all routes and middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "monitor")

	h := handler.New(handler.Options{
		Cluster: cfg.Cluster,
		Config:  cfg.Config,
		Logger:  log,
	})

	metricsHandler := metric.Handler()
	if cfg.Metrics != nil {
		metricsHandler = cfg.Metrics.Handler()
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	mux.Handle("/", h)

	// Order: Recover -> RequestID -> NetworkACL -> RateLimit -> AccessLog -> mux
	return Chain(mux,
		Recover(log),
		RequestID(log),
		NetworkACL(cfg.AllowList, log),
		RateLimit(cfg.RateLimit, cfg.RateBurst),
		AccessLog(log, cfg.Metrics),
	)
}
