// Package metric provides Prometheus metrics for RouteMesh.
package metric

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yndnr/routemesh-go/internal/infra/buildinfo"
)

const namespace = "routemesh"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Route metrics
	RoutesActive     *prometheus.GaugeVec
	RouteConnects    *prometheus.CounterVec
	RouteDisconnects *prometheus.CounterVec
	DuplicateRoutes  *prometheus.CounterVec
	MembershipVer    prometheus.Gauge

	// Solicitation metrics
	DialAttempts   *prometheus.CounterVec
	ReconnectDelay prometheus.Histogram

	// Handshake metrics
	AuthResults  *prometheus.CounterVec
	AuthDuration prometheus.Histogram

	// Gossip metrics
	GossipSent     prometheus.Counter
	GossipReceived *prometheus.CounterVec

	// Data traffic
	Messages *prometheus.CounterVec
	Bytes    *prometheus.CounterVec

	// Process metrics
	ConfigReloads *prometheus.CounterVec
	BuildInfo     *prometheus.GaugeVec

	// Monitor endpoint
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewRegistry creates a registry with all RouteMesh collectors registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
		RoutesActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routes_active",
			Help:      "Established routes by direction.",
		}, []string{"direction"}),
		RouteConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_connects_total",
			Help:      "Routes that reached the established state.",
		}, []string{"direction"}),
		RouteDisconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_disconnects_total",
			Help:      "Routes closed, by reason.",
		}, []string{"reason"}),
		DuplicateRoutes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_routes_total",
			Help:      "Duplicate route resolutions.",
		}, []string{"resolution"}),
		MembershipVer: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "membership_version",
			Help:      "Current route registry version.",
		}),
		DialAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_attempts_total",
			Help:      "Outbound connection attempts by result.",
		}, []string{"result"}),
		ReconnectDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconnect_delay_seconds",
			Help:      "Delay scheduled before a reconnect attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		AuthResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_total",
			Help:      "Inbound handshake authentication outcomes.",
		}, []string{"result"}),
		AuthDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "auth_duration_seconds",
			Help:      "Time spent authenticating inbound handshakes.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		GossipSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_sent_total",
			Help:      "INFO frames written to routes.",
		}),
		GossipReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_received_total",
			Help:      "INFO frames received, by merge result.",
		}, []string{"result"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Data messages by direction.",
		}, []string{"direction"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_bytes_total",
			Help:      "Data message payload bytes by direction.",
		}, []string{"direction"}),
		ConfigReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Configuration reloads by result.",
		}, []string{"result"}),
		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information of the running binary.",
		}, []string{"version", "commit", "go_version"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Monitor endpoint requests.",
		}, []string{"method", "path", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Monitor endpoint latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		r.RoutesActive, r.RouteConnects, r.RouteDisconnects, r.DuplicateRoutes, r.MembershipVer,
		r.DialAttempts, r.ReconnectDelay,
		r.AuthResults, r.AuthDuration,
		r.GossipSent, r.GossipReceived,
		r.Messages, r.Bytes,
		r.ConfigReloads, r.BuildInfo,
		r.RequestsTotal, r.RequestDuration,
	)

	bi := buildinfo.Get()
	r.BuildInfo.WithLabelValues(bi.Version, bi.Commit, bi.GoVersion).Set(1)

	return r
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// Handler returns the /metrics handler of the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// Handler returns an HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registerer exposes the underlying registry for extra collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Gatherer exposes the underlying registry for tests and federation.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
