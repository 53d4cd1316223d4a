package config

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/yndnr/routemesh-go/internal/core/domain"
	"github.com/yndnr/routemesh-go/internal/infra/tlsroots"
	"github.com/yndnr/routemesh-go/internal/server/clusterserver"
	"github.com/yndnr/routemesh-go/internal/telemetry/metric"
)

// ClusterRuntime is the cluster configuration plus the handles that can be
// updated on reload without restarting the manager.
type ClusterRuntime struct {
	Config clusterserver.Config

	// Static checks cluster.authorization. Nil when no credentials are set.
	Static *clusterserver.StaticAuthenticator
	// TLSAuth checks client certificates. Nil without cluster.tls.
	TLSAuth *clusterserver.TLSAuthenticator
	// KeyPair is the reloadable route certificate. Nil without cluster.tls.
	KeyPair *tlsroots.KeyPair
}

// ToClusterConfig converts a verified ServerConfig into a manager
// configuration. Route URLs are parsed again here so callers that skip
// Verify still get ErrConfigInvalid.
func ToClusterConfig(cfg *ServerConfig, logger *slog.Logger, metrics *metric.Registry) (*ClusterRuntime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cfg.Cluster

	routes := make([]*domain.RouteURL, 0, len(cl.Routes))
	for i, raw := range cl.Routes {
		u, err := domain.ParseRouteURL(raw)
		if err != nil {
			return nil, domain.ErrConfigInvalid.WithDetails(fmt.Sprintf("cluster.routes[%d]", i)).WithCause(err)
		}
		routes = append(routes, u)
	}

	rt := &ClusterRuntime{
		Config: clusterserver.Config{
			ServerName:  cfg.ServerName,
			Cluster:     cl.Name,
			Listen:      cl.Listen,
			Advertise:   cl.Advertise,
			NoAdvertise: cl.NoAdvertise,
			Routes:      routes,
			AuthTimeout: AuthTimeout(cl.Authorization.Timeout),
			Auth: clusterserver.RouteAuth{
				User:     cl.Authorization.User,
				Password: cl.Authorization.Password,
				Token:    cl.Authorization.Token,
			},
			Reconnect: clusterserver.BackoffConfig{
				Base:   cl.Reconnect.Base,
				Max:    cl.Reconnect.Max,
				Jitter: cl.Reconnect.Jitter,
			},
			Stagger:        cl.Stagger,
			GossipInterval: cl.GossipInterval,
			DialTimeout:    cl.DialTimeout,
			DrainTimeout:   cl.DrainTimeout,
			WriteDeadline:  cl.WriteDeadline,
			PingInterval:   cl.PingInterval,
			MaxPingsOut:    cl.MaxPingsOut,
			ConnectRetries: cl.ConnectRetries,
			MaxAuthRetries: cl.MaxAuthRetries,
			AcceptRate:     cl.AcceptRate,
			AcceptBurst:    cl.AcceptBurst,
			Logger:         logger,
			Metrics:        metrics,
		},
	}

	var auths []clusterserver.Authenticator
	if HasCredentials(&cl.Authorization) {
		rt.Static = clusterserver.NewStaticAuthenticator(cl.Authorization.User, cl.Authorization.Password, cl.Authorization.Token)
		auths = append(auths, rt.Static)
	}

	tlsOpts := tlsroots.Options{
		CertFile: cl.TLS.CertFile,
		KeyFile:  cl.TLS.KeyFile,
		CAFile:   cl.TLS.CAFile,
		Logger:   logger,
	}
	if tlsOpts.Enabled() {
		tlsCfg, kp, err := tlsroots.ClusterConfig(tlsOpts)
		if err != nil {
			return nil, domain.ErrConfigInvalid.WithDetails("cluster.tls").WithCause(err)
		}
		rt.Config.TLS = tlsCfg
		rt.KeyPair = kp
		rt.TLSAuth = clusterserver.NewTLSAuthenticator(tlsCfg.RootCAs, cl.TLS.VerifyIdentity)
		auths = append(auths, rt.TLSAuth)
	}
	if len(auths) > 0 {
		rt.Config.Authenticator = clusterserver.RequireAll(auths...)
	}

	if cl.Discovery.Enabled {
		rt.Config.Discovery = &clusterserver.DiscoveryConfig{
			BindAddr: cl.Discovery.BindAddr,
			BindPort: cl.Discovery.BindPort,
			Seeds:    append([]string(nil), cl.Discovery.Seeds...),
			Logger:   logger,
		}
	}
	return rt, nil
}

// HasCredentials reports whether inbound routes must present credentials.
func HasCredentials(a *AuthorizationSection) bool {
	return a.User != "" || a.Token != ""
}

// AuthTimeout converts cluster.authorization.timeout seconds to a duration.
// Zero, negative and non-finite values use the default.
func AuthTimeout(seconds float64) time.Duration {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = DefaultAuthTimeout
	}
	return time.Duration(seconds * float64(time.Second))
}
