package config

import (
	"github.com/yndnr/routemesh-go/internal/server/clusterserver"
)

// Default configuration values.
const (
	DefaultMonitorAddr   = "127.0.0.1:8222"
	DefaultAuthTimeout   = 2.0
	DefaultDiscoveryPort = 7946

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Default returns the default server configuration. server_name,
// cluster.name and cluster.listen have no default.
func Default() *ServerConfig {
	backoff := clusterserver.DefaultBackoffConfig()
	return &ServerConfig{
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Cluster: ClusterSection{
			Authorization: AuthorizationSection{
				Timeout: DefaultAuthTimeout,
			},
			ConnectRetries: clusterserver.DefaultConnectRetries,
			MaxAuthRetries: clusterserver.DefaultMaxAuthRetries,
			Reconnect: ReconnectSection{
				Base:   backoff.Base,
				Max:    backoff.Max,
				Jitter: backoff.Jitter,
			},
			Stagger:        clusterserver.DefaultStagger,
			GossipInterval: clusterserver.DefaultGossipInterval,
			PingInterval:   clusterserver.DefaultPingInterval,
			MaxPingsOut:    clusterserver.DefaultMaxPingsOut,
			DrainTimeout:   clusterserver.DefaultDrainTimeout,
			DialTimeout:    clusterserver.DefaultDialTimeout,
			WriteDeadline:  clusterserver.DefaultWriteDeadline,
			AcceptRate:     clusterserver.DefaultAcceptRate,
			AcceptBurst:    clusterserver.DefaultAcceptBurst,
			Discovery: DiscoverySection{
				BindPort: DefaultDiscoveryPort,
			},
		},
		Monitor: MonitorSection{
			Addr: DefaultMonitorAddr,
		},
	}
}
