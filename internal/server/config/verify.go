package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/yndnr/routemesh-go/internal/core/domain"
	"github.com/yndnr/routemesh-go/internal/server/httpserver"
	"github.com/yndnr/routemesh-go/pkg/secret"
)

// Verify validates the configuration. All problems are reported in one
// ErrConfigInvalid.
func Verify(cfg *ServerConfig) error {
	if cfg == nil {
		return domain.ErrConfigInvalid.WithDetails("config is nil")
	}

	var errs []string
	errs = append(errs, verifyServer(cfg)...)
	errs = append(errs, verifyLog(&cfg.Log)...)
	errs = append(errs, verifyCluster(&cfg.Cluster)...)
	errs = append(errs, verifyMonitor(&cfg.Monitor)...)

	if len(errs) > 0 {
		return domain.ErrConfigInvalid.WithDetails(strings.Join(errs, "; "))
	}
	return nil
}

func verifyServer(cfg *ServerConfig) []string {
	if strings.TrimSpace(cfg.ServerName) == "" {
		return []string{"server_name is required"}
	}
	return nil
}

func verifyLog(cfg *LogSection) []string {
	var errs []string
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level: invalid value %q (must be debug, info, warn, or error)", cfg.Level))
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log.format: invalid value %q (must be json or text)", cfg.Format))
	}
	return errs
}

func verifyCluster(cfg *ClusterSection) []string {
	var errs []string

	if strings.TrimSpace(cfg.Name) == "" {
		errs = append(errs, "cluster.name is required")
	}
	if cfg.Listen == "" {
		errs = append(errs, "cluster.listen is required")
	} else if err := verifyHostPort(cfg.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("cluster.listen: %v", err))
	}
	if cfg.Advertise != "" {
		if err := verifyHostPort(cfg.Advertise); err != nil {
			errs = append(errs, fmt.Sprintf("cluster.advertise: %v", err))
		}
	}

	for i, raw := range cfg.Routes {
		if _, err := domain.ParseRouteURL(raw); err != nil {
			errs = append(errs, fmt.Sprintf("cluster.routes[%d]: %v", i, err))
		}
	}

	errs = append(errs, verifyAuthorization(&cfg.Authorization)...)
	errs = append(errs, verifyTLS(&cfg.TLS)...)

	if cfg.Reconnect.Jitter < 0 || cfg.Reconnect.Jitter >= 1 {
		errs = append(errs, fmt.Sprintf("cluster.reconnect.jitter: %v out of range [0, 1)", cfg.Reconnect.Jitter))
	}
	if cfg.Reconnect.Max > 0 && cfg.Reconnect.Base > cfg.Reconnect.Max {
		errs = append(errs, "cluster.reconnect.base must not exceed cluster.reconnect.max")
	}
	if cfg.ConnectRetries < 0 {
		errs = append(errs, "cluster.connect_retries must not be negative")
	}
	if cfg.MaxAuthRetries < 0 {
		errs = append(errs, "cluster.max_auth_retries must not be negative")
	}
	if cfg.Stagger < 0 {
		errs = append(errs, "cluster.stagger must not be negative")
	}
	if cfg.AcceptRate < 0 || cfg.AcceptBurst < 0 {
		errs = append(errs, "cluster.accept_rate and cluster.accept_burst must not be negative")
	}

	if cfg.Discovery.Enabled {
		if cfg.Discovery.BindPort < 0 || cfg.Discovery.BindPort > 65535 {
			errs = append(errs, fmt.Sprintf("cluster.discovery.bind_port: %d out of range", cfg.Discovery.BindPort))
		}
		for i, s := range cfg.Discovery.Seeds {
			if strings.TrimSpace(s) == "" {
				errs = append(errs, fmt.Sprintf("cluster.discovery.seeds[%d] is empty", i))
			}
		}
	}
	return errs
}

func verifyAuthorization(cfg *AuthorizationSection) []string {
	var errs []string
	if cfg.Token != "" && (cfg.User != "" || cfg.Password != "") {
		errs = append(errs, "cluster.authorization: token cannot be combined with user/password")
	}
	if cfg.User != "" && cfg.Password == "" {
		errs = append(errs, "cluster.authorization.password is required when user is set")
	}
	if cfg.Password != "" && cfg.User == "" {
		errs = append(errs, "cluster.authorization.user is required when password is set")
	}
	if secret.IsHash(cfg.Password) {
		if _, err := secret.ParseHash(cfg.Password); err != nil {
			errs = append(errs, fmt.Sprintf("cluster.authorization.password: %v", err))
		}
	}
	if cfg.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("cluster.authorization.timeout: %v must not be negative", cfg.Timeout))
	}
	return errs
}

func verifyTLS(cfg *TLSSection) []string {
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return []string{"cluster.tls: cert_file and key_file must be set together"}
	}
	if cfg.CertFile == "" && (cfg.CAFile != "" || len(cfg.VerifyIdentity) > 0) {
		return []string{"cluster.tls: ca_file and verify_identity require cert_file and key_file"}
	}
	return nil
}

func verifyMonitor(cfg *MonitorSection) []string {
	if cfg.Addr == "" {
		return nil
	}
	var errs []string
	if err := verifyHostPort(cfg.Addr); err != nil {
		errs = append(errs, fmt.Sprintf("monitor.addr: %v", err))
	}
	for i, entry := range cfg.AllowList {
		if _, err := httpserver.ParseAllowEntry(entry); err != nil {
			errs = append(errs, fmt.Sprintf("monitor.allow_list[%d]: %v", i, err))
		}
	}
	return errs
}

func verifyHostPort(addr string) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", portStr)
	}
	return nil
}
