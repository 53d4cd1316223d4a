package config

import (
	"github.com/yndnr/routemesh-go/internal/core/domain"
)

// Sanitize returns a copy of cfg safe to log or expose on /varz.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	if cfg == nil {
		return nil
	}
	out := *cfg

	out.Cluster.Authorization.Password = maskSecret(cfg.Cluster.Authorization.Password)
	out.Cluster.Authorization.Token = maskSecret(cfg.Cluster.Authorization.Token)

	if len(cfg.Cluster.Routes) > 0 {
		out.Cluster.Routes = make([]string, len(cfg.Cluster.Routes))
		for i, r := range cfg.Cluster.Routes {
			out.Cluster.Routes[i] = domain.RedactURL(r)
		}
	}
	out.Cluster.TLS.VerifyIdentity = append([]string(nil), cfg.Cluster.TLS.VerifyIdentity...)
	out.Cluster.Discovery.Seeds = append([]string(nil), cfg.Cluster.Discovery.Seeds...)
	out.Monitor.AllowList = append([]string(nil), cfg.Monitor.AllowList...)
	return &out
}

// maskSecret keeps the first and last two characters of s.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
