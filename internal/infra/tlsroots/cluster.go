// Package tlsroots builds the TLS configuration for cluster routes.
package tlsroots

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// Options are the file locations of cluster.tls.
type Options struct {
	CertFile string
	KeyFile  string

	// CAFile is a PEM bundle or a directory of .pem, .crt and .cer files.
	CAFile string
	Logger *slog.Logger
}

// Enabled reports whether route TLS is configured.
func (o Options) Enabled() bool {
	return o.CertFile != "" || o.KeyFile != ""
}

// ClusterConfig returns a tls.Config usable on both the dialing and the
// accepting end of a route, plus the key pair for hot reload. Peers must
// present a certificate; with a CA file they must also chain to it.
func ClusterConfig(opts Options) (*tls.Config, *KeyPair, error) {
	if opts.CertFile == "" || opts.KeyFile == "" {
		return nil, nil, errors.New("tlsroots: cert_file and key_file are both required")
	}

	kp, err := LoadKeyPair(opts.CertFile, opts.KeyFile, opts.Logger)
	if err != nil {
		return nil, nil, err
	}

	cfg := &tls.Config{
		MinVersion:           tls.VersionTLS12,
		GetCertificate:       kp.GetCertificate,
		GetClientCertificate: kp.GetClientCertificate,
		ClientAuth:           tls.RequireAnyClientCert,
	}

	if opts.CAFile != "" {
		pool, err := loadCAs(opts.CAFile)
		if err != nil {
			return nil, nil, err
		}
		cfg.RootCAs = pool.Pool()
		cfg.ClientCAs = pool.Pool()
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		cfg.RootCAs = NewPool().Pool()
	}

	return cfg, kp, nil
}

// ForDial returns a copy of cfg verifying the peer as host.
func ForDial(cfg *tls.Config, host string) *tls.Config {
	c := cfg.Clone()
	c.ServerName = host
	return c
}

func loadCAs(path string) (*Pool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("tlsroots: ca_file: %w", err)
	}
	pool := NewEmptyPool()
	if !info.IsDir() {
		return pool, pool.AddCertFile(path)
	}
	if err := pool.AddCertDir(path); err != nil {
		return nil, err
	}
	if pool.Len() == 0 {
		return nil, fmt.Errorf("tlsroots: ca_file %s: %w", path, ErrNoCertsFound)
	}
	return pool, nil
}
