// Package tlsroots builds the TLS configuration for cluster routes.
package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"
)

// KeyPair holds the local certificate and swaps it atomically on reload.
type KeyPair struct {
	certFile string
	keyFile  string
	cert     atomic.Pointer[tls.Certificate]
	logger   *slog.Logger
}

// LoadKeyPair loads the certificate and key from disk.
func LoadKeyPair(certFile, keyFile string, logger *slog.Logger) (*KeyPair, error) {
	if logger == nil {
		logger = slog.Default()
	}
	kp := &KeyPair{certFile: certFile, keyFile: keyFile, logger: logger}
	if err := kp.Reload(); err != nil {
		return nil, err
	}
	return kp, nil
}

// Reload re-reads the key pair. The previous certificate stays in use when
// the new files cannot be loaded.
func (kp *KeyPair) Reload() error {
	cert, err := tls.LoadX509KeyPair(kp.certFile, kp.keyFile)
	if err != nil {
		return fmt.Errorf("tlsroots: load key pair: %w", err)
	}
	if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
		cert.Leaf = leaf
		if time.Now().After(leaf.NotAfter) {
			kp.logger.Warn("route certificate expired",
				"cert_file", kp.certFile,
				"not_after", leaf.NotAfter,
			)
		}
	}
	kp.cert.Store(&cert)
	kp.logger.Info("route certificate loaded", "cert_file", kp.certFile)
	return nil
}

// Files returns the absolute paths of the certificate and key files.
func (kp *KeyPair) Files() []string {
	c, _ := filepath.Abs(kp.certFile)
	k, _ := filepath.Abs(kp.keyFile)
	if c == k {
		return []string{c}
	}
	return []string{c, k}
}

// Handles reports whether path is one of the key pair's files.
func (kp *KeyPair) Handles(path string) bool {
	for _, f := range kp.Files() {
		if f == path {
			return true
		}
	}
	return false
}

// FileWatcher reports changes to watched files. confloader.Watcher
// implements it.
type FileWatcher interface {
	Watch(path string) error
	OnChange(callback func(string))
}

// WatchFiles adds the key pair's files to w and reloads the certificate
// whenever one of them changes.
func (kp *KeyPair) WatchFiles(w FileWatcher) error {
	for _, f := range kp.Files() {
		if err := w.Watch(f); err != nil {
			return fmt.Errorf("tlsroots: watch %s: %w", f, err)
		}
	}
	w.OnChange(func(path string) {
		if !kp.Handles(path) {
			return
		}
		if err := kp.Reload(); err != nil {
			kp.logger.Error("route certificate reload failed, keeping previous",
				"cert_file", kp.certFile,
				"error", err)
		}
	})
	return nil
}

// Certificate returns the current certificate.
func (kp *KeyPair) Certificate() *tls.Certificate {
	return kp.cert.Load()
}

// GetCertificate implements tls.Config.GetCertificate.
func (kp *KeyPair) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return kp.cert.Load(), nil
}

// GetClientCertificate implements tls.Config.GetClientCertificate.
func (kp *KeyPair) GetClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	return kp.cert.Load(), nil
}
