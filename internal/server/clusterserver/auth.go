package clusterserver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/routemesh-go/internal/core/domain"
	"github.com/yndnr/routemesh-go/internal/telemetry/metric"
	"github.com/yndnr/routemesh-go/pkg/secret"
)

// Credentials are what an inbound route presents in its CONNECT frame.
type Credentials struct {
	User     string
	Password string
	Token    string

	// ConnState is set when the route listener uses TLS.
	ConnState *tls.ConnectionState
	// RemoteAddr is the peer's network address, for audit only.
	RemoteAddr string
}

// Authenticator validates inbound route credentials.
//
// Implementations return an AuthError (domain.ErrAuthBadCredentials,
// domain.ErrAuthMalformed or domain.ErrAuthTimeout) on failure and must
// stop work when ctx is done.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (domain.Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, creds Credentials) (domain.Identity, error)

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, creds Credentials) (domain.Identity, error) {
	return f(ctx, creds)
}

// AllowAll accepts every route. It is used when no authorization is
// configured.
type AllowAll struct{}

// Authenticate implements Authenticator.
func (AllowAll) Authenticate(ctx context.Context, creds Credentials) (domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, domain.ErrAuthTimeout.WithCause(err)
	}
	return domain.Identity{Name: creds.User, Method: "none"}, nil
}

// ============================================================================
// Static user/password and token
// ============================================================================

type staticCreds struct {
	user     string
	password string // plain or $argon2id$ hash
	token    string
}

// StaticAuthenticator checks a single configured user/password pair or
// token. Passwords may be stored as argon2id hashes.
type StaticAuthenticator struct {
	creds atomic.Pointer[staticCreds]
}

// NewStaticAuthenticator creates a static authenticator.
func NewStaticAuthenticator(user, password, token string) *StaticAuthenticator {
	a := &StaticAuthenticator{}
	a.Update(user, password, token)
	return a
}

// Update replaces the accepted credentials. Routes already established
// are not affected.
func (a *StaticAuthenticator) Update(user, password, token string) {
	a.creds.Store(&staticCreds{user: user, password: password, token: token})
}

// Authenticate implements Authenticator.
func (a *StaticAuthenticator) Authenticate(ctx context.Context, creds Credentials) (domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, domain.ErrAuthTimeout.WithCause(err)
	}
	want := a.creds.Load()

	if creds.Token != "" && creds.User != "" {
		return domain.Identity{}, domain.ErrAuthMalformed.WithDetails("both token and user presented")
	}

	if creds.Token != "" {
		if want.token == "" || !secret.Equal(creds.Token, want.token) {
			return domain.Identity{}, domain.ErrAuthBadCredentials.WithDetails("invalid token")
		}
		return domain.Identity{Name: "token", Method: "token"}, nil
	}

	if want.user == "" {
		return domain.Identity{}, domain.ErrAuthBadCredentials.WithDetails("token required")
	}
	if creds.User == "" {
		return domain.Identity{}, domain.ErrAuthBadCredentials.WithDetails("missing user")
	}

	userOK := secret.Equal(creds.User, want.user)
	passOK, err := checkPassword(creds.Password, want.password)
	if err != nil {
		return domain.Identity{}, domain.ErrAuthBadCredentials.WithDetails("stored password unusable").WithCause(err)
	}
	if !userOK || !passOK {
		return domain.Identity{}, domain.ErrAuthBadCredentials.WithDetails(fmt.Sprintf("bad password for user %q", creds.User))
	}
	return domain.Identity{Name: creds.User, Method: "password"}, nil
}

func checkPassword(given, stored string) (bool, error) {
	if secret.IsHash(stored) {
		return secret.VerifyPassword(given, stored)
	}
	return secret.Equal(given, stored), nil
}

// ============================================================================
// TLS identity
// ============================================================================

// TLSAuthenticator authenticates routes by client certificate. The chain
// is verified against the cluster CA and the certificate CN must be in the
// allowed list when one is set.
type TLSAuthenticator struct {
	mu      sync.RWMutex
	roots   *x509.CertPool
	allowed map[string]bool
}

// NewTLSAuthenticator creates a TLS authenticator. A nil roots pool skips
// chain verification, which the TLS handshake may already have done.
func NewTLSAuthenticator(roots *x509.CertPool, allowed []string) *TLSAuthenticator {
	a := &TLSAuthenticator{roots: roots}
	a.SetAllowed(allowed)
	return a
}

// SetAllowed replaces the allowed certificate identities. An empty list
// accepts any verified certificate.
func (a *TLSAuthenticator) SetAllowed(names []string) {
	var allowed map[string]bool
	if len(names) > 0 {
		allowed = make(map[string]bool, len(names))
		for _, n := range names {
			allowed[n] = true
		}
	}
	a.mu.Lock()
	a.allowed = allowed
	a.mu.Unlock()
}

// Authenticate implements Authenticator.
func (a *TLSAuthenticator) Authenticate(ctx context.Context, creds Credentials) (domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, domain.ErrAuthTimeout.WithCause(err)
	}
	if creds.ConnState == nil {
		return domain.Identity{}, domain.ErrAuthBadCredentials.WithDetails("route is not using TLS")
	}
	if len(creds.ConnState.PeerCertificates) == 0 {
		return domain.Identity{}, domain.ErrAuthBadCredentials.WithDetails("no client certificate provided")
	}

	cert := creds.ConnState.PeerCertificates[0]
	if err := a.verifyCertificate(cert, creds.ConnState.PeerCertificates[1:]); err != nil {
		return domain.Identity{}, domain.ErrAuthBadCredentials.WithDetails("certificate verification failed").WithCause(err)
	}

	name := cert.Subject.CommonName
	if name == "" {
		return domain.Identity{}, domain.ErrAuthBadCredentials.WithDetails("certificate CN is empty")
	}

	a.mu.RLock()
	allowed := a.allowed
	a.mu.RUnlock()
	if allowed != nil && !allowed[name] {
		return domain.Identity{}, domain.ErrAuthBadCredentials.WithDetails(fmt.Sprintf("identity %q not allowed", name))
	}
	return domain.Identity{Name: name, Method: "tls"}, nil
}

func (a *TLSAuthenticator) verifyCertificate(cert *x509.Certificate, chain []*x509.Certificate) error {
	now := time.Now()
	if now.Before(cert.NotBefore) {
		return errors.New("certificate not yet valid")
	}
	if now.After(cert.NotAfter) {
		return errors.New("certificate has expired")
	}
	if cert.IsCA {
		return errors.New("client certificate cannot be a CA certificate")
	}
	if a.roots == nil {
		return nil
	}

	intermediates := x509.NewCertPool()
	for _, c := range chain {
		intermediates.AddCert(c)
	}
	opts := x509.VerifyOptions{
		Roots:         a.roots,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		Intermediates: intermediates,
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate chain verification failed: %w", err)
	}
	return nil
}

// ============================================================================
// Composition
// ============================================================================

// RequireAll succeeds only if every authenticator accepts the credentials.
// The returned identity is the last one, with all methods joined by "+".
func RequireAll(auths ...Authenticator) Authenticator {
	if len(auths) == 1 {
		return auths[0]
	}
	return AuthenticatorFunc(func(ctx context.Context, creds Credentials) (domain.Identity, error) {
		var (
			id      domain.Identity
			methods []string
		)
		for _, a := range auths {
			got, err := a.Authenticate(ctx, creds)
			if err != nil {
				return domain.Identity{}, err
			}
			id = got
			methods = append(methods, got.Method)
		}
		id.Method = strings.Join(methods, "+")
		return id, nil
	})
}

// ============================================================================
// Audit and deadline
// ============================================================================

// AuditAuthenticator enforces the context deadline on an inner
// Authenticator and emits an audit log entry and metric for every outcome.
type AuditAuthenticator struct {
	inner   Authenticator
	logger  *slog.Logger
	metrics *metric.Registry
}

// NewAuditAuthenticator wraps inner. logger and metrics may be nil.
func NewAuditAuthenticator(inner Authenticator, logger *slog.Logger, metrics *metric.Registry) *AuditAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditAuthenticator{inner: inner, logger: logger, metrics: metrics}
}

type authResult struct {
	id  domain.Identity
	err error
}

// Authenticate runs the inner authenticator and returns ErrAuthTimeout as
// soon as ctx is done, even if the inner call has not returned.
func (a *AuditAuthenticator) Authenticate(ctx context.Context, creds Credentials) (domain.Identity, error) {
	start := time.Now()

	done := make(chan authResult, 1)
	go func() {
		id, err := a.inner.Authenticate(ctx, creds)
		done <- authResult{id: id, err: err}
	}()

	var res authResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = domain.ErrAuthTimeout.WithCause(ctx.Err())
	}
	if res.err != nil && !domain.IsAuthError(res.err) {
		if ctx.Err() != nil {
			res.err = domain.ErrAuthTimeout.WithCause(res.err)
		} else {
			res.err = domain.ErrAuthBadCredentials.WithCause(res.err)
		}
	}

	elapsed := time.Since(start)
	if res.err != nil {
		reason := domain.AuthReasonOf(res.err)
		a.metrics.RecordAuth(string(reason), elapsed)
		a.logger.Warn("route authentication failed",
			"remote_addr", creds.RemoteAddr,
			"user", creds.User,
			"auth_reason", string(reason),
			"duration", elapsed,
			"error", res.err)
		return domain.Identity{}, res.err
	}

	a.metrics.RecordAuth("ok", elapsed)
	a.logger.Info("route authenticated",
		"remote_addr", creds.RemoteAddr,
		"identity", res.id.Name,
		"method", res.id.Method,
		"duration", elapsed)
	return res.id, nil
}
