// Package domain defines the core domain models for RouteMesh.
package domain

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultRoutePort is used when a route URL or listen address omits the port.
const DefaultRoutePort = 6222

// routeSchemes are the accepted route URL schemes.
var routeSchemes = map[string]bool{
	"route":      true,
	"nats-route": true,
}

// RouteURL is a parsed seed route URL.
//
// Format: scheme://[user[:password]@]host[:port]
type RouteURL struct {
	Scheme   string
	User     string
	Password string
	Host     string
	Port     int
}

// ParseRouteURL parses and validates a route URL.
func ParseRouteURL(raw string) (*RouteURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrConfigInvalid.WithDetails("empty route url")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, ErrConfigInvalid.WithDetails("route url: " + RedactURL(raw)).WithCause(err)
	}

	scheme := strings.ToLower(u.Scheme)
	if !routeSchemes[scheme] {
		return nil, ErrConfigInvalid.WithDetails(fmt.Sprintf("route url %q: unsupported scheme %q", RedactURL(raw), u.Scheme))
	}
	if u.Path != "" && u.Path != "/" {
		return nil, ErrConfigInvalid.WithDetails(fmt.Sprintf("route url %q: unexpected path", RedactURL(raw)))
	}

	host := u.Hostname()
	if host == "" {
		return nil, ErrConfigInvalid.WithDetails(fmt.Sprintf("route url %q: missing host", RedactURL(raw)))
	}

	port := DefaultRoutePort
	if p := u.Port(); p != "" {
		port, err = parsePort(p)
		if err != nil {
			return nil, ErrConfigInvalid.WithDetails(fmt.Sprintf("route url %q: %v", RedactURL(raw), err))
		}
	}

	r := &RouteURL{
		Scheme: scheme,
		Host:   normalizeHost(host),
		Port:   port,
	}
	if u.User != nil {
		r.User = u.User.Username()
		r.Password, _ = u.User.Password()
	}
	return r, nil
}

// Address returns the normalized host:port used for equality and dedup.
func (r *RouteURL) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// Equal reports whether two route URLs point at the same peer. Credentials
// and scheme are ignored.
func (r *RouteURL) Equal(other *RouteURL) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Address() == other.Address()
}

// HasCredentials reports whether the URL embeds a user or password.
func (r *RouteURL) HasCredentials() bool {
	return r.User != "" || r.Password != ""
}

// String returns the URL with the password masked.
func (r *RouteURL) String() string {
	var b strings.Builder
	b.WriteString(r.Scheme)
	b.WriteString("://")
	if r.User != "" {
		b.WriteString(r.User)
		if r.Password != "" {
			b.WriteString(":" + redactedPassword)
		}
		b.WriteString("@")
	}
	b.WriteString(r.Address())
	return b.String()
}

// NormalizeAddress normalizes a host:port pair. A missing port defaults to
// DefaultRoutePort.
func NormalizeAddress(hostport string) (string, error) {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return "", fmt.Errorf("empty address")
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		// No port: treat the whole value as host.
		host = strings.Trim(hostport, "[]")
		portStr = strconv.Itoa(DefaultRoutePort)
	}

	port, err := parsePort(portStr)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(normalizeHost(host), strconv.Itoa(port)), nil
}

// SplitAddress returns the host and port of a normalized address.
func SplitAddress(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := parsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// IsUnspecifiedHost reports whether host binds all interfaces.
func IsUnspecifiedHost(host string) bool {
	if host == "" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsUnspecified()
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSuffix(strings.Trim(host, "[]"), "."))
	if host == "localhost" {
		return "127.0.0.1"
	}
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
		return ip.String()
	}
	return host
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

const redactedPassword = "xxxxx"

// RedactURL masks the password of any URL-looking string. Values that do
// not parse are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), redactedPassword)
	return u.String()
}
