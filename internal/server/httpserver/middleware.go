package httpserver

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/routemesh-go/internal/telemetry/logger"
	"github.com/yndnr/routemesh-go/internal/telemetry/metric"
	"github.com/yndnr/routemesh-go/pkg/cmap"
)

// Middleware wraps an http.Handler with additional functionality.
type Middleware func(http.Handler) http.Handler

// Chain chains multiple middlewares together. The first middleware is the
// outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID adds a unique request ID to each request and attaches log to
// the request context. A well-formed ID sent by the client is kept.
func RequestID(log *slog.Logger) Middleware {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if !validRequestID(requestID) {
				requestID = "req-" + ulid.Make().String()
			}
			w.Header().Set(RequestIDHeader, requestID)
			ctx := logger.WithRequestID(logger.WithLogger(r.Context(), log), requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		if c < '!' || c > '~' {
			return false
		}
	}
	return true
}

// AccessLog logs every request and records it in metrics.
func AccessLog(log *slog.Logger, metrics *metric.Registry) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			path := r.Pattern
			if path == "" {
				path = "other"
			} else if i := strings.IndexByte(path, ' '); i >= 0 {
				path = path[i+1:]
			}
			metrics.RecordRequest(r.Method, path, strconv.Itoa(wrapped.statusCode), duration)

			attrs := []any{
				"request_id", logger.RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", duration.Milliseconds(),
				"client_ip", clientIP(r),
			}
			switch {
			case wrapped.statusCode >= 500:
				log.Error("request completed with error", attrs...)
			case wrapped.statusCode >= 400:
				log.Warn("request completed with client error", attrs...)
			default:
				log.Debug("request completed", attrs...)
			}
		})
	}
}

// Recover recovers from panics and returns 500 error.
func Recover(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					log.Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
					)
					writeError(w, http.StatusInternalServerError, "RM-HTTP-5000", "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit limits requests per client IP with a token bucket. rps <= 0
// disables limiting.
func RateLimit(rps float64, burst int) Middleware {
	if burst <= 0 {
		burst = int(rps) + 1
	}
	// 16 shards of 64 keep at most 1024 client buckets.
	limiters := cmap.NewBounded[*rate.Limiter](cmap.DefaultShardCount, 64)
	newLimiter := func() *rate.Limiter { return rate.NewLimiter(rate.Limit(rps), burst) }
	limiterFor := func(ip string) *rate.Limiter {
		l, _ := limiters.GetOrCreate(ip, newLimiter)
		return l
	}

	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiterFor(clientIP(r)).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "RM-HTTP-4290", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NetworkACL rejects clients outside allowList (IPs or CIDRs). An empty
// list allows everyone. Invalid entries are logged and skipped.
func NetworkACL(allowList []string, log *slog.Logger) Middleware {
	var networks []*net.IPNet
	for _, entry := range allowList {
		if ipNet, err := ParseAllowEntry(entry); err == nil {
			networks = append(networks, ipNet)
		} else if log != nil {
			log.Warn("invalid monitor allow_list entry", "entry", entry, "error", err)
		}
	}

	return func(next http.Handler) http.Handler {
		if len(networks) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := net.ParseIP(clientIP(r))
			if ip != nil {
				for _, n := range networks {
					if n.Contains(ip) {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			if log != nil {
				log.Warn("request denied by network ACL", "client_ip", clientIP(r), "path", r.URL.Path)
			}
			writeError(w, http.StatusForbidden, "RM-HTTP-4030", "client not in allow_list")
		})
	}
}

// ParseAllowEntry parses an IP or CIDR into a network.
func ParseAllowEntry(entry string) (*net.IPNet, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, n, err := net.ParseCIDR(entry)
		return n, err
	}
	ip := net.ParseIP(entry)
	if ip == nil {
		return nil, &net.ParseError{Type: "IP address", Text: entry}
	}
	bits := 128
	if ip4 := ip.To4(); ip4 != nil {
		ip, bits = ip4, 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    code,
		"message": message,
	})
}

// clientIP returns the connection's remote IP. Forwarding headers are
// ignored since the allow list is checked against this value.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
