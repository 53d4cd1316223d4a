package handler

import (
	"time"

	"github.com/yndnr/routemesh-go/internal/core/domain"
	"github.com/yndnr/routemesh-go/internal/infra/buildinfo"
)

// Response is the standard monitor response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status     string `json:"status"`
	ServerName string `json:"server_name"`
	Routes     int    `json:"routes"`
}

// RoutezResponse is the body of GET /routez.
type RoutezResponse struct {
	ServerName string             `json:"server_name"`
	Cluster    string             `json:"cluster"`
	Version    uint64             `json:"version"`
	NumRoutes  int                `json:"num_routes"`
	Peers      []domain.RouteInfo `json:"peers"`
	Routes     []domain.RouteInfo `json:"routes"`
}

// VarzResponse is the body of GET /varz.
type VarzResponse struct {
	ServerName string         `json:"server_name"`
	Cluster    string         `json:"cluster"`
	Instance   string         `json:"instance"`
	Listen     string         `json:"listen"`
	Advertise  string         `json:"advertise"`
	Start      time.Time      `json:"start"`
	Uptime     string         `json:"uptime"`
	Build      buildinfo.Info `json:"build"`
	Config     any            `json:"config,omitempty"`
}
