// Package domain defines the core domain models for RouteMesh.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a routing domain error with a structured error code.
//
// Codes use the format RM-<AREA>-<NNNN>, where the area names the failure
// class (CONF, DIAL, AUTH, PROT, TIME, ROUT).
type DomainError struct {
	Code    string // Error code (e.g., "RM-AUTH-4010")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ErrorFromCode returns the registered error for a wire code, or a generic
// protocol error carrying the message when the code is unknown.
func ErrorFromCode(code, message string) *DomainError {
	if e, ok := errorsByCode[code]; ok {
		if message != "" && message != e.Message {
			return e.WithDetails(message)
		}
		return e
	}
	return ErrProtocol.WithDetails(fmt.Sprintf("%s: %s", code, message))
}

// ============================================================================
// Configuration Errors (CONF)
// ============================================================================

var (
	// ErrConfigInvalid indicates a malformed or missing required field.
	// It is the only error permitted to stop the process, and only at startup.
	ErrConfigInvalid = NewDomainError("RM-CONF-4000", "invalid configuration")
)

// ============================================================================
// Dial Errors (DIAL)
// ============================================================================

var (
	// ErrDialFailed indicates a transient failure to reach a peer.
	ErrDialFailed = NewDomainError("RM-DIAL-5030", "dial failed")
)

// ============================================================================
// Authentication Errors (AUTH)
// ============================================================================

var (
	// ErrAuthBadCredentials indicates the presented credentials were rejected.
	ErrAuthBadCredentials = NewDomainError("RM-AUTH-4010", "authorization violation")

	// ErrAuthTimeout indicates the handshake exceeded the authorization deadline.
	ErrAuthTimeout = NewDomainError("RM-AUTH-4080", "authentication timeout")

	// ErrAuthMalformed indicates the handshake could not be decoded.
	ErrAuthMalformed = NewDomainError("RM-AUTH-4000", "malformed handshake")
)

// ============================================================================
// Protocol Errors (PROT)
// ============================================================================

var (
	// ErrProtocol indicates a malformed frame or gossip payload.
	ErrProtocol = NewDomainError("RM-PROT-4000", "protocol violation")

	// ErrStaleConnection indicates the peer stopped answering keepalives.
	ErrStaleConnection = NewDomainError("RM-PROT-4080", "stale connection")
)

// ============================================================================
// Timeout Errors (TIME)
// ============================================================================

var (
	// ErrDrainTimeout indicates in-flight frames were not flushed in time.
	ErrDrainTimeout = NewDomainError("RM-TIME-5040", "drain timeout")
)

// ============================================================================
// Route Errors (ROUT)
// ============================================================================

var (
	// ErrDuplicateRoute indicates a healthy route to the peer already exists.
	ErrDuplicateRoute = NewDomainError("RM-ROUT-4090", "duplicate route")

	// ErrSelfRoute indicates the route points back at this node.
	ErrSelfRoute = NewDomainError("RM-ROUT-4091", "route to self")

	// ErrClusterMismatch indicates the peer belongs to another cluster.
	ErrClusterMismatch = NewDomainError("RM-ROUT-4092", "cluster name mismatch")

	// ErrRouteClosed indicates the route is draining or closed.
	ErrRouteClosed = NewDomainError("RM-ROUT-4093", "route closed")
)

var errorsByCode = map[string]*DomainError{}

func init() {
	for _, e := range []*DomainError{
		ErrConfigInvalid, ErrDialFailed,
		ErrAuthBadCredentials, ErrAuthTimeout, ErrAuthMalformed,
		ErrProtocol, ErrStaleConnection, ErrDrainTimeout,
		ErrDuplicateRoute, ErrSelfRoute, ErrClusterMismatch, ErrRouteClosed,
	} {
		errorsByCode[e.Code] = e
	}
}

// AuthReason classifies an authentication failure.
type AuthReason string

const (
	AuthReasonNone           AuthReason = ""
	AuthReasonBadCredentials AuthReason = "bad_credentials"
	AuthReasonTimeout        AuthReason = "timeout"
	AuthReasonMalformed      AuthReason = "malformed"
)

// AuthReasonOf returns the authentication failure reason carried by err,
// or AuthReasonNone if err is not an authentication error.
func AuthReasonOf(err error) AuthReason {
	switch {
	case errors.Is(err, ErrAuthBadCredentials):
		return AuthReasonBadCredentials
	case errors.Is(err, ErrAuthTimeout):
		return AuthReasonTimeout
	case errors.Is(err, ErrAuthMalformed):
		return AuthReasonMalformed
	default:
		return AuthReasonNone
	}
}

// IsAuthError reports whether err is any authentication failure.
func IsAuthError(err error) bool {
	return AuthReasonOf(err) != AuthReasonNone
}
