package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("RM-TEST-1000", "test message"),
			expected: "[RM-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("RM-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[RM-TEST-1001] test message: extra info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("RM-TEST-1000", "message 1")
	err2 := NewDomainError("RM-TEST-1000", "message 2")
	err3 := NewDomainError("RM-TEST-1001", "message 1")

	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error code")
	}
	if errors.Is(err1, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}
}

func TestDomainError_WithCause(t *testing.T) {
	original := NewDomainError("RM-TEST-1000", "original message")
	cause := fmt.Errorf("root cause")
	withCause := original.WithCause(cause)

	if original.Cause != nil {
		t.Error("WithCause should not modify original error")
	}
	if withCause.Cause != cause {
		t.Errorf("Cause = %v, want %v", withCause.Cause, cause)
	}
	if errors.Unwrap(withCause) != cause {
		t.Error("Unwrap should return the cause")
	}
}

func TestIsDomainError(t *testing.T) {
	wrapped := fmt.Errorf("dial seed: %w", ErrDialFailed.WithDetails("127.0.0.1:4245"))

	if !IsDomainError(wrapped, "RM-DIAL-5030") {
		t.Error("IsDomainError should work with wrapped errors")
	}
	if IsDomainError(wrapped, "RM-DIAL-9999") {
		t.Error("IsDomainError should return false for non-matching code")
	}
	if !IsDomainError(wrapped, "") {
		t.Error("IsDomainError with empty code should match any DomainError")
	}
	if IsDomainError(fmt.Errorf("regular error"), "") {
		t.Error("IsDomainError should return false for non-DomainError")
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"domain error", ErrSelfRoute, "RM-ROUT-4091"},
		{"wrapped domain error", fmt.Errorf("wrapped: %w", ErrAuthTimeout), "RM-AUTH-4080"},
		{"regular error", fmt.Errorf("regular error"), ""},
		{"nil error", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.expected {
				t.Errorf("GetErrorCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorFromCode(t *testing.T) {
	t.Run("Known", func(t *testing.T) {
		err := ErrorFromCode("RM-AUTH-4010", "bad password for user route")
		if !errors.Is(err, ErrAuthBadCredentials) {
			t.Errorf("expected bad credentials, got %v", err)
		}
		if err.Details != "bad password for user route" {
			t.Errorf("Details = %q", err.Details)
		}
	})

	t.Run("SameMessage", func(t *testing.T) {
		err := ErrorFromCode(ErrDuplicateRoute.Code, ErrDuplicateRoute.Message)
		if err != ErrDuplicateRoute {
			t.Errorf("expected registered sentinel, got %v", err)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		err := ErrorFromCode("XX-0000", "weird")
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("unknown code should map to protocol error, got %v", err)
		}
	})
}

func TestAuthReasonOf(t *testing.T) {
	tests := []struct {
		err  error
		want AuthReason
	}{
		{ErrAuthBadCredentials, AuthReasonBadCredentials},
		{fmt.Errorf("handshake: %w", ErrAuthTimeout.WithDetails("0.5s")), AuthReasonTimeout},
		{ErrAuthMalformed, AuthReasonMalformed},
		{ErrDialFailed, AuthReasonNone},
		{nil, AuthReasonNone},
	}

	for _, tt := range tests {
		if got := AuthReasonOf(tt.err); got != tt.want {
			t.Errorf("AuthReasonOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
		if IsAuthError(tt.err) != (tt.want != AuthReasonNone) {
			t.Errorf("IsAuthError(%v) mismatch", tt.err)
		}
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err  *DomainError
		code string
	}{
		{ErrConfigInvalid, "RM-CONF-4000"},
		{ErrDialFailed, "RM-DIAL-5030"},
		{ErrAuthBadCredentials, "RM-AUTH-4010"},
		{ErrAuthTimeout, "RM-AUTH-4080"},
		{ErrAuthMalformed, "RM-AUTH-4000"},
		{ErrProtocol, "RM-PROT-4000"},
		{ErrStaleConnection, "RM-PROT-4080"},
		{ErrDrainTimeout, "RM-TIME-5040"},
		{ErrDuplicateRoute, "RM-ROUT-4090"},
		{ErrSelfRoute, "RM-ROUT-4091"},
		{ErrClusterMismatch, "RM-ROUT-4092"},
		{ErrRouteClosed, "RM-ROUT-4093"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Error code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Error message should not be empty")
			}
			if errorsByCode[tt.code] != tt.err {
				t.Error("error should be registered by code")
			}
		})
	}
}
