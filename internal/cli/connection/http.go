package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yndnr/routemesh-go/internal/infra/buildinfo"
	"github.com/yndnr/routemesh-go/internal/server/httpserver/handler"
)

// DefaultTimeout bounds a single monitor request.
const DefaultTimeout = 10 * time.Second

// HTTPClient talks to a monitor endpoint.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for server (host:port or URL). A
// non-positive timeout uses DefaultTimeout.
func NewHTTPClient(server string, timeout time.Duration) *HTTPClient {
	baseURL := strings.TrimRight(server, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the base URL of the client.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "routemesh-cli/"+buildinfo.Version)
	req.Header.Set("Accept", "application/json")
	return c.client.Do(req)
}

// GetJSON performs a GET request and decodes the envelope data into out.
func (c *HTTPClient) GetJSON(ctx context.Context, path string, out any) error {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	return ParseResponse(resp, out)
}

// Health fetches /healthz. A stopped server returns its body together
// with an *APIError.
func (c *HTTPClient) Health(ctx context.Context) (*handler.HealthResponse, error) {
	resp, err := c.Get(ctx, "/healthz")
	if err != nil {
		return nil, fmt.Errorf("request /healthz: %w", err)
	}
	var out handler.HealthResponse
	env, err := parseEnvelope(resp)
	if env != nil {
		src := env.Data
		if len(src) == 0 {
			src = env.Details
		}
		if len(src) > 0 {
			_ = json.Unmarshal(src, &out)
		}
	}
	if err != nil {
		return &out, err
	}
	return &out, nil
}

// Routez fetches /routez, optionally filtered by route state.
func (c *HTTPClient) Routez(ctx context.Context, state string) (*handler.RoutezResponse, error) {
	path := "/routez"
	if state != "" {
		path += "?state=" + state
	}
	var out handler.RoutezResponse
	if err := c.GetJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Varz fetches /varz.
func (c *HTTPClient) Varz(ctx context.Context) (*handler.VarzResponse, error) {
	var out handler.VarzResponse
	if err := c.GetJSON(ctx, "/varz", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// APIError is a non-2xx monitor response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// envelope mirrors handler.Response with raw payloads.
type envelope struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Details   json.RawMessage `json:"details"`
}

// ParseResponse decodes the envelope data of resp into target and closes
// the body.
func ParseResponse(resp *http.Response, target any) error {
	env, err := parseEnvelope(resp)
	if err != nil {
		return err
	}
	if target != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, target); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

func parseEnvelope(resp *http.Response) (*envelope, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Code, apiErr.Message = env.Code, env.Message
			return &env, apiErr
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("parse response: %w", decodeErr)
	}
	return &env, nil
}
