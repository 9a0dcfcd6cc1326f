package langflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestTimeout bounds a single run request, including reading the body.
const RequestTimeout = 30 * time.Second

// APIKeyHeader carries the shared secret.
const APIKeyHeader = "x-api-key"

// ErrMissingAPIKey is returned before any network call when no shared
// secret is configured.
var ErrMissingAPIKey = errors.New("REMOTE_API_KEY environment variable is not set; set it and restart the server")

// StatusError reports a run request answered with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned HTTP %d: %s", e.StatusCode, e.Body)
}

// runRequest is the body of POST /api/v1/run/{flow}.
type runRequest struct {
	OutputType string `json:"output_type"`
	InputType  string `json:"input_type"`
	InputValue string `json:"input_value"`
	SessionID  string `json:"session_id"`
}

// Client sends chat input to a Langflow run endpoint.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. Its timeout is reset to
// RequestTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			cp := *hc
			cp.Timeout = RequestTimeout
			c.httpClient = &cp
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the run endpoint at url. An empty apiKey
// is accepted; every Send then fails with ErrMissingAPIKey.
func NewClient(url, apiKey string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: RequestTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Configured reports whether a shared secret is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Send posts userMessage to the run endpoint. An empty sessionID is
// replaced by a fresh UUID. A 2xx body that is not JSON comes back wrapped
// as {"raw_text": body}.
func (c *Client) Send(ctx context.Context, userMessage, sessionID string) (Response, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	payload, err := json.Marshal(runRequest{
		OutputType: "chat",
		InputType:  "chat",
		InputValue: userMessage,
		SessionID:  sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("run request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close run response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read run response: %w", err)
	}

	c.logger.Debug("Run request completed",
		"session_id", sessionID,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if !json.Valid(body) {
		wrapped, err := json.Marshal(map[string]string{rawTextKey: string(body)})
		if err != nil {
			return nil, fmt.Errorf("wrap raw response: %w", err)
		}
		return Response(wrapped), nil
	}
	return Response(body), nil
}
