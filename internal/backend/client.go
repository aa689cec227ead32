package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"linesync/internal/config"
	"linesync/internal/logging"
	"linesync/internal/services"
)

const userAgent = "linesync/0.1"

// HTTPDoer describes the HTTP client used by the backend client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource supplies the bearer token of the logged-in user. When it
// returns an empty token the anonymous API key is used instead.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client issues row and object requests against the hosted backend.
type Client struct {
	baseURL string
	apiKey  string
	http    HTTPDoer
	tokens  TokenSource
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// WithTokenSource attaches the session used for Authorization headers.
func WithTokenSource(tokens TokenSource) Option {
	return func(c *Client) { c.tokens = tokens }
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.NewComponentLogger(logger, "backend") }
}

// New builds a client from configuration.
func New(cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.Backend.URL, "/"),
		apiKey:  cfg.Backend.APIKey,
		http:    &http.Client{Timeout: cfg.RequestTimeout()},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend project URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIKey returns the anonymous API key.
func (c *Client) APIKey() string {
	return c.apiKey
}

// Ping reports whether the backend answers at all. Any HTTP response counts
// as reachable; only transport failures are errors.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.checkConfigured("ping"); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rest/v1/", nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "backend", "ping", "", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func (c *Client) checkConfigured(operation string) error {
	if c == nil || c.http == nil || c.baseURL == "" || c.apiKey == "" {
		return services.Wrap(services.ErrConfiguration, "backend", operation, "backend url or api key missing", nil)
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("User-Agent", userAgent)
	token := c.apiKey
	if c.tokens != nil {
		userToken, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return services.Wrap(services.ErrUnauthorized, "backend", "authorize", "", err)
		}
		if userToken != "" {
			token = userToken
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// do sends a request and decodes a JSON response into dest when dest is non-nil.
func (c *Client) do(ctx context.Context, operation string, req *http.Request, dest any) error {
	if err := c.authorize(ctx, req); err != nil {
		return err
	}
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		marker := services.ErrTransient
		if errors.Is(err, context.DeadlineExceeded) {
			marker = services.ErrTimeout
		}
		return services.Wrap(marker, "backend", operation, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		logging.String("method", req.Method),
		logging.String("path", req.URL.Path),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return statusError(operation, resp.StatusCode, body)
	}
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return services.Wrap(services.ErrTransient, "backend", operation, "decode response", err)
	}
	return nil
}

// StatusError carries the HTTP status and body of a refused request.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

func statusError(operation string, status int, body []byte) error {
	cause := &StatusError{StatusCode: status, Body: strings.TrimSpace(string(body))}
	var marker error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		marker = services.ErrUnauthorized
	case status == http.StatusNotFound:
		marker = services.ErrNotFound
	case status == http.StatusConflict:
		marker = services.ErrConflict
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		marker = services.ErrTransient
	default:
		marker = services.ErrRejected
	}
	return services.Wrap(marker, "backend", operation, "", cause)
}

func (c *Client) newJSONRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) restURL(table string, params url.Values) string {
	endpoint := c.baseURL + "/rest/v1/" + url.PathEscape(table)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return endpoint
}
