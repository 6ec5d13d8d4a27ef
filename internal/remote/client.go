package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const userAgent = "stepdeck/0.1"

// ErrUnavailable reports that the pipeline could not be reached at all.
var ErrUnavailable = errors.New("pipeline unavailable")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s returned status %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Client talks to the remote pipeline's run/status/cancel endpoints.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithTimeout bounds each request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient builds a client for the pipeline at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("%w: empty base url", ErrUnavailable)
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pipeline url: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	base.RawQuery = ""
	base.Fragment = ""

	c := &Client{
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized pipeline address.
func (c *Client) BaseURL() string {
	if c == nil || c.base == nil {
		return ""
	}
	return c.base.String()
}

// Run asks the pipeline to start a step.
func (c *Client) Run(ctx context.Context, stepKey string) (RunResponse, error) {
	var resp RunResponse
	err := c.do(ctx, http.MethodPost, "run", stepKey, &resp)
	return resp, err
}

// Status fetches the current status record of a step.
func (c *Client) Status(ctx context.Context, stepKey string) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "status", stepKey, &resp)
	return resp, err
}

// Cancel asks the pipeline to stop a step. Success does not mean the step
// has stopped.
func (c *Client) Cancel(ctx context.Context, stepKey string) (CancelResponse, error) {
	var resp CancelResponse
	err := c.do(ctx, http.MethodPost, "cancel", stepKey, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, action, stepKey string, out any) error {
	if c == nil {
		return ErrUnavailable
	}
	stepKey = strings.TrimSpace(stepKey)
	if stepKey == "" {
		return errors.New("step key is required")
	}

	path := c.base.Path + "/" + action + "/" + url.PathEscape(stepKey)
	endpoint := *c.base
	endpoint.Path = path
	endpoint.RawPath = c.base.EscapedPath() + "/" + action + "/" + url.PathEscape(stepKey)

	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{
			Method:     method,
			Path:       "/" + action + "/" + stepKey,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(extractMessage(raw)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	return nil
}

func extractMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return string(raw)
}

// IsUnavailable reports whether err means the pipeline could not be reached
// (as opposed to answering with an error).
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrUnavailable) || errors.As(err, &opErr)
}

// HTTPStatus extracts the response status code from err, or 0.
func HTTPStatus(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
