// Package client talks to a running previewd daemon over its HTTP API.
package client

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
	"strconv"
	"time"
)

// ErrNotFound is returned when the daemon answers 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 answers.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client provides HTTP client functionality to communicate with the previewd daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:7777/api",
		Timeout: 30 * time.Second,
	}
}

// New creates a new previewd API client
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/servers", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Start asks the daemon to start (or return) the dev server for project.
func (c *Client) Start(ctx context.Context, project string, req StartRequest) (ServerStatus, error) {
	var out ServerStatus
	err := c.do(ctx, http.MethodPost, c.serverPath(project, "start"), req, &out)
	return out, err
}

// Stop stops the project's dev server. Stopping an idle project succeeds.
func (c *Client) Stop(ctx context.Context, project string) error {
	return c.do(ctx, http.MethodPost, c.serverPath(project, "stop"), nil, nil)
}

// Status returns the project's server. A missing server yields ErrNotFound.
func (c *Client) Status(ctx context.Context, project string) (ServerStatus, error) {
	var out ServerStatus
	err := c.do(ctx, http.MethodGet, c.serverPath(project, ""), nil, &out)
	return out, err
}

// Logs fetches captured output newer than since, at most limit lines
// (0 means the daemon default).
func (c *Client) Logs(ctx context.Context, project string, since time.Time, limit int) (LogsResponse, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u := c.serverPath(project, "logs")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var out LogsResponse
	err := c.do(ctx, http.MethodGet, u, nil, &out)
	return out, err
}

// List returns every registry record the daemon knows of.
func (c *Client) List(ctx context.Context) ([]Server, error) {
	var out []Server
	err := c.do(ctx, http.MethodGet, c.baseURL+"/servers", nil, &out)
	return out, err
}

// Scan triggers a discovery pass and returns the newly registered servers.
func (c *Client) Scan(ctx context.Context) ([]Server, error) {
	var out []Server
	err := c.do(ctx, http.MethodPost, c.baseURL+"/discovery/scan", nil, &out)
	return out, err
}

// Cleanup triggers stale record removal and returns the removed records.
func (c *Client) Cleanup(ctx context.Context) ([]Server, error) {
	var out []Server
	err := c.do(ctx, http.MethodPost, c.baseURL+"/registry/cleanup", nil, &out)
	return out, err
}

func (c *Client) serverPath(project, action string) string {
	p := c.baseURL + "/servers/" + url.PathEscape(project)
	if action != "" {
		p += "/" + action
	}
	return p
}

// do performs one request. in, when non-nil, is sent as JSON; a 200 body is
// decoded into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode}
	}
	return &APIError{Status: resp.StatusCode, Message: er.Error}
}
