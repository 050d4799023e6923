// Package client provides an HTTP client for the docbench API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/docfold/docbench/internal/engine"
	"github.com/docfold/docbench/internal/pkg/errors"
	"github.com/docfold/docbench/internal/report"
	"github.com/docfold/docbench/internal/store"
)

// Client is an HTTP client for a docbench server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config configures the client.
type Config struct {
	// BaseURL is the base URL of the API server.
	BaseURL string

	// Timeout is the request timeout. Evaluations run synchronously on the
	// server, so it must cover a whole run.
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle (keep-alive) connections
	// across all hosts. Zero means no limit.
	MaxIdleConns int

	// IdleConnTimeout is the maximum amount of time an idle (keep-alive)
	// connection will remain idle before closing itself.
	IdleConnTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:8080",
		Timeout:         30 * time.Minute,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
}

// New creates a new API client.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// RunRequest is the body of POST /v1/evaluation/run.
type RunRequest struct {
	DatasetPath string   `json:"dataset_path"`
	Engines     []string `json:"engines,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// Health checks if the API is healthy.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/healthz", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Evaluate runs an evaluation on the server and returns its report.
func (c *Client) Evaluate(ctx context.Context, req RunRequest) (*report.Report, error) {
	var rep *report.Report
	err := c.post(ctx, "/v1/evaluation/run", req, func(body io.Reader) error {
		var err error
		rep, err = report.Decode(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// ListRuns returns the most recent runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error) {
	path := "/v1/evaluation/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Runs []store.RunSummary `json:"runs"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// GetRun returns the report of a past run.
func (c *Client) GetRun(ctx context.Context, runID string) (*report.Report, error) {
	var rep *report.Report
	err := c.do(ctx, http.MethodGet, "/v1/evaluation/runs/"+url.PathEscape(runID), nil, func(body io.Reader) error {
		var err error
		rep, err = report.Decode(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// Engines lists the server's extraction engines.
func (c *Client) Engines(ctx context.Context) ([]engine.Info, error) {
	var resp struct {
		Engines []engine.Info `json:"engines"`
	}
	if err := c.get(ctx, "/v1/engines", &resp); err != nil {
		return nil, err
	}
	return resp.Engines, nil
}

// get performs a GET request and decodes a JSON response into result.
func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, jsonInto(result))
}

// post performs a POST request with a JSON body.
func (c *Client) post(ctx context.Context, path string, body any, decode func(io.Reader) error) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data), decode)
}

func jsonInto(result any) func(io.Reader) error {
	return func(r io.Reader) error {
		return json.NewDecoder(r).Decode(result)
	}
}

// do executes a request. Error responses become *errors.AppError carrying
// the server's code.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, decode func(io.Reader) error) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.CodeUnavailable, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if decode == nil {
		return nil
	}
	if err := decode(resp.Body); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var er errors.ErrorResponse
	if err := json.Unmarshal(data, &er); err != nil || er.Code == "" {
		return errors.New(errors.CodeInternal, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}
	appErr := errors.New(er.Code, er.Error)
	for k, v := range er.Details {
		appErr = appErr.WithDetail(k, v)
	}
	return appErr
}
