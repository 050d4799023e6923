// Package remote adapts an HTTP extraction service to the engine interface.
//
// The service receives the document as base64 inside a JSON body:
//
//	POST {endpoint}
//	{"filename": "scan.pdf", "content_base64": "..."}
//
// and replies with an engine.Outcome encoded as JSON.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docfold/docbench/internal/engine"
)

// Config describes one remote backend.
type Config struct {
	Name       string
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	Extensions []string

	// MaxIdleConns tunes the HTTP transport pool. Defaults to 16.
	MaxIdleConns int
}

// DefaultConfig returns a configuration with sensible timeouts.
func DefaultConfig() Config {
	return Config{
		Timeout:      2 * time.Minute,
		Extensions:   []string{"pdf", "png", "jpg", "jpeg", "tif", "tiff"},
		MaxIdleConns: 16,
	}
}

// Engine calls a remote extraction API.
type Engine struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a remote engine. Zero fields fall back to DefaultConfig.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = def.Extensions
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &Engine{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

func (e *Engine) Name() string         { return e.cfg.Name }
func (e *Engine) Extensions() []string { return e.cfg.Extensions }

// Available reports whether an endpoint is configured. Reachability is not
// probed so that listing engines stays offline.
func (e *Engine) Available() bool {
	return e.cfg.Endpoint != ""
}

type extractRequest struct {
	Filename      string `json:"filename"`
	ContentBase64 string `json:"content_base64"`
}

// APIError is a non-2xx reply from the service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Extract uploads the file and decodes the service's outcome.
func (e *Engine) Extract(ctx context.Context, path string) (*engine.Outcome, error) {
	if !e.Available() {
		return nil, fmt.Errorf("%s: no endpoint configured", e.cfg.Name)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	body, err := json.Marshal(extractRequest{
		Filename:      filepath.Base(path),
		ContentBase64: base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var out engine.Outcome
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if out.EngineName == "" {
		out.EngineName = e.cfg.Name
	}
	if out.Format == "" {
		out.Format = engine.FormatMarkdown
	}
	if out.ProcessingTimeMS == 0 {
		out.ProcessingTimeMS = time.Since(start).Milliseconds()
	}
	return &out, nil
}
