// Package stageclient implements HTTP clients for the external stage
// services (fetch, script, audio). All three speak the same invoke
// protocol, so a single client parameterized by stage name covers them.
package stageclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reeler/internal/services"
	"reeler/internal/stage"
)

const (
	defaultTimeout = 60 * time.Second
	userAgent      = "reeler/1.0"

	invokePath  = "/v1/invoke"
	cleanupPath = "/v1/cleanup"
	healthPath  = "/healthz"
)

// Config carries the connection settings for one stage service.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls a stage service over HTTP and maps its responses onto the
// uniform stage contract. It satisfies stage.Invoker.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option customizes a stage service client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client (useful for tests).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewFetcher builds the client for the content acquisition service.
func NewFetcher(cfg Config, opts ...Option) *Fetcher {
	return &Fetcher{Client: newClient("fetch", cfg, opts...)}
}

// NewScripter builds the client for the script generation service.
func NewScripter(cfg Config, opts ...Option) *Client {
	return newClient("script", cfg, opts...)
}

// NewVoicer builds the client for the audio synthesis service.
func NewVoicer(cfg Config, opts ...Option) *Client {
	return newClient("audio", cfg, opts...)
}

func newClient(name string, cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		name:       name,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Name returns the stage this client serves.
func (c *Client) Name() string {
	return c.name
}

type invokeRequest struct {
	JobID  string `json:"job_id"`
	Cursor string `json:"cursor,omitempty"`
	Input  string `json:"input,omitempty"`
}

type invokeResponse struct {
	Status      string `json:"status"`
	ArtifactRef string `json:"artifact_ref"`
	NextCursor  string `json:"next_cursor"`
	Title       string `json:"title"`
	ErrorKind   string `json:"error_kind"`
	ErrorDetail string `json:"error_detail"`
}

// Invoke performs one stage invocation. Transport failures and 5xx responses
// come back marked transient, 4xx responses permanent, and a no_content
// status maps to the no-content sentinel so the run can stop cleanly.
func (c *Client) Invoke(ctx context.Context, req stage.Request) (stage.Result, error) {
	var empty stage.Result
	if c.baseURL == "" {
		return empty, services.Wrap(services.ErrPermanent, c.name, "invoke", "service url not configured", nil)
	}
	payload := invokeRequest{JobID: req.JobID, Cursor: req.Cursor, Input: req.Input}
	body, status, err := c.post(ctx, invokePath, payload)
	if err != nil {
		return empty, c.classifyTransport("invoke", err)
	}
	if status >= http.StatusInternalServerError {
		return empty, services.Wrap(services.ErrTransient, c.name, "invoke",
			fmt.Sprintf("http %d: %s", status, summarize(body)), nil)
	}
	if status >= http.StatusBadRequest {
		return empty, services.Wrap(services.ErrPermanent, c.name, "invoke",
			fmt.Sprintf("http %d: %s", status, summarize(body)), nil)
	}
	var decoded invokeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return empty, services.Wrap(services.ErrTransient, c.name, "invoke", "decode response", err)
	}
	switch strings.ToLower(strings.TrimSpace(decoded.Status)) {
	case string(stage.ResultSuccess):
		return stage.Result{
			Status:      stage.ResultSuccess,
			ArtifactRef: decoded.ArtifactRef,
			Title:       decoded.Title,
		}, nil
	case string(stage.ResultNoContent):
		return empty, services.Wrap(services.ErrNoContent, c.name, "invoke", "source exhausted", nil)
	case string(stage.ResultNeedsContinuation):
		if strings.TrimSpace(decoded.NextCursor) == "" {
			return empty, services.Wrap(services.ErrPermanent, c.name, "invoke", "continuation without cursor", nil)
		}
		return stage.Result{
			Status:      stage.ResultNeedsContinuation,
			ArtifactRef: decoded.ArtifactRef,
			NextCursor:  decoded.NextCursor,
			Title:       decoded.Title,
		}, nil
	case "error":
		marker := services.MarkerForKind(services.KindFromString(decoded.ErrorKind))
		detail := strings.TrimSpace(decoded.ErrorDetail)
		if detail == "" {
			detail = "service reported failure"
		}
		return empty, services.Wrap(marker, c.name, "invoke", detail, nil)
	default:
		return empty, services.Wrap(services.ErrTransient, c.name, "invoke",
			fmt.Sprintf("unrecognized status %q", decoded.Status), nil)
	}
}

// HealthCheck probes the service health endpoint.
func (c *Client) HealthCheck(ctx context.Context) stage.Health {
	if c.baseURL == "" {
		return stage.Unhealthy(c.name, "service url not configured")
	}
	endpoint, err := url.JoinPath(c.baseURL, healthPath)
	if err != nil {
		return stage.Unhealthy(c.name, "invalid service url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return stage.Unhealthy(c.name, err.Error())
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return stage.Unhealthy(c.name, err.Error())
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return stage.Unhealthy(c.name, fmt.Sprintf("health endpoint returned %d", resp.StatusCode))
	}
	return stage.Healthy(c.name)
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, 0, fmt.Errorf("build url: %w", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// classifyTransport wraps a transport-level failure. Everything at this level
// (dial errors, resets, client timeouts) is retryable except an explicit
// caller cancellation, which passes through untouched.
func (c *Client) classifyTransport(operation string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return services.Wrap(services.ErrTransient, c.name, operation, "request failed", err)
}

func summarize(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return "empty body"
	}
	return text
}
