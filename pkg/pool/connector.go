package pool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mercator-hq/relay/pkg/telemetry/tracing"
)

// Connector opens sessions to providers.
type Connector interface {
	Connect(ctx context.Context, p Provider) (Session, error)
}

// Session is a live connection handle.
type Session interface {
	// HealthCheck probes the provider over this session.
	HealthCheck(ctx context.Context) error
	Close() error
}

// HTTPConnector opens HTTP sessions backed by a shared keep-alive transport.
// A health check is a GET on BaseURL + HealthCheckPath that must answer
// with a non-error status.
type HTTPConnector struct {
	client *http.Client
}

// NewHTTPConnector creates a connector. A nil client gets a pooled transport.
func NewHTTPConnector(client *http.Client) *HTTPConnector {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}
	}
	return &HTTPConnector{client: client}
}

// Connect validates the provider endpoint and returns a session for it.
func (c *HTTPConnector) Connect(ctx context.Context, p Provider) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", base.Scheme)
	}
	return &HTTPSession{
		client:    c.client,
		baseURL:   strings.TrimRight(base.String(), "/"),
		checkPath: p.HealthCheckPath,
	}, nil
}

// HTTPSession is the Session produced by HTTPConnector.
type HTTPSession struct {
	client    *http.Client
	baseURL   string
	checkPath string
}

// Client returns the HTTP client requests should be sent with.
func (s *HTTPSession) Client() *http.Client { return s.client }

// BaseURL returns the provider base URL without a trailing slash.
func (s *HTTPSession) BaseURL() string { return s.baseURL }

// HealthCheck implements Session.
func (s *HTTPSession) HealthCheck(ctx context.Context) error {
	path := s.checkPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building health check request: %w", err)
	}
	tracing.Inject(ctx, req.Header)
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Close implements Session. The shared transport keeps its idle sockets.
func (s *HTTPSession) Close() error { return nil }
