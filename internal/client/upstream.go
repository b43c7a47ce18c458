// Package client provides the upstream HTTP client for the inference backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"inference-gateway-go/internal/config"
	"inference-gateway-go/internal/metrics"
	"inference-gateway-go/internal/model"
)

const userAgent = "inference-gateway-go/1.0"

// UpstreamClient sends requests to the inference upstream. A single instance and
// its connection pool are shared by all in-flight requests.
type UpstreamClient struct {
	httpClient  *http.Client
	abortURL    string
	readTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// The client has no overall timeout. Generation time is bounded by disconnect
// detection, or by upstream.read_timeout_seconds when set.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	dialTimeout := time.Duration(cfg.Upstream.DialTimeoutSeconds) * time.Second
	if dialTimeout == 0 {
		dialTimeout = 30 * time.Second
	}
	readTimeout := cfg.Upstream.ReadTimeout()

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: readTimeout,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient:  &http.Client{Transport: transport},
		abortURL:    cfg.Upstream.AbortURL,
		readTimeout: readTimeout,
		logger:      logger.With("component", "upstream_client"),
		metrics:     m,
	}
}

// Do performs a buffered call: it returns once the upstream has sent the complete body.
func (c *UpstreamClient) Do(ctx context.Context, spec *model.ForwardSpec) (*model.UpstreamResponse, error) {
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, c.readTimeout, model.ErrUpstreamTimeout)
		defer cancel()
	}

	resp, err := c.send(ctx, spec)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = classify(ctx, err, model.ErrUpstreamStreamInterrupted)
		c.recordFailure(err)
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// OpenStream performs a streaming call. It returns as soon as the upstream has sent
// response headers; the body is consumed incrementally through the returned Stream.
// The caller owns the Stream and must Close it.
func (c *UpstreamClient) OpenStream(ctx context.Context, spec *model.ForwardSpec) (*Stream, error) {
	ctx, cancel := context.WithCancelCause(ctx)

	resp, err := c.send(ctx, spec)
	if err != nil {
		cancel(err)
		return nil, err
	}

	return newStream(ctx, cancel, resp, c.readTimeout), nil
}

// Abort asks the engine to stop generating for requestID. It implements
// monitor.Aborter. Without a configured abort_url the gateway is a pure proxy and
// closing the upstream connection is the only cancellation, so Abort is a no-op.
func (c *UpstreamClient) Abort(ctx context.Context, requestID string) error {
	if c.abortURL == "" {
		return nil
	}

	payload, err := json.Marshal(map[string]string{"request_id": requestID})
	if err != nil {
		return fmt.Errorf("encode abort payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.abortURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build abort request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-Id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("abort request: %w", classify(ctx, err, model.ErrUpstreamUnreachable))
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	// 404 means the engine already finished or never saw the id; either way there is
	// nothing left to abort.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("abort request: upstream returned %d", resp.StatusCode)
	}
	return nil
}

// send issues the request described by spec and returns the raw response once headers arrive.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) send(ctx context.Context, spec *model.ForwardSpec) (*http.Response, error) {
	var body io.Reader
	if spec.Method.HasBody() {
		body = bytes.NewReader(spec.Body)
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method.String(), spec.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w: %w", model.ErrInternalFailure, err)
	}
	req.Header = spec.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
		"request_id", spec.RequestID,
		"stream", spec.Stream,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
	}

	if err != nil {
		err = classify(ctx, err, model.ErrUpstreamUnreachable)
		c.recordFailure(err)
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}
	return resp, nil
}

func (c *UpstreamClient) recordFailure(err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamFailures.WithLabelValues(Kind(err)).Inc()
}
