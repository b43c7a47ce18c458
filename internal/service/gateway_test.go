package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"inference-gateway-go/internal/client"
	"inference-gateway-go/internal/config"
	"inference-gateway-go/internal/model"
)

func newTestService(t *testing.T, baseURL string) *GatewayService {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:         baseURL,
			IdleConnections: 10,
		},
		Translator: config.TranslatorConfig{StripFields: defaultStrip},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewGatewayService(client.NewUpstreamClient(cfg, logger, nil), cfg, logger)
	if err != nil {
		t.Fatalf("NewGatewayService: %v", err)
	}
	return svc
}

func TestGatewayService_Forward(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"prompt":"hi"}` {
			t.Errorf("upstream body = %q, want %q", body, `{"prompt":"hi"}`)
		}
		if got := r.Header.Get("X-Request-Id"); got != "req-9" {
			t.Errorf("X-Request-Id = %q, want %q", got, "req-9")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":["hi there"]}`))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)
	spec, err := svc.Prepare(postRequest(`{"prompt":"hi","model":"m"}`), "req-9")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	resp, err := svc.Forward(context.Background(), spec)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if string(resp.Body) != `{"text":["hi there"]}` {
		t.Errorf("body = %q, want %q", resp.Body, `{"text":["hi there"]}`)
	}
}

func TestGatewayService_Open(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: a\n\n"))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)
	spec, err := svc.Prepare(postRequest(`{"prompt":"hi","stream":true}`), "req-s")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if !spec.Stream {
		t.Fatal("Stream = false, want true")
	}

	stream, err := svc.Open(context.Background(), spec)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = stream.Close() }()

	body, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "data: a\n\n" {
		t.Errorf("body = %q, want %q", body, "data: a\n\n")
	}
}

func TestGatewayService_PrepareBadRequest(t *testing.T) {
	svc := newTestService(t, "http://127.0.0.1:1")

	_, err := svc.Prepare(postRequest(`not json`), "req")
	if !errors.Is(err, model.ErrBadRequest) {
		t.Errorf("Prepare() error = %v, want ErrBadRequest", err)
	}
}

func TestGatewayService_ForwardUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	svc := newTestService(t, addr)
	spec, err := svc.Prepare(&model.InboundRequest{Method: http.MethodGet, Path: "/v1/models"}, "req")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	_, err = svc.Forward(context.Background(), spec)
	if !errors.Is(err, model.ErrUpstreamUnreachable) {
		t.Errorf("Forward() error = %v, want ErrUpstreamUnreachable", err)
	}
}
