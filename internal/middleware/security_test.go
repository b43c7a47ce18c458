package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestForwardingHeaders_StripsHopByHop(t *testing.T) {
	e := echo.New()
	e.Use(ForwardingHeaders())

	var got http.Header
	e.POST("/generate", func(c echo.Context) error {
		got = c.Request().Header.Clone()
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/generate", http.NoBody)
	req.Header.Set("Connection", "keep-alive, X-Session-Hint")
	req.Header.Set("X-Session-Hint", "abc")
	req.Header.Set("Proxy-Authorization", "Basic abc")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	tests := []struct {
		key  string
		want string
	}{
		{"Connection", ""},
		{"X-Session-Hint", ""},
		{"Proxy-Authorization", ""},
		{"Upgrade", ""},
		{"Authorization", "Bearer token"},
	}
	for _, tt := range tests {
		if v := got.Get(tt.key); v != tt.want {
			t.Errorf("header %s = %q, want %q", tt.key, v, tt.want)
		}
	}
}

func TestForwardingHeaders_XForwarded(t *testing.T) {
	e := echo.New()
	e.Use(ForwardingHeaders())

	var got http.Header
	e.GET("/v1/models", func(c echo.Context) error {
		got = c.Request().Header.Clone()
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", http.NoBody)
	req.RemoteAddr = "10.0.0.7:51234"
	req.Host = "gateway.internal:8000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	tests := []struct {
		key  string
		want string
	}{
		{"X-Forwarded-For", "203.0.113.9, 10.0.0.7"},
		{"X-Forwarded-Host", "gateway.internal:8000"},
		{"X-Forwarded-Proto", "http"},
	}
	for _, tt := range tests {
		if v := got.Get(tt.key); v != tt.want {
			t.Errorf("header %s = %q, want %q", tt.key, v, tt.want)
		}
	}
}

func TestForwardingHeaders_NosniffOnResponse(t *testing.T) {
	e := echo.New()
	e.Use(ForwardingHeaders())
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if v := rec.Header().Get("X-Content-Type-Options"); v != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", v, "nosniff")
	}
}
