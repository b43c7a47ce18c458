package middleware

import (
	"net"
	"strings"

	"github.com/labstack/echo/v4"
)

// hopByHopHeaders describe the client's connection to the gateway and are never
// forwarded upstream.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ForwardingHeaders returns an Echo middleware that prepares inbound headers for the
// upstream hop. It removes hop-by-hop headers, including any the client listed in
// Connection, records the client in X-Forwarded-For/-Host/-Proto and marks responses
// nosniff before the handler starts writing.
func ForwardingHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			h := req.Header

			for _, v := range h.Values("Connection") {
				for _, name := range strings.Split(v, ",") {
					if name = strings.TrimSpace(name); name != "" {
						h.Del(name)
					}
				}
			}
			for _, name := range hopByHopHeaders {
				h.Del(name)
			}

			if ip, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
				if prior := h.Get(echo.HeaderXForwardedFor); prior != "" {
					ip = prior + ", " + ip
				}
				h.Set(echo.HeaderXForwardedFor, ip)
			}
			if h.Get("X-Forwarded-Host") == "" && req.Host != "" {
				h.Set("X-Forwarded-Host", req.Host)
			}
			if h.Get(echo.HeaderXForwardedProto) == "" {
				h.Set(echo.HeaderXForwardedProto, c.Scheme())
			}

			// Streamed responses commit headers early, so set these up front.
			c.Response().Header().Set(echo.HeaderXContentTypeOptions, "nosniff")

			return next(c)
		}
	}
}
