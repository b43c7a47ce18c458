package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"inference-gateway-go/internal/client"
	"inference-gateway-go/internal/model"
	"inference-gateway-go/internal/monitor"
	"inference-gateway-go/internal/relay"
	"inference-gateway-go/internal/service"
)

// userinfoPattern matches credentials embedded in URLs that appear in error messages.
var userinfoPattern = regexp.MustCompile(`(?i)(https?://)[^/@\s"]+@`)

// GatewayHandler forwards inference requests to the upstream and relays the result.
type GatewayHandler struct {
	service *service.GatewayService
	monitor *monitor.Monitor
	relay   *relay.Relay
	logger  *slog.Logger
}

// NewGatewayHandler creates a GatewayHandler.
func NewGatewayHandler(svc *service.GatewayService, mon *monitor.Monitor, rl *relay.Relay, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		service: svc,
		monitor: mon,
		relay:   rl,
		logger:  logger.With("component", "gateway_handler"),
	}
}

// Handle forwards GET and POST requests upstream. POST bodies with "stream": true are
// relayed chunk by chunk; everything else is relayed as one buffered response.
func (h *GatewayHandler) Handle(c echo.Context) error {
	req := c.Request()

	method := model.ParseMethod(req.Method)
	if method == model.MethodUnsupported {
		c.Response().Header().Set(echo.HeaderAllow, "GET, POST")
		return c.JSON(http.StatusMethodNotAllowed, map[string]string{
			"error": model.ErrMethodNotAllowed.Error(),
		})
	}

	var body []byte
	if method.HasBody() {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				return he
			}
			return h.badRequest(c, fmt.Errorf("%w: read body: %w", model.ErrBadRequest, err))
		}
	}

	sess, upstreamCtx := h.monitor.Begin(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
	defer sess.Finish()
	c.Response().Header().Set(echo.HeaderXRequestID, sess.ID)

	in := &model.InboundRequest{
		Method:   req.Method,
		Path:     req.URL.Path,
		Query:    req.URL.Query(),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     body,
	}

	spec, err := h.service.Prepare(in, sess.ID)
	if err != nil {
		if errors.Is(err, model.ErrBadRequest) {
			return h.badRequest(c, err)
		}
		return h.fail(c, sess.ID, err)
	}

	if spec.Stream {
		return h.stream(c, sess, upstreamCtx, spec)
	}
	return h.buffered(c, sess, upstreamCtx, spec)
}

func (h *GatewayHandler) buffered(c echo.Context, sess *monitor.Session, upstreamCtx context.Context, spec *model.ForwardSpec) error {
	clientCtx := c.Request().Context()

	resp, err := h.service.Forward(upstreamCtx, spec)
	if clientCtx.Err() != nil {
		sess.Disconnect()
		return h.clientGone(c, sess.ID)
	}
	if err != nil {
		return h.fail(c, sess.ID, err)
	}

	if err := h.relay.Buffered(c.Response(), resp); err != nil {
		sess.Disconnect()
		h.logger.Info("client went away during response write",
			"request_id", sess.ID,
			"path", c.Request().URL.Path,
			"err", err,
		)
	}
	return nil
}

func (h *GatewayHandler) stream(c echo.Context, sess *monitor.Session, upstreamCtx context.Context, spec *model.ForwardSpec) error {
	clientCtx := c.Request().Context()

	stream, err := h.service.Open(upstreamCtx, spec)
	if clientCtx.Err() != nil {
		if stream != nil {
			_ = stream.Close()
		}
		sess.Disconnect()
		return h.clientGone(c, sess.ID)
	}
	if err != nil {
		return h.fail(c, sess.ID, err)
	}
	sess.Attach(stream)

	n, err := h.relay.Stream(clientCtx, c.Response(), stream.StatusCode, stream.Header, stream)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrClientDisconnected):
		sess.Disconnect()
		h.logger.Info("client disconnected mid-stream",
			"request_id", sess.ID,
			"path", c.Request().URL.Path,
			"bytes_sent", n,
		)
	default:
		// Status is already on the wire; the relay reported the failure in the trailer.
		h.logger.Error("stream ended early",
			"request_id", sess.ID,
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"bytes_sent", n,
			"err", sanitizeError(err),
		)
	}
	return nil
}

// Abort lets an operator cancel an in-flight request by correlation id.
func (h *GatewayHandler) Abort(c echo.Context) error {
	id := c.Param("id")
	if !h.monitor.Abort(id) {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "no in-flight request with this id",
		})
	}

	h.logger.Info("request aborted by operator", "request_id", id)
	return c.JSON(http.StatusAccepted, map[string]string{
		"status":     "aborted",
		"request_id": id,
	})
}

func (h *GatewayHandler) clientGone(c echo.Context, id string) error {
	h.logger.Info("client disconnected before response",
		"request_id", id,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)
	return c.NoContent(model.StatusClientClosedRequest)
}

func (h *GatewayHandler) badRequest(c echo.Context, err error) error {
	h.logger.Warn("rejected request",
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
		"err", err,
	)
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error": err.Error(),
	})
}

func (h *GatewayHandler) fail(c echo.Context, id string, err error) error {
	msg := sanitizeError(err)
	// The client is still connected, so the upstream call was aborted by an operator.
	if errors.Is(err, model.ErrClientDisconnected) {
		msg = "request aborted: " + msg
	}

	h.logger.Error("gateway error",
		"request_id", id,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
		"kind", client.Kind(err),
		"err", msg,
	)

	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error":      msg,
		"request_id": id,
	})
}

// sanitizeError redacts URL credentials from error messages that may contain upstream URLs.
func sanitizeError(err error) string {
	return userinfoPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]@")
}
