package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"inference-gateway-go/internal/model"
)

// classify tags a transport error with the model failure kind it represents.
// fallback is used when nothing more specific applies.
func classify(ctx context.Context, err error, fallback error) error {
	if err == nil {
		return nil
	}

	// A cause set on our own context (read timeout, caller-side cancel) wins over
	// whatever the transport reported.
	if cause := context.Cause(ctx); cause != nil {
		switch {
		case errors.Is(cause, model.ErrUpstreamTimeout):
			return fmt.Errorf("%w: %w", model.ErrUpstreamTimeout, err)
		case errors.Is(cause, model.ErrClientDisconnected), errors.Is(cause, context.Canceled):
			return fmt.Errorf("%w: %w", model.ErrClientDisconnected, err)
		case errors.Is(cause, context.DeadlineExceeded):
			return fmt.Errorf("%w: %w", model.ErrUpstreamTimeout, err)
		}
	}

	var netErr net.Error
	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", model.ErrClientDisconnected, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", model.ErrUpstreamTimeout, err)
	case errors.As(err, &dnsErr):
		return fmt.Errorf("%w: %w", model.ErrUpstreamUnreachable, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %w", model.ErrUpstreamUnreachable, err)
	case errors.As(err, &opErr) && opErr.Op == "dial":
		if opErr.Timeout() {
			return fmt.Errorf("%w: %w", model.ErrUpstreamTimeout, err)
		}
		return fmt.Errorf("%w: %w", model.ErrUpstreamUnreachable, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", model.ErrUpstreamTimeout, err)
	}

	return fmt.Errorf("%w: %w", fallback, err)
}

// Kind returns a bounded label naming the failure kind of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, model.ErrClientDisconnected):
		return "client_disconnected"
	case errors.Is(err, model.ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, model.ErrUpstreamUnreachable):
		return "unreachable"
	case errors.Is(err, model.ErrUpstreamStreamInterrupted):
		return "stream_interrupted"
	case errors.Is(err, model.ErrBadRequest):
		return "bad_request"
	default:
		return "internal"
	}
}
