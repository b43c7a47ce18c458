// Package relay copies upstream responses to the client, either as one buffered
// unit or chunk by chunk as the upstream produces them.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"inference-gateway-go/internal/metrics"
	"inference-gateway-go/internal/model"
)

// StreamErrorTrailer carries a short diagnostic when a streamed response is cut
// short by an upstream failure after the status line was sent.
const StreamErrorTrailer = "X-Gateway-Stream-Error"

// chunkSize bounds how much of the upstream stream is held in memory at once.
const chunkSize = 32 * 1024

// hopByHopHeaders describe a single connection and are never relayed.
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

// Relay writes upstream responses to clients.
type Relay struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Relay. The metrics parameter is optional.
func New(logger *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		logger:  logger.With("component", "relay"),
		metrics: m,
	}
}

// Buffered writes a complete upstream response: status, headers and body verbatim,
// with a Content-Length matching the body actually sent.
func (r *Relay) Buffered(w http.ResponseWriter, resp *model.UpstreamResponse) error {
	h := w.Header()
	copyHeaders(h, resp.Header)
	h.Del("Content-Length")
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))

	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		return fmt.Errorf("%w: write body: %w", model.ErrClientDisconnected, err)
	}
	return nil
}

// Stream relays src to w chunk by chunk, flushing after every chunk so the client
// sees partial output as soon as the upstream emits it. Chunks are written in the
// order they are read and each is written whole.
//
// It returns the number of bytes relayed and, when the relay stopped early, an error
// wrapping model.ErrClientDisconnected (ctx ended or a write failed) or the typed
// upstream read error. In the latter case the StreamErrorTrailer is set so the
// client can tell a truncated stream from a complete one.
func (r *Relay) Stream(ctx context.Context, w http.ResponseWriter, status int, header http.Header, src io.Reader) (int64, error) {
	h := w.Header()
	copyHeaders(h, header)
	// The total length is unknown when streaming begins.
	h.Del("Content-Length")
	h.Set("Trailer", StreamErrorTrailer)

	if r.metrics != nil {
		r.metrics.StreamsActive.Inc()
		defer r.metrics.StreamsActive.Dec()
	}

	rc := http.NewResponseController(w)
	w.WriteHeader(status)
	if err := flush(rc); err != nil {
		return 0, r.finish(fmt.Errorf("%w: flush headers: %w", model.ErrClientDisconnected, err))
	}

	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if ctx.Err() != nil {
				return total, r.finish(fmt.Errorf("%w: %w", model.ErrClientDisconnected, context.Cause(ctx)))
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return total, r.finish(fmt.Errorf("%w: write chunk: %w", model.ErrClientDisconnected, err))
			}
			if err := flush(rc); err != nil {
				return total, r.finish(fmt.Errorf("%w: flush chunk: %w", model.ErrClientDisconnected, err))
			}
			total += int64(n)
			if r.metrics != nil {
				r.metrics.StreamChunks.Inc()
				r.metrics.StreamBytes.Add(float64(n))
			}
		}

		switch {
		case readErr == nil:
			continue
		case errors.Is(readErr, io.EOF):
			return total, r.finish(nil)
		case errors.Is(readErr, model.ErrClientDisconnected):
			return total, r.finish(readErr)
		default:
			if !errors.Is(readErr, model.ErrUpstreamStreamInterrupted) && !errors.Is(readErr, model.ErrUpstreamTimeout) {
				readErr = fmt.Errorf("%w: %w", model.ErrUpstreamStreamInterrupted, readErr)
			}
			h.Set(StreamErrorTrailer, trailerValue(readErr))
			r.logger.Error("streaming failed",
				"err", readErr,
				"bytes_sent", total,
			)
			return total, r.finish(readErr)
		}
	}
}

func (r *Relay) finish(err error) error {
	if r.metrics != nil {
		outcome := "completed"
		switch {
		case err == nil:
		case errors.Is(err, model.ErrClientDisconnected):
			outcome = "client_disconnected"
		case errors.Is(err, model.ErrUpstreamTimeout):
			outcome = "upstream_timeout"
		default:
			outcome = "upstream_error"
		}
		r.metrics.StreamOutcomes.WithLabelValues(outcome).Inc()
	}
	return err
}

func flush(rc *http.ResponseController) error {
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func trailerValue(err error) string {
	if errors.Is(err, model.ErrUpstreamTimeout) {
		return model.ErrUpstreamTimeout.Error()
	}
	return model.ErrUpstreamStreamInterrupted.Error()
}

func copyHeaders(dst, src http.Header) {
	for key, vals := range src {
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
	for _, key := range hopByHopHeaders {
		dst.Del(key)
	}
}
