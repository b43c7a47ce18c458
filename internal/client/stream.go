package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"inference-gateway-go/internal/model"
)

// Stream is a live upstream response whose body is delivered incrementally.
// It is owned by exactly one relay and is not safe for concurrent Read calls;
// Cancel and Close may be called from any goroutine.
type Stream struct {
	StatusCode int
	Header     http.Header

	ctx    context.Context
	cancel context.CancelCauseFunc
	body   io.ReadCloser

	idle  time.Duration
	timer *time.Timer

	closeOnce sync.Once
}

func newStream(ctx context.Context, cancel context.CancelCauseFunc, resp *http.Response, idle time.Duration) *Stream {
	s := &Stream{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		ctx:        ctx,
		cancel:     cancel,
		body:       resp.Body,
		idle:       idle,
	}
	if idle > 0 {
		s.timer = time.AfterFunc(idle, func() { cancel(model.ErrUpstreamTimeout) })
	}
	return s
}

// Read returns the next bytes the upstream has produced. It returns io.EOF at the
// natural end of the stream and a typed error otherwise.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.body.Read(p)
	if n > 0 && s.timer != nil {
		s.timer.Reset(s.idle)
	}
	if err == nil || errors.Is(err, io.EOF) {
		return n, err
	}
	return n, classify(s.ctx, err, model.ErrUpstreamStreamInterrupted)
}

// Cancel tears down the upstream connection. Pending and future reads fail with
// an error wrapping cause.
func (s *Stream) Cancel(cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	s.cancel(cause)
}

// Close releases the stream and its connection. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		err = s.body.Close()
		s.cancel(context.Canceled)
	})
	return err
}
