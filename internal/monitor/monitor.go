// Package monitor tracks in-flight requests and cancels upstream work when the
// client that asked for it goes away.
package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"inference-gateway-go/internal/config"
	"inference-gateway-go/internal/metrics"
	"inference-gateway-go/internal/model"
)

// ErrAborted is the cancellation cause for operator-initiated aborts.
var ErrAborted = errors.New("aborted by operator")

// Policy selects what a client disconnect does to upstream work.
type Policy int

const (
	// PolicyAbort cancels the upstream call and signals the engine side channel.
	PolicyAbort Policy = iota
	// PolicyDetach stops relaying but lets the upstream finish; the result is discarded.
	PolicyDetach
)

func (p Policy) String() string {
	if p == PolicyDetach {
		return "detach"
	}
	return "abort"
}

// Monitor owns the registry of in-flight sessions. It is safe for concurrent use.
type Monitor struct {
	aborter      Aborter
	policy       Policy
	abortTimeout time.Duration
	drainTimeout time.Duration

	sessions *xsync.Map[string, *Session]
	aborts   *xsync.Counter

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Monitor. A nil aborter behaves like NopAborter.
// The metrics parameter is optional.
func New(cfg *config.Config, aborter Aborter, logger *slog.Logger, m *metrics.Metrics) *Monitor {
	if aborter == nil {
		aborter = NopAborter
	}
	policy := PolicyAbort
	if !cfg.Cancellation.CancelEnabled() {
		policy = PolicyDetach
	}
	abortTimeout := time.Duration(cfg.Cancellation.AbortTimeoutSeconds) * time.Second
	if abortTimeout == 0 {
		abortTimeout = 5 * time.Second
	}
	drainTimeout := time.Duration(cfg.Cancellation.DrainTimeoutSeconds) * time.Second
	if drainTimeout == 0 {
		drainTimeout = 5 * time.Minute
	}

	return &Monitor{
		aborter:      aborter,
		policy:       policy,
		abortTimeout: abortTimeout,
		drainTimeout: drainTimeout,
		sessions:     xsync.NewMap[string, *Session](),
		aborts:       xsync.NewCounter(),
		logger:       logger.With("component", "cancel_monitor"),
		metrics:      m,
	}
}

// Policy returns the disconnect policy in effect.
func (m *Monitor) Policy() Policy {
	return m.policy
}

// Begin registers a session for one inbound request and starts watching clientCtx.
// The returned context must be used for the upstream call. If id is empty or already
// in use, a unique id is derived; Session.ID is authoritative.
// Callers must call Session.Finish exactly when the request is done.
func (m *Monitor) Begin(clientCtx context.Context, id string) (*Session, context.Context) {
	parent := clientCtx
	if m.policy == PolicyDetach {
		parent = context.WithoutCancel(clientCtx)
	}
	upstreamCtx, cancel := context.WithCancelCause(parent)

	s := &Session{
		m:              m,
		cancelUpstream: cancel,
		done:           make(chan struct{}),
	}

	base := id
	if base == "" {
		base = uuid.NewString()
	}
	s.ID = base
	for {
		if _, loaded := m.sessions.LoadOrStore(s.ID, s); !loaded {
			break
		}
		s.ID = base + "-" + uuid.NewString()[:8]
	}

	go s.watch(clientCtx)
	return s, upstreamCtx
}

// Abort aborts the in-flight request with the given id. It reports whether a live
// session was found; aborting the same id twice has the effect of aborting it once.
func (m *Monitor) Abort(id string) bool {
	s, ok := m.sessions.Load(id)
	if !ok {
		return false
	}
	return s.Abort()
}

// Active returns the number of in-flight sessions.
func (m *Monitor) Active() int {
	return m.sessions.Size()
}

// AbortsSent returns how many abort signals reached the side channel.
func (m *Monitor) AbortsSent() int64 {
	return m.aborts.Value()
}

func (m *Monitor) sendAbort(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.abortTimeout)
	defer cancel()

	if err := m.aborter.Abort(ctx, id); err != nil {
		m.logger.Warn("abort signal failed", "request_id", id, "err", err)
		if m.metrics != nil {
			m.metrics.AbortsTotal.WithLabelValues("failed").Inc()
		}
		return
	}

	m.aborts.Inc()
	m.logger.Info("abort signal sent", "request_id", id)
	if m.metrics != nil {
		m.metrics.AbortsTotal.WithLabelValues("sent").Inc()
	}
}

type sessionState int

const (
	stateActive sessionState = iota
	stateDisconnected
	stateAborted
	stateFinished
)

// Session is the per-request cancellation handle. At most one exists per inbound
// request and it is never shared between requests.
type Session struct {
	ID string

	m              *Monitor
	cancelUpstream context.CancelCauseFunc
	done           chan struct{}

	mu         sync.Mutex
	state      sessionState
	body       io.ReadCloser
	drainTimer *time.Timer
}

// Attach hands the open upstream body to the session, which releases it on Finish.
func (s *Session) Attach(body io.ReadCloser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
}

// Disconnect reports that the client has gone away. Only the first call in the
// session's life has an effect, and none after Finish.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state != stateActive {
		s.mu.Unlock()
		return
	}
	if s.m.policy == PolicyDetach {
		s.state = stateDisconnected
		s.drainTimer = time.AfterFunc(s.m.drainTimeout, func() {
			s.cancelUpstream(model.ErrUpstreamTimeout)
		})
	} else {
		s.state = stateAborted
	}
	s.mu.Unlock()

	if s.m.metrics != nil {
		s.m.metrics.ClientsGoneAway.Inc()
	}
	s.m.logger.Info("client disconnected", "request_id", s.ID, "policy", s.m.policy.String())

	if s.m.policy == PolicyAbort {
		s.cancelUpstream(model.ErrClientDisconnected)
		s.m.sendAbort(s.ID)
	}
}

// Abort cancels upstream work regardless of policy. It returns false when the
// session has already finished or was already aborted.
func (s *Session) Abort() bool {
	s.mu.Lock()
	if s.state == stateFinished || s.state == stateAborted {
		s.mu.Unlock()
		return false
	}
	s.state = stateAborted
	if s.drainTimer != nil {
		s.drainTimer.Stop()
	}
	s.mu.Unlock()

	s.cancelUpstream(ErrAborted)
	s.m.sendAbort(s.ID)
	return true
}

// Finish ends the session, removes it from the registry and releases the upstream
// body. In detach mode a body left behind by a disconnected client is drained in the
// background. Calling Finish more than once is harmless.
func (s *Session) Finish() {
	s.mu.Lock()
	if s.state == stateFinished {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = stateFinished
	body := s.body
	timer := s.drainTimer
	close(s.done)
	s.mu.Unlock()

	s.m.sessions.Delete(s.ID)

	if prev == stateDisconnected && body != nil {
		go s.drain(body, timer)
		return
	}
	if body != nil {
		_ = body.Close()
	}
	if timer != nil {
		timer.Stop()
	}
	s.cancelUpstream(context.Canceled)
}

// Done is closed when the session finishes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) watch(clientCtx context.Context) {
	select {
	case <-clientCtx.Done():
		s.Disconnect()
	case <-s.done:
	}
}

func (s *Session) drain(body io.ReadCloser, timer *time.Timer) {
	n, err := io.Copy(io.Discard, body)
	_ = body.Close()
	if timer != nil {
		timer.Stop()
	}
	s.cancelUpstream(context.Canceled)
	s.m.logger.Debug("discarded detached upstream output", "request_id", s.ID, "bytes", n, "err", err)
}
