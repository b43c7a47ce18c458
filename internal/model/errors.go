package model

import "errors"

// Failure kinds. Components wrap these with %w so callers can classify with errors.Is.
var (
	ErrBadRequest                = errors.New("bad request")
	ErrMethodNotAllowed          = errors.New("method not allowed")
	ErrUpstreamUnreachable       = errors.New("upstream unreachable")
	ErrUpstreamTimeout           = errors.New("upstream timed out")
	ErrUpstreamStreamInterrupted = errors.New("upstream stream interrupted")
	ErrInternalFailure           = errors.New("internal failure")

	// ErrClientDisconnected is a cancellation trigger rather than a failure.
	ErrClientDisconnected = errors.New("client disconnected")
)

// StatusClientClosedRequest is the non-standard status reported when the client
// goes away before a buffered response is ready.
const StatusClientClosedRequest = 499
