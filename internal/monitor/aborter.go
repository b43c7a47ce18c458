package monitor

import "context"

// Aborter is the side channel that tells the inference engine to stop working on
// a request. The HTTP upstream client implements it; an in-process engine can be
// plugged in with AborterFunc.
type Aborter interface {
	Abort(ctx context.Context, requestID string) error
}

// AborterFunc adapts a function to the Aborter interface.
type AborterFunc func(ctx context.Context, requestID string) error

// Abort calls f(ctx, requestID).
func (f AborterFunc) Abort(ctx context.Context, requestID string) error {
	return f(ctx, requestID)
}

// NopAborter is used for pure-proxy deployments where closing the upstream
// connection is the only cancellation available.
var NopAborter Aborter = AborterFunc(func(context.Context, string) error { return nil })
