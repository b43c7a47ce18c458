// Package model defines shared types for the gateway.
package model

import (
	"net/http"
	"net/url"
)

// InboundRequest is a client request as received by the gateway.
type InboundRequest struct {
	Method   string
	Path     string
	Query    url.Values
	// RawQuery is the query string exactly as received; forwarded verbatim when set.
	RawQuery string
	Header   http.Header
	Body     []byte
}

// ForwardSpec describes exactly one outbound call to the inference upstream.
type ForwardSpec struct {
	Method    Method
	URL       string
	Header    http.Header
	Body      []byte
	Stream    bool
	RequestID string
}

// UpstreamResponse is a fully buffered upstream response.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
