// Package service implements the core forwarding logic: translating inbound requests
// into upstream calls and running them under the cancellation monitor.
package service

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"inference-gateway-go/internal/model"
)

// streamField is the transport flag that selects streaming relay. It is always
// stripped, whatever the configured strip list says.
const streamField = "stream"

// droppedRequestHeaders are never forwarded: their values describe the inbound
// byte stream, which the gateway re-serializes.
var droppedRequestHeaders = []string{
	"Content-Length",
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Translator maps inbound requests to ForwardSpecs. It performs no I/O.
type Translator struct {
	baseURL     *url.URL
	stripFields []string
}

// NewTranslator creates a Translator forwarding to baseURL. stream is always part
// of the strip list.
func NewTranslator(baseURL string, stripFields []string) (*Translator, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	fields := []string{streamField}
	for _, f := range stripFields {
		if f != streamField {
			fields = append(fields, f)
		}
	}

	return &Translator{baseURL: u, stripFields: fields}, nil
}

// Translate derives the outbound call for in. requestID is the correlation id the
// upstream sees in X-Request-Id. Only POST bodies can fail, with model.ErrBadRequest.
func (t *Translator) Translate(in *model.InboundRequest, requestID string) (*model.ForwardSpec, error) {
	method := model.ParseMethod(in.Method)

	spec := &model.ForwardSpec{
		Method:    method,
		Header:    t.forwardHeaders(in.Header),
		RequestID: requestID,
	}
	if requestID != "" {
		spec.Header.Set("X-Request-Id", requestID)
	}

	switch method {
	case model.MethodGet:
		spec.URL = t.buildUpstreamURL(in.Path, rawQuery(in))
	case model.MethodPost:
		body, stream, err := t.rewriteBody(in.Body)
		if err != nil {
			return nil, err
		}
		spec.URL = t.buildUpstreamURL(in.Path, "")
		spec.Body = body
		spec.Stream = stream
		spec.Header.Set("Content-Type", "application/json")
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrMethodNotAllowed, in.Method)
	}

	return spec, nil
}

// rewriteBody returns the logical request object with transport-only fields removed,
// and the value of the stream flag. Deletion works on the raw bytes so every other
// field keeps its exact encoding.
func (t *Translator) rewriteBody(raw []byte) ([]byte, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false, fmt.Errorf("%w: empty body", model.ErrBadRequest)
	}
	if !gjson.ValidBytes(raw) {
		return nil, false, fmt.Errorf("%w: body is not valid JSON", model.ErrBadRequest)
	}

	doc := gjson.ParseBytes(raw)
	if doc.IsArray() {
		first := doc.Get("0")
		if !first.Exists() {
			return nil, false, fmt.Errorf("%w: body is an empty array", model.ErrBadRequest)
		}
		doc = first
	}
	if !doc.IsObject() {
		return nil, false, fmt.Errorf("%w: body must be a JSON object or an array of one object", model.ErrBadRequest)
	}

	// Duplicate keys resolve to the last occurrence. The flag must be a JSON
	// boolean; any other type is rejected rather than truth-tested.
	var flag gjson.Result
	doc.ForEach(func(key, value gjson.Result) bool {
		if key.String() == streamField {
			flag = value
		}
		return true
	})

	stream := false
	switch flag.Type {
	case gjson.True:
		stream = true
	case gjson.False, gjson.Null:
		// absent or explicitly off
	default:
		return nil, false, fmt.Errorf("%w: %q must be a boolean", model.ErrBadRequest, streamField)
	}

	out := []byte(doc.Raw)
	for _, field := range t.stripFields {
		path := escapePath(field)
		// Each delete removes one occurrence; repeat until no duplicate is left.
		for gjson.GetBytes(out, path).Exists() {
			next, err := sjson.DeleteBytes(out, path)
			if err != nil {
				return nil, false, fmt.Errorf("%w: strip %q: %w", model.ErrInternalFailure, field, err)
			}
			if len(next) >= len(out) {
				return nil, false, fmt.Errorf("%w: strip %q: delete made no progress", model.ErrInternalFailure, field)
			}
			out = next
		}
	}

	return out, stream, nil
}

func (t *Translator) buildUpstreamURL(path, rawQuery string) string {
	u := *t.baseURL
	u.Path = strings.TrimSuffix(t.baseURL.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = rawQuery
	return u.String()
}

// rawQuery prefers the query string as received so parameter order and encoding
// survive the hop.
func rawQuery(in *model.InboundRequest) string {
	if in.RawQuery != "" {
		return in.RawQuery
	}
	if len(in.Query) > 0 {
		return in.Query.Encode()
	}
	return ""
}

func (t *Translator) forwardHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, key := range droppedRequestHeaders {
		dst.Del(key)
	}
	return dst
}

// escapePath quotes gjson/sjson path syntax so field names match a single
// top-level key literally.
func escapePath(field string) string {
	escaped := gjson.Escape(field)
	if strings.HasPrefix(escaped, ":") {
		escaped = `\` + escaped
	}
	return escaped
}
