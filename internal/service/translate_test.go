package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"inference-gateway-go/internal/model"
)

var defaultStrip = []string{"stream", "model", "logit_bias"}

func newTestTranslator(t *testing.T, baseURL string) *Translator {
	t.Helper()
	tr, err := NewTranslator(baseURL, defaultStrip)
	if err != nil {
		t.Fatalf("NewTranslator: %v", err)
	}
	return tr
}

func postRequest(body string) *model.InboundRequest {
	return &model.InboundRequest{
		Method: http.MethodPost,
		Path:   "/generate",
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(body),
	}
}

func jsonEqual(t *testing.T, got []byte, want string) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("unmarshal got %q: %v", got, err)
	}
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("unmarshal want %q: %v", want, err)
	}
	if !reflect.DeepEqual(g, w) {
		t.Errorf("body = %s, want %s", got, want)
	}
}

func TestTranslate_StripsTransportFields(t *testing.T) {
	tr := newTestTranslator(t, "http://engine:8000")

	spec, err := tr.Translate(postRequest(`{"prompt": "hi", "stream": false, "model": "x"}`), "req-1")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}

	jsonEqual(t, spec.Body, `{"prompt":"hi"}`)
	if spec.Stream {
		t.Error("Stream = true, want false")
	}
	if spec.Method != model.MethodPost {
		t.Errorf("Method = %v, want POST", spec.Method)
	}
	if spec.URL != "http://engine:8000/generate" {
		t.Errorf("URL = %q, want %q", spec.URL, "http://engine:8000/generate")
	}
}

func TestTranslate_DuplicateTransportKeys(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantBody   string
		wantStream bool
	}{
		{
			name:       "last stream wins false",
			body:       `{"prompt":"hi","stream":true,"model":"x","stream":false,"model":"y"}`,
			wantBody:   `{"prompt":"hi"}`,
			wantStream: false,
		},
		{
			name:       "last stream wins true",
			body:       `{"stream":false,"prompt":"hi","stream":true}`,
			wantBody:   `{"prompt":"hi"}`,
			wantStream: true,
		},
		{
			name:       "three copies of a strip field",
			body:       `{"logit_bias":{},"prompt":"hi","logit_bias":{"1":2},"logit_bias":null}`,
			wantBody:   `{"prompt":"hi"}`,
			wantStream: false,
		},
	}

	tr := newTestTranslator(t, "http://engine:8000")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := tr.Translate(postRequest(tt.body), "req")
			if err != nil {
				t.Fatalf("Translate() error = %v", err)
			}
			if string(spec.Body) != tt.wantBody {
				t.Errorf("body = %s, want %s", spec.Body, tt.wantBody)
			}
			if spec.Stream != tt.wantStream {
				t.Errorf("Stream = %v, want %v", spec.Stream, tt.wantStream)
			}
		})
	}
}

func TestTranslate_StripFieldsWithPathSyntax(t *testing.T) {
	fields := []string{"a|b", "#", "@this", "!x", ":1"}
	tr, err := NewTranslator("http://engine:8000", fields)
	if err != nil {
		t.Fatalf("NewTranslator: %v", err)
	}

	body := `{"prompt":"hi","a|b":1,"a":2,"#":3,"@this":4,"!x":5,":1":6,"1":8}`
	spec, err := tr.Translate(postRequest(body), "req")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	jsonEqual(t, spec.Body, `{"prompt":"hi","a":2,"1":8}`)
}

func TestTranslate_StreamFlag(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStream bool
		wantErr    bool
	}{
		{"absent", `{"prompt":"hi"}`, false, false},
		{"true", `{"prompt":"hi","stream":true}`, true, false},
		{"false", `{"prompt":"hi","stream":false}`, false, false},
		{"null", `{"prompt":"hi","stream":null}`, false, false},
		{"string", `{"prompt":"hi","stream":"yes"}`, false, true},
		{"number", `{"prompt":"hi","stream":1}`, false, true},
		{"object", `{"prompt":"hi","stream":{}}`, false, true},
		{"last duplicate not boolean", `{"prompt":"hi","stream":true,"stream":1}`, false, true},
	}

	tr := newTestTranslator(t, "http://engine:8000")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := tr.Translate(postRequest(tt.body), "req")
			if tt.wantErr {
				if !errors.Is(err, model.ErrBadRequest) {
					t.Fatalf("Translate() error = %v, want ErrBadRequest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Translate() error = %v", err)
			}
			if spec.Stream != tt.wantStream {
				t.Errorf("Stream = %v, want %v", spec.Stream, tt.wantStream)
			}
			if strings.Contains(string(spec.Body), `"stream"`) {
				t.Errorf("body still carries stream: %s", spec.Body)
			}
		})
	}
}

func TestTranslate_BadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"whitespace", "   \n"},
		{"invalid json", `{"prompt":`},
		{"empty array", `[]`},
		{"string", `"hello"`},
		{"number", `42`},
		{"array of non-object", `["hi"]`},
	}

	tr := newTestTranslator(t, "http://engine:8000")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Translate(postRequest(tt.body), "req")
			if !errors.Is(err, model.ErrBadRequest) {
				t.Errorf("Translate() error = %v, want ErrBadRequest", err)
			}
		})
	}
}

func TestTranslate_ArrayUsesFirstElement(t *testing.T) {
	tr := newTestTranslator(t, "http://engine:8000")

	spec, err := tr.Translate(postRequest(`[{"prompt":"first","stream":true,"logit_bias":{"50256":-100}},{"prompt":"second"}]`), "req")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	jsonEqual(t, spec.Body, `{"prompt":"first"}`)
	if !spec.Stream {
		t.Error("Stream = false, want true from the first element")
	}
}

func TestTranslate_PreservesFieldEncoding(t *testing.T) {
	tr := newTestTranslator(t, "http://engine:8000")

	body := `{"prompt":"café \"quoted\"","temperature":1.50,"seed":12345678901234567890,"model":"m"}`
	spec, err := tr.Translate(postRequest(body), "req")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}

	got := string(spec.Body)
	for _, want := range []string{`"temperature":1.50`, `"seed":12345678901234567890`, `"café \"quoted\""`} {
		if !strings.Contains(got, want) {
			t.Errorf("body %s lost %s", got, want)
		}
	}
	if strings.Contains(got, `"model"`) {
		t.Errorf("body still carries model: %s", got)
	}
}

func TestTranslate_CustomStripFields(t *testing.T) {
	tr, err := NewTranslator("http://engine:8000", []string{"user", "a.b"})
	if err != nil {
		t.Fatalf("NewTranslator: %v", err)
	}

	spec, err := tr.Translate(postRequest(`{"prompt":"hi","stream":true,"user":"u1","a.b":1,"a":{"b":2},"model":"kept"}`), "req")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	jsonEqual(t, spec.Body, `{"prompt":"hi","a":{"b":2},"model":"kept"}`)
}

func TestTranslate_Headers(t *testing.T) {
	tr := newTestTranslator(t, "http://engine:8000")

	in := postRequest(`{"prompt":"hi"}`)
	in.Header = http.Header{
		"Content-Length":    {"15"},
		"Content-Type":      {"text/plain"},
		"Connection":        {"keep-alive"},
		"Transfer-Encoding": {"chunked"},
		"Authorization":     {"Bearer token"},
		"X-Custom":          {"kept"},
	}

	spec, err := tr.Translate(in, "req-42")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}

	tests := []struct {
		key  string
		want string
	}{
		{"Content-Length", ""},
		{"Connection", ""},
		{"Transfer-Encoding", ""},
		{"Content-Type", "application/json"},
		{"Authorization", "Bearer token"},
		{"X-Custom", "kept"},
		{"X-Request-Id", "req-42"},
	}
	for _, tt := range tests {
		if got := spec.Header.Get(tt.key); got != tt.want {
			t.Errorf("header %s = %q, want %q", tt.key, got, tt.want)
		}
	}

	if in.Header.Get("Content-Length") != "15" {
		t.Error("Translate() must not modify the inbound headers")
	}
}

func TestTranslate_GET(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		in      *model.InboundRequest
		want    string
	}{
		{
			name:    "raw query verbatim",
			baseURL: "http://engine:8000",
			in:      &model.InboundRequest{Method: http.MethodGet, Path: "/v1/models", RawQuery: "b=2&a=1&a=%20x"},
			want:    "http://engine:8000/v1/models?b=2&a=1&a=%20x",
		},
		{
			name:    "parsed query",
			baseURL: "http://engine:8000",
			in:      &model.InboundRequest{Method: http.MethodGet, Path: "/health", Query: url.Values{"q": {"1"}}},
			want:    "http://engine:8000/health?q=1",
		},
		{
			name:    "base path prefix",
			baseURL: "http://engine:8000/api/",
			in:      &model.InboundRequest{Method: http.MethodGet, Path: "/v1/models"},
			want:    "http://engine:8000/api/v1/models",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTranslator(t, tt.baseURL)
			spec, err := tr.Translate(tt.in, "req")
			if err != nil {
				t.Fatalf("Translate() error = %v", err)
			}
			if spec.URL != tt.want {
				t.Errorf("URL = %q, want %q", spec.URL, tt.want)
			}
			if spec.Body != nil {
				t.Errorf("Body = %q, want nil for GET", spec.Body)
			}
			if spec.Method != model.MethodGet {
				t.Errorf("Method = %v, want GET", spec.Method)
			}
		})
	}
}

func TestTranslate_POSTDropsQuery(t *testing.T) {
	tr := newTestTranslator(t, "http://engine:8000")
	in := postRequest(`{"prompt":"hi"}`)
	in.RawQuery = "debug=1"

	spec, err := tr.Translate(in, "req")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if spec.URL != "http://engine:8000/generate" {
		t.Errorf("URL = %q, want %q", spec.URL, "http://engine:8000/generate")
	}
}

func TestTranslate_UnsupportedMethod(t *testing.T) {
	tr := newTestTranslator(t, "http://engine:8000")

	for _, m := range []string{http.MethodPut, http.MethodDelete, http.MethodPatch, "get"} {
		_, err := tr.Translate(&model.InboundRequest{Method: m, Path: "/generate"}, "req")
		if !errors.Is(err, model.ErrMethodNotAllowed) {
			t.Errorf("Translate(%s) error = %v, want ErrMethodNotAllowed", m, err)
		}
	}
}

func TestNewTranslator_AlwaysStripsStream(t *testing.T) {
	tr, err := NewTranslator("http://engine:8000", nil)
	if err != nil {
		t.Fatalf("NewTranslator: %v", err)
	}
	if !reflect.DeepEqual(tr.stripFields, []string{"stream"}) {
		t.Errorf("stripFields = %v, want [stream]", tr.stripFields)
	}

	spec, err := tr.Translate(postRequest(`{"prompt":"hi","stream":true,"model":"m"}`), "req")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	jsonEqual(t, spec.Body, `{"prompt":"hi","model":"m"}`)
}

func TestEscapePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"model", "model"},
		{"a.b", `a\.b`},
		{"x*", `x\*`},
		{"q?", `q\?`},
		{"a|b", `a\|b`},
		{"#", `\#`},
		{"@this", `\@this`},
		{"!x", `\!x`},
		{":1", `\:1`},
		{"logit_bias", "logit_bias"},
	}
	for _, tt := range tests {
		if got := escapePath(tt.in); got != tt.want {
			t.Errorf("escapePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
