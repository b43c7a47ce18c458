package model

import "net/http"

// Method is the set of verbs the gateway knows how to forward.
type Method int

const (
	MethodUnsupported Method = iota
	MethodGet
	MethodPost
)

// ParseMethod maps an HTTP method to a supported verb. Method names are case-sensitive.
func ParseMethod(m string) Method {
	switch m {
	case http.MethodGet:
		return MethodGet
	case http.MethodPost:
		return MethodPost
	default:
		return MethodUnsupported
	}
}

// String returns the HTTP method name, or "UNSUPPORTED".
func (m Method) String() string {
	switch m {
	case MethodGet:
		return http.MethodGet
	case MethodPost:
		return http.MethodPost
	default:
		return "UNSUPPORTED"
	}
}

// HasBody reports whether requests of this verb carry a JSON body upstream.
func (m Method) HasBody() bool {
	return m == MethodPost
}
