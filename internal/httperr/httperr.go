// Package httperr defines the gateway error taxonomy and the JSON error
// shape every gateway-originated failure response carries.
package httperr

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Error taxonomy. Every terminal failure of a request maps to exactly
// one of these.
var (
	ErrMissingCredential   = errors.New("missing credential")
	ErrInvalidCredential   = errors.New("invalid credential")
	ErrInsufficientRole    = errors.New("insufficient role")
	ErrRouteNotFound       = errors.New("route not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInternal            = errors.New("internal error")
)

// Response is the JSON body of every gateway-originated error.
type Response struct {
	Error     string `json:"error"`
	Service   string `json:"service,omitempty"`
	Path      string `json:"path,omitempty"`
	Method    string `json:"method,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Option modifies an error response before it is written.
type Option func(*Response)

// WithService attaches the logical service name.
func WithService(service string) Option {
	return func(r *Response) {
		r.Service = service
	}
}

// WithRequest attaches the request path and method.
func WithRequest(req *http.Request) Option {
	return func(r *Response) {
		r.Path = req.URL.Path
		r.Method = req.Method
	}
}

// Write writes the standard JSON error shape with the given status.
func Write(w http.ResponseWriter, status int, message string, opts ...Option) {
	resp := Response{
		Error:     message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for _, opt := range opts {
		opt(&resp)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
