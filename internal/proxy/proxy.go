// Package proxy forwards matched requests to upstream services.
package proxy

import (
	"context"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shopmesh/gateway/internal/auth"
	"github.com/shopmesh/gateway/internal/correlation"
	"github.com/shopmesh/gateway/internal/httperr"
	"github.com/shopmesh/gateway/internal/observability"
	"github.com/shopmesh/gateway/internal/policy"
	"github.com/shopmesh/gateway/internal/registry"
)

// Identity headers injected toward upstreams after authentication.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserRole  = "X-User-Role"
	HeaderUserEmail = "X-User-Email"
)

// DefaultUpstreamTimeout bounds a single upstream connect+response.
const DefaultUpstreamTimeout = 30 * time.Second

// hopHeaders are headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder proxies requests to upstream services resolved through the
// service registry. A single attempt is made per client request; there
// is no retry policy.
type Forwarder struct {
	registry  *registry.Registry
	logger    *zap.Logger
	metrics   *observability.Metrics
	transport http.RoundTripper
	timeout   time.Duration
}

// Option is a functional option for configuring the forwarder.
type Option func(*Forwarder)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithTransport sets the round tripper used for upstream calls.
func WithTransport(transport http.RoundTripper) Option {
	return func(f *Forwarder) {
		f.transport = transport
	}
}

// WithTimeout sets the upstream timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Forwarder) {
		f.timeout = timeout
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

// NewForwarder creates a forwarder backed by the given registry.
func NewForwarder(reg *registry.Registry, opts ...Option) *Forwarder {
	f := &Forwarder{
		registry: reg,
		logger:   zap.NewNop(),
		timeout:  DefaultUpstreamTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward proxies the request to the rule's target service. Identity
// headers are injected only when claims are present; client-supplied
// identity headers are always stripped. The upstream status and body
// are relayed verbatim apart from the correlation id header.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, rule *policy.Rule, claims *auth.Claims) {
	target, err := f.registry.Resolve(rule.Service)
	if err != nil {
		f.logger.Error("failed to resolve upstream",
			zap.String("service", rule.Service),
			zap.Error(err),
		)
		f.writeUnavailable(w, r, rule.Service)
		return
	}

	correlationID := r.Header.Get(correlation.Header)
	if correlationID == "" {
		correlationID = correlation.FromContext(r.Context())
	}
	if correlationID == "" {
		correlationID = correlation.NewID()
	}

	rewritten := rule.Rewrite.Apply(r.URL.Path)

	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			f.direct(req, target, rewritten, correlationID, claims, r)
		},
		Transport: f.transport,
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Set(correlation.Header, correlationID)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			// Report the path the client asked for, not the rewritten one.
			f.handleUpstreamError(w, r, rule.Service, correlationID, err)
		},
	}

	ctx, cancel := context.WithTimeout(r.Context(), f.timeout)
	defer cancel()

	// ReverseProxy copies upstream headers with Add; drop any id already
	// placed on the writer so ModifyResponse stays the single source and
	// the client sees exactly one value.
	w.Header().Del(correlation.Header)

	rp.ServeHTTP(w, r.WithContext(ctx))
}

// direct rewrites the outbound request.
func (f *Forwarder) direct(
	req *http.Request,
	target *url.URL,
	rewritten, correlationID string,
	claims *auth.Claims,
	original *http.Request,
) {
	req.URL.Scheme = target.Scheme
	req.URL.Host = target.Host
	req.URL.Path = joinPath(target.Path, rewritten)
	req.URL.RawQuery = original.URL.RawQuery
	req.Host = target.Host

	for _, h := range hopHeaders {
		req.Header.Del(h)
	}

	req.Header.Set(correlation.Header, correlationID)

	// Identity headers come only from verified claims, never from the client.
	req.Header.Del(HeaderUserID)
	req.Header.Del(HeaderUserRole)
	req.Header.Del(HeaderUserEmail)
	if claims != nil {
		req.Header.Set(HeaderUserID, claims.Subject)
		req.Header.Set(HeaderUserRole, claims.Role)
		req.Header.Set(HeaderUserEmail, claims.Email)
	}

	if clientIP, _, err := net.SplitHostPort(original.RemoteAddr); err == nil {
		if prior := original.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	if original.TLS != nil {
		req.Header.Set("X-Forwarded-Proto", "https")
	} else {
		req.Header.Set("X-Forwarded-Proto", "http")
	}
	req.Header.Set("X-Forwarded-Host", original.Host)
}

// handleUpstreamError translates timeouts and connection failures into a
// 503 naming the logical service. The response still carries the
// correlation id so operators can match gateway and upstream logs.
func (f *Forwarder) handleUpstreamError(
	w http.ResponseWriter,
	r *http.Request,
	service, correlationID string,
	err error,
) {
	f.logger.Error("upstream request failed",
		zap.String("service", service),
		zap.String("path", r.URL.Path),
		zap.String("method", r.Method),
		zap.String("correlation_id", correlationID),
		zap.Error(err),
	)
	if f.metrics != nil {
		f.metrics.RecordUpstreamError(service)
	}

	w.Header().Set(correlation.Header, correlationID)
	httperr.Write(w, http.StatusServiceUnavailable,
		httperr.ErrUpstreamUnavailable.Error()+": "+service,
		httperr.WithService(service),
		httperr.WithRequest(r),
	)
}

// writeUnavailable reports an unresolvable service.
func (f *Forwarder) writeUnavailable(w http.ResponseWriter, r *http.Request, service string) {
	if f.metrics != nil {
		f.metrics.RecordUpstreamError(service)
	}
	httperr.Write(w, http.StatusServiceUnavailable,
		httperr.ErrUpstreamUnavailable.Error()+": "+service,
		httperr.WithService(service),
		httperr.WithRequest(r),
	)
}

// joinPath joins a base path and a request path with a single slash.
func joinPath(base, path string) string {
	switch {
	case base == "" || base == "/":
		if path == "" {
			return "/"
		}
		return path
	case strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/"):
		return base + path[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(path, "/"):
		return base + "/" + path
	default:
		return base + path
	}
}
