// Package gateway wires the rate limiter, token verifier, policy table,
// dispatcher, and health aggregator into the per-request pipeline.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shopmesh/gateway/internal/auth"
	"github.com/shopmesh/gateway/internal/config"
	"github.com/shopmesh/gateway/internal/health"
	"github.com/shopmesh/gateway/internal/httperr"
	"github.com/shopmesh/gateway/internal/middleware"
	"github.com/shopmesh/gateway/internal/observability"
	"github.com/shopmesh/gateway/internal/policy"
	"github.com/shopmesh/gateway/internal/proxy"
	"github.com/shopmesh/gateway/internal/ratelimit"
	"github.com/shopmesh/gateway/internal/registry"
)

// Rate limit policy names, used as metric labels.
const (
	PolicyGeneral = "general"
	PolicyAuth    = "auth"
)

// ginModeOnce ensures gin.SetMode is only called once.
var ginModeOnce sync.Once

// Gateway is the single ingress point: it terminates client traffic,
// admits it through the rate limiter, authenticates and authorizes it,
// and dispatches it to the matching upstream service.
type Gateway struct {
	cfg        *config.Config
	engine     *gin.Engine
	table      *policy.Table
	verifier   *auth.Verifier
	forwarder  *proxy.Forwarder
	aggregator *health.Aggregator
	registry   *registry.Registry
	metrics    *observability.Metrics
	logger     *zap.Logger

	generalLimiter *ratelimit.FixedWindowLimiter
	authLimiter    *ratelimit.FixedWindowLimiter

	httpServer *http.Server
}

// Option is a functional option for the gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithTable replaces the route rule table.
func WithTable(table *policy.Table) Option {
	return func(g *Gateway) {
		g.table = table
	}
}

// WithForwarder replaces the dispatcher.
func WithForwarder(f *proxy.Forwarder) Option {
	return func(g *Gateway) {
		g.forwarder = f
	}
}

// WithAggregator replaces the health aggregator.
func WithAggregator(a *health.Aggregator) Option {
	return func(g *Gateway) {
		g.aggregator = a
	}
}

// WithMetrics replaces the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// New assembles a gateway from the configuration.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	reg, err := registry.New(cfg.Services)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:      cfg,
		table:    policy.DefaultTable(),
		verifier: auth.NewVerifier(cfg.JWTSecret),
		registry: reg,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.metrics == nil {
		g.metrics = observability.NewMetrics("gateway")
	}
	if g.forwarder == nil {
		g.forwarder = proxy.NewForwarder(reg,
			proxy.WithLogger(g.logger),
			proxy.WithMetrics(g.metrics),
			proxy.WithTimeout(cfg.UpstreamTimeout),
		)
	}
	if g.aggregator == nil {
		g.aggregator = health.NewAggregator(reg,
			health.WithLogger(g.logger),
			health.WithMetrics(g.metrics),
		)
	}

	g.generalLimiter = ratelimit.NewFixedWindowLimiter(cfg.RateLimitMax, cfg.RateLimitWindow, g.logger)
	g.authLimiter = ratelimit.NewFixedWindowLimiter(cfg.RateLimitAuthMax, cfg.RateLimitWindow, g.logger)
	g.generalLimiter.StartCleanup(cfg.RateLimitWindow)
	g.authLimiter.StartCleanup(cfg.RateLimitWindow)

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})
	g.engine = gin.New()
	g.setupRoutes()

	return g, nil
}

// setupRoutes installs the middleware chain, the operational endpoints,
// and the catch-all dispatch handler.
func (g *Gateway) setupRoutes() {
	g.engine.Use(
		middleware.Recovery(middleware.RecoveryConfig{
			Logger:       g.logger,
			ExposeDetail: g.cfg.Mode == config.ModeDevelopment,
		}),
		middleware.Correlation(),
		middleware.LoggingWithConfig(middleware.LoggingConfig{
			Logger:    g.logger,
			SkipPaths: []string{"/health", "/metrics"},
		}),
		middleware.Metrics(g.metrics, g.table),
		middleware.CORS(middleware.DefaultCORSConfig(g.cfg.AllowedOrigin)),
	)

	g.engine.GET("/health", g.handleHealth)
	g.engine.GET("/health/services", g.handleHealthServices)
	g.engine.GET("/metrics", gin.WrapH(g.metrics.Handler()))

	g.engine.NoRoute(g.dispatch)
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.engine
}

// handleHealth reports the static registry snapshot.
func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"services":  g.registry.Snapshot(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleHealthServices reports the aggregated liveness probes.
func (g *Gateway) handleHealthServices(c *gin.Context) {
	report := g.aggregator.ProbeAll(c.Request.Context())
	c.JSON(http.StatusOK, report)
}

// dispatch runs the per-request pipeline: route match, rate-limit
// admission, policy decision, and forwarding. Each stage either passes
// the request on or terminates it with the standard error shape.
func (g *Gateway) dispatch(c *gin.Context) {
	rule := g.table.Match(c.Request.URL.Path)

	// Admission happens before the route outcome is known: unmatched
	// traffic consumes general budget like any other request.
	if !g.admit(c, rule) {
		return
	}

	if rule == nil {
		g.reject(c, http.StatusNotFound, httperr.ErrRouteNotFound.Error())
		return
	}

	claims, ok := g.authenticate(c, rule)
	if !ok {
		return
	}

	g.forwarder.Forward(c.Writer, c.Request, rule, claims)
	c.Abort()
}

// admit runs the rate-limit check for the rule's policy, falling back
// to the general policy when no rule matched. It reports false after
// writing the 429 response when the client is over budget.
func (g *Gateway) admit(c *gin.Context, rule *policy.Rule) bool {
	limiter, policyName := g.generalLimiter, PolicyGeneral
	if rule != nil && rule.AuthSensitive {
		limiter, policyName = g.authLimiter, PolicyAuth
	}

	result := limiter.Allow(c.ClientIP())

	h := c.Writer.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(result.ResetAfter).Unix(), 10))

	if result.Allowed {
		return true
	}

	g.metrics.RecordRateLimitHit(policyName)
	g.logger.Warn("rate limit exceeded",
		zap.String("client_ip", c.ClientIP()),
		zap.String("path", c.Request.URL.Path),
		zap.String("policy", policyName),
	)

	h.Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	g.reject(c, http.StatusTooManyRequests,
		"too many requests, please try again later")
	return false
}

// authenticate resolves the policy decision for the rule and method.
// It reports ok=false after writing the error response when the request
// does not satisfy the decision. Public routes with a bearer present
// verify it opportunistically so identity still reaches the upstream;
// an invalid token on a public route is ignored rather than rejected.
func (g *Gateway) authenticate(c *gin.Context, rule *policy.Rule) (*auth.Claims, bool) {
	decision := policy.Evaluate(rule, c.Request.Method)

	token, err := auth.ExtractBearer(c.Request)
	if err != nil {
		// No credential at all. 401 is reserved for this case.
		if decision != policy.Allow {
			g.reject(c, http.StatusUnauthorized, httperr.ErrMissingCredential.Error())
			return nil, false
		}
		return nil, true
	}

	claims, err := g.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		if decision == policy.Allow {
			return nil, true
		}
		if errors.Is(err, auth.ErrInvalidCredential) {
			g.reject(c, http.StatusForbidden, httperr.ErrInvalidCredential.Error())
			return nil, false
		}
		g.internalError(c, err)
		return nil, false
	}

	if !policy.Satisfies(decision, claims) {
		// Admin requirements fail closed; any non-admin role is denied.
		g.reject(c, http.StatusForbidden, httperr.ErrInsufficientRole.Error())
		return nil, false
	}

	return claims, true
}

// reject terminates the request with the standard error shape.
func (g *Gateway) reject(c *gin.Context, status int, message string) {
	httperr.Write(c.Writer, status, message, httperr.WithRequest(c.Request))
	c.Abort()
}

// internalError terminates the request with a generic 500, exposing
// detail only in development mode.
func (g *Gateway) internalError(c *gin.Context, err error) {
	g.logger.Error("internal error",
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.Error(err),
	)

	message := httperr.ErrInternal.Error()
	if g.cfg.Mode == config.ModeDevelopment {
		message = message + ": " + err.Error()
	}
	g.reject(c, http.StatusInternalServerError, message)
}

// Start begins serving on the configured port. It blocks until the
// server stops.
func (g *Gateway) Start() error {
	g.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(g.cfg.Port),
		Handler:           g.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g.logger.Info("starting gateway",
		zap.Int("port", g.cfg.Port),
		zap.Int("routes", len(g.table.Rules())),
		zap.Int("services", len(g.registry.Names())),
	)

	err := g.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the gateway down gracefully: new connections are refused
// and in-flight requests drain within the context's deadline.
func (g *Gateway) Stop(ctx context.Context) error {
	g.generalLimiter.Stop()
	g.authLimiter.Stop()

	if g.httpServer == nil {
		return nil
	}

	g.logger.Info("stopping gateway")
	return g.httpServer.Shutdown(ctx)
}
