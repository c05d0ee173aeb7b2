// Package health probes upstream services and aggregates the results.
package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shopmesh/gateway/internal/observability"
	"github.com/shopmesh/gateway/internal/registry"
)

// Status represents a probe outcome.
type Status string

const (
	// StatusHealthy indicates the service answered its liveness probe.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the probe failed or timed out.
	StatusUnhealthy Status = "unhealthy"
)

// DefaultProbeTimeout bounds a single liveness probe.
const DefaultProbeTimeout = 5 * time.Second

// Probe is the result of one service's liveness probe.
type Probe struct {
	Status    Status `json:"status"`
	URL       string `json:"url"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Report aggregates all probes.
type Report struct {
	Status    Status           `json:"status"`
	Services  map[string]Probe `json:"services"`
	Timestamp time.Time        `json:"timestamp"`
}

// Aggregator fans liveness probes out to all registered services.
type Aggregator struct {
	registry *registry.Registry
	client   *http.Client
	logger   *zap.Logger
	metrics  *observability.Metrics
	timeout  time.Duration
}

// Option is a functional option for the aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// WithProbeTimeout sets the per-probe timeout.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(a *Aggregator) {
		a.timeout = timeout
	}
}

// WithHTTPClient sets the client used for probes.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Aggregator) {
		a.client = client
	}
}

// NewAggregator creates an aggregator over the registry's services.
func NewAggregator(reg *registry.Registry, opts ...Option) *Aggregator {
	a := &Aggregator{
		registry: reg,
		client:   &http.Client{},
		logger:   zap.NewNop(),
		timeout:  DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ProbeAll issues one liveness probe per service concurrently. Each
// probe is independently timed and failure-isolated: one unreachable
// service never aborts the others.
func (a *Aggregator) ProbeAll(ctx context.Context) Report {
	names := a.registry.Names()

	results := make([]Probe, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = a.probe(ctx, name)
		}(i, name)
	}
	wg.Wait()

	report := Report{
		Status:    StatusHealthy,
		Services:  make(map[string]Probe, len(names)),
		Timestamp: time.Now().UTC(),
	}
	for i, name := range names {
		report.Services[name] = results[i]
		if results[i].Status != StatusHealthy {
			report.Status = StatusUnhealthy
		}
		if a.metrics != nil {
			a.metrics.SetUpstreamHealth(name, results[i].Status == StatusHealthy)
		}
	}

	return report
}

// probe issues a single GET <base>/health with its own timeout.
func (a *Aggregator) probe(ctx context.Context, name string) Probe {
	base, err := a.registry.Resolve(name)
	if err != nil {
		return Probe{Status: StatusUnhealthy, Error: err.Error()}
	}

	probeURL := strings.TrimSuffix(base.String(), "/") + "/health"
	result := Probe{URL: base.String()}

	probeCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, probeURL, http.NoBody)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	result.LatencyMS = time.Since(start).Milliseconds()

	if err != nil {
		a.logger.Warn("liveness probe failed",
			zap.String("service", name),
			zap.Error(err),
		)
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("unhealthy status code: %d", resp.StatusCode)
		return result
	}

	result.Status = StatusHealthy
	return result
}
