package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmesh/gateway/internal/registry"
)

func healthyServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAggregator_AllHealthy(t *testing.T) {
	t.Parallel()

	auth := healthyServer(t)
	user := healthyServer(t)

	reg, err := registry.New(map[string]string{
		"auth": auth.URL,
		"user": user.URL,
	})
	require.NoError(t, err)

	report := NewAggregator(reg).ProbeAll(context.Background())

	assert.Equal(t, StatusHealthy, report.Status)
	assert.Len(t, report.Services, 2)
	assert.Equal(t, StatusHealthy, report.Services["auth"].Status)
	assert.Equal(t, StatusHealthy, report.Services["user"].Status)
	assert.False(t, report.Timestamp.IsZero())
}

func TestAggregator_FailureIsolation(t *testing.T) {
	t.Parallel()

	healthy := healthyServer(t)

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()

	reg, err := registry.New(map[string]string{
		"auth":  healthy.URL,
		"order": down.URL,
	})
	require.NoError(t, err)

	report := NewAggregator(reg).ProbeAll(context.Background())

	// One failing probe degrades the aggregate but never hides the others.
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Len(t, report.Services, 2)
	assert.Equal(t, StatusHealthy, report.Services["auth"].Status)
	assert.Equal(t, StatusUnhealthy, report.Services["order"].Status)
	assert.NotEmpty(t, report.Services["order"].Error)
}

func TestAggregator_NonSuccessStatusIsUnhealthy(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	reg, err := registry.New(map[string]string{"payment": srv.URL})
	require.NoError(t, err)

	report := NewAggregator(reg).ProbeAll(context.Background())

	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Contains(t, report.Services["payment"].Error, "500")
}

func TestAggregator_ProbeTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(release) })

	reg, err := registry.New(map[string]string{"notification": slow.URL})
	require.NoError(t, err)

	agg := NewAggregator(reg, WithProbeTimeout(50*time.Millisecond))

	start := time.Now()
	report := agg.ProbeAll(context.Background())

	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAggregator_ProbesHealthEndpoint(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	t.Cleanup(srv.Close)

	reg, err := registry.New(map[string]string{"user": srv.URL})
	require.NoError(t, err)

	NewAggregator(reg).ProbeAll(context.Background())

	assert.Equal(t, "/health", gotPath)
}
