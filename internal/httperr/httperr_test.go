package httperr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	Write(rec, http.StatusTooManyRequests, ErrRateLimited.Error())

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "rate limited", resp.Error)
	assert.Empty(t, resp.Service)
	assert.Empty(t, resp.Path)

	ts, err := time.Parse(time.RFC3339, resp.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
}

func TestWrite_Options(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	rec := httptest.NewRecorder()
	Write(rec, http.StatusServiceUnavailable, "upstream unavailable: order",
		WithService("order"),
		WithRequest(req),
	)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "upstream unavailable: order", resp.Error)
	assert.Equal(t, "order", resp.Service)
	assert.Equal(t, "/api/orders", resp.Path)
	assert.Equal(t, http.MethodPost, resp.Method)
}

func TestWrite_OmitsEmptyOptionalFields(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	Write(rec, http.StatusNotFound, ErrRouteNotFound.Error())

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Contains(t, raw, "error")
	assert.Contains(t, raw, "timestamp")
	assert.NotContains(t, raw, "service")
	assert.NotContains(t, raw, "path")
	assert.NotContains(t, raw, "method")
}
