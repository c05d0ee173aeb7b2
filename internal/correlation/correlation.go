// Package correlation threads an opaque id through a request, its
// upstream call through the x-correlation-id header, and the response,
// so logs can be matched across services.
package correlation

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Header is the correlation id header, consumed from clients when
// present and always produced toward upstreams and clients.
const Header = "X-Correlation-Id"

// NewID synthesizes a correlation id. Uniqueness needs to hold with
// high probability across the process lifetime, not globally.
func NewID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + uuid.NewString()
}

type contextKey struct{}

// ContextWithID stores the correlation id in the context.
func ContextWithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the correlation id, or empty when absent.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}
