// Package middleware provides the gin middleware chain for the gateway.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/shopmesh/gateway/internal/correlation"
)

// correlationIDKey is the gin context key for the correlation id.
const correlationIDKey = "correlationID"

// Correlation returns a middleware that reuses an inbound correlation id
// or synthesizes one, stores it on the request, and always echoes it on
// the response.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Request.Header.Get(correlation.Header)
		if id == "" {
			id = correlation.NewID()
		}

		c.Set(correlationIDKey, id)
		c.Request = c.Request.WithContext(
			correlation.ContextWithID(c.Request.Context(), id),
		)
		// The forwarded request carries the id even when it was synthesized.
		c.Request.Header.Set(correlation.Header, id)
		c.Writer.Header().Set(correlation.Header, id)

		c.Next()
	}
}

// GetCorrelationID returns the request's correlation id, if set.
func GetCorrelationID(c *gin.Context) string {
	if id, ok := c.Get(correlationIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
