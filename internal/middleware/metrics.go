package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shopmesh/gateway/internal/observability"
	"github.com/shopmesh/gateway/internal/policy"
)

// Metrics returns a middleware recording request counts and durations.
// The route label is the matched rule's path, or "unmatched", so
// cardinality stays bounded regardless of client input.
func Metrics(m *observability.Metrics, table *policy.Table) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := observability.UnmatchedRoute
		switch path := c.Request.URL.Path; path {
		case "/health", "/health/services", "/metrics":
			route = path
		default:
			if rule := table.Match(path); rule != nil {
				route = rule.Path
			}
		}

		m.RecordRequest(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}
