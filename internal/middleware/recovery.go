package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shopmesh/gateway/internal/httperr"
)

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	Logger *zap.Logger

	// ExposeDetail includes the panic value in the response body.
	// Enabled only in development mode.
	ExposeDetail bool
}

// Recovery returns a middleware that recovers from panics and produces
// the standard 500 error shape. Error detail is suppressed from the
// client unless ExposeDetail is set.
func Recovery(config RecoveryConfig) gin.HandlerFunc {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				config.Logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("client_ip", c.ClientIP()),
					zap.String("correlation_id", GetCorrelationID(c)),
					zap.ByteString("stack", debug.Stack()),
				)

				message := httperr.ErrInternal.Error()
				if config.ExposeDetail {
					message = fmt.Sprintf("%s: %v", message, err)
				}

				httperr.Write(c.Writer, http.StatusInternalServerError, message,
					httperr.WithRequest(c.Request),
				)
				c.Abort()
			}
		}()

		c.Next()
	}
}
