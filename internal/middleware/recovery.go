package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"dankerchat/backend/internal/metrics"
)

// Recovery turns a handler panic into a 500. A panic after the response
// started (a websocket upgrade, a streamed body) can only be logged.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			route := routeLabel(c)
			metrics.PanicsRecovered.WithLabelValues(route).Inc()

			event := log.Error().
				Interface("error", r).
				Bytes("stack", debug.Stack()).
				Str("route", route).
				Str("request_id", c.Writer.Header().Get(requestIDHeader))
			if user, ok := CurrentUser(c); ok {
				event = event.Str("user_id", user.ID)
			}
			event.Msg("panic recovered")

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "internal_server_error",
			})
		}()
		c.Next()
	}
}
