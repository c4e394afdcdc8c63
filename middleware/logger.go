package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestLogger tags each request with an id and logs it once handled.
func RequestLogger(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()
		c.Header("X-Request-ID", requestID)

		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if user := GetUsername(c); user != "" {
			fields = append(fields, "user", user)
		}

		switch {
		case status >= 500:
			logger.Errorw("http request", fields...)
		case status >= 400:
			logger.Warnw("http request", fields...)
		default:
			logger.Debugw("http request", fields...)
		}
	}
}
