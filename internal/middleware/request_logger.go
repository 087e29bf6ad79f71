package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"member_comms/pkg/logger"
)

func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		kv := []interface{}{
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		}
		if userID, ok := c.Get(ContextUserID); ok {
			kv = append(kv, "user_id", userID)
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error("Request", kv...)
		case status >= 400:
			log.Warn("Request", kv...)
		default:
			log.Info("Request", kv...)
		}
	}
}
