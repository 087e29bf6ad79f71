package middleware

import (
	"github.com/gin-gonic/gin"

	"member_comms/pkg/errors"
	"member_comms/pkg/logger"
)

// ErrorHandler renders the last error attached with c.Error when the
// handler has not written a response itself.
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last()
		statusCode := errors.HTTPStatusFromError(err.Err)
		if statusCode >= 500 {
			log.Error("Request failed", "error", err.Err, "path", c.FullPath())
			c.JSON(statusCode, gin.H{"error": "Internal server error"})
			return
		}

		c.JSON(statusCode, gin.H{
			"error": err.Error(),
		})
	}
}
