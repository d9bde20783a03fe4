package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// quietPaths are logged at debug level only.
var quietPaths = map[string]struct{}{
	"/metrics":       {},
	"/api/v1/health": {},
}

// RequestLogger logs each request with its request_id. Server errors log at
// error level and client errors at warn.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		entry := GetRequestLogger(c).WithFields(logrus.Fields{
			"status":  status,
			"method":  c.Request.Method,
			"path":    SanitizePath(c.Request.URL.Path),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		switch {
		case status >= 500:
			entry.Error("handled request")
		case status >= 400:
			entry.Warn("handled request")
		default:
			if _, quiet := quietPaths[c.FullPath()]; quiet {
				entry.Debug("handled request")
				return
			}
			entry.Info("handled request")
		}
	}
}
