package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const runTokenHeader = "X-Run-Token"

// runTokenMiddleware authenticates automated callers via a shared secret.
// The comparison is constant time so response latency leaks nothing about
// the token.
func (s *Server) runTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.config.RunToken == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "run token not configured",
			})
			c.Abort()
			return
		}

		presented := c.GetHeader(runTokenHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.config.RunToken)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid run token",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
