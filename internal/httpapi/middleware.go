// Package httpapi is the JWT-secured gin operator surface: health,
// Prometheus metrics, and manual pipeline administration (a "reload
// pipelines" operation and a minimal CRUD front end over the same
// internal/rpc façades the gRPC surface exposes). Grounded on
// pkg/server/server.go's Config/DefaultConfig/Start/SetupServiceRouter
// and pkg/middleware/middleware.go's ambient middleware stack.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatbroker/internal/logging"
)

// loggingMiddleware logs one structured line per request after it
// completes, matching pkg/middleware/middleware.go's LoggingMiddleware.
func loggingMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logging.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"latency":    time.Since(start),
			"client_ip":  c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
			"request_id": c.GetString("request_id"),
		}).Info("httpapi: request")
	}
}

// corsMiddleware reflects the requesting origin/method/headers rather
// than hardcoding an allowlist, matching pkg/middleware/middleware.go's
// CORSMiddleware (this is an operator API behind JWT auth, not a public
// browser-facing one, so origin reflection is acceptable here).
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")

		if origin := c.GetHeader("Origin"); origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
		} else {
			c.Header("Access-Control-Allow-Origin", "*")
		}
		if m := c.GetHeader("Access-Control-Request-Method"); m != "" {
			c.Header("Access-Control-Allow-Methods", m)
		} else {
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		}
		if h := c.GetHeader("Access-Control-Request-Headers"); h != "" {
			c.Header("Access-Control-Allow-Headers", h)
		} else {
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// recoveryMiddleware converts a panic in a handler into a 500 instead of
// crashing the process, matching pkg/middleware/middleware.go's
// RecoveryMiddleware.
func recoveryMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.WithFields(logging.Fields{
					"error":     err,
					"client_ip": c.ClientIP(),
					"method":    c.Request.Method,
					"path":      c.Request.URL.Path,
				}).Error("httpapi: request handler panic")
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// requestIDMiddleware forwards an inbound X-Request-ID or generates one,
// matching pkg/middleware/middleware.go's RequestIDMiddleware.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}
