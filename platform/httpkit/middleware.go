// Package httpkit provides HTTP middleware infrastructure.
// This is part of the platform layer and contains no business logic.
package httpkit

import (
	"context"
	"strings"
	"time"

	"lead_lifecycle_engine/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderRequestID carries the caller-provided request id.
	HeaderRequestID = "X-Request-ID"
	// HeaderActorID carries the acting user recorded on audit entries.
	HeaderActorID = "X-Actor-ID"
)

// RequestLogger logs HTTP requests with timing.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		log.HTTPRequest(c.Request.Method, path, c.Writer.Status(), float64(latency.Milliseconds()), c.ClientIP())
	}
}

// RequestContext copies the request and actor ids into the request context so
// services and the logger can pick them up.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(HeaderRequestID, requestID)

		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey, requestID)
		if actor := strings.TrimSpace(c.GetHeader(HeaderActorID)); actor != "" {
			ctx = context.WithValue(ctx, logger.ActorIDKey, actor)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ActorFromContext returns the actor id set by RequestContext, or fallback.
func ActorFromContext(ctx context.Context, fallback string) string {
	if actor, ok := ctx.Value(logger.ActorIDKey).(string); ok && actor != "" {
		return actor
	}
	return fallback
}

// SecurityHeaders adds security headers to responses.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
