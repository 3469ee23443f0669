// Package middleware provides HTTP middleware for the plugin admin surface.
// This file implements trace-id/request-id generation and propagation.
//
// X-Trace-ID identifies a logical operation across service boundaries: if
// the inbound request carries one, it is preserved; otherwise a fresh one
// is minted. X-Request-ID identifies this specific HTTP request and is
// always freshly generated, even when the client supplies one upstream.
// Both are echoed on the response and available to handlers for log
// correlation and for propagation onto outbound calls.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	TraceIDHeader = "X-Trace-ID"
	RequestIDHeader = "X-Request-ID"

	TraceIDKey   = "trace_id"
	RequestIDKey = "request_id"
)

// hexID returns a 32-char hex identifier (a UUIDv4 with separators removed).
func hexID() string {
	id := uuid.New()
	return id.String()[0:8] + id.String()[9:13] + id.String()[14:18] + id.String()[19:23] + id.String()[24:]
}

// RequestID middleware mints trace_id/request_id for each request and
// stores both in the Gin context for handlers and downstream logging.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = hexID()
		}
		requestID := hexID()

		c.Set(TraceIDKey, traceID)
		c.Set(RequestIDKey, requestID)

		c.Header(TraceIDHeader, traceID)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// GetRequestID retrieves the request ID from the Gin context.
func GetRequestID(c *gin.Context) string {
	if v, exists := c.Get(RequestIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// GetTraceID retrieves the trace ID from the Gin context.
func GetTraceID(c *gin.Context) string {
	if v, exists := c.Get(TraceIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
