// Package logger configures the process-wide structured logger.
//
// Every log line is a single JSON object (a console line when Initialize
// is called with pretty output) with timestamp (RFC 3339 with offset),
// level, message, and a logger/component field; trace_id and request_id
// are attached by FromContext to any context built with WithTraceIDs.
package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide base logger. Component loggers derive from it.
var Log zerolog.Logger

// Initialize sets up the global logger with the given level and format.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)
	zerolog.TimeFieldFormat = time.RFC3339

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	Log = log.With().
		Str("service", "listingcore").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

// contextKey avoids collisions with other packages' context keys.
type contextKey int

const (
	traceIDKey contextKey = iota
	requestIDKey
)

// WithTraceIDs returns a context carrying trace_id and request_id for later
// retrieval by FromContext; both propagate unchanged to any child event
// derived from this context.
func WithTraceIDs(ctx context.Context, traceID, requestID string) context.Context {
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	return ctx
}

// FromContext returns a logger annotated with trace_id/request_id pulled
// from ctx, if present.
func FromContext(ctx context.Context) *zerolog.Logger {
	l := Log.With().Logger()
	if v, ok := ctx.Value(traceIDKey).(string); ok && v != "" {
		l = l.With().Str("trace_id", v).Logger()
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		l = l.With().Str("request_id", v).Logger()
	}
	return &l
}

// PluginManager creates a logger for plugin-lifecycle events.
func PluginManager() *zerolog.Logger {
	l := Log.With().Str("component", "plugin_manager").Logger()
	return &l
}

// Orchestrator creates a logger for the processing orchestrator.
func Orchestrator() *zerolog.Logger {
	l := Log.With().Str("component", "orchestrator").Logger()
	return &l
}

// Scoring creates a logger for the risk-scoring orchestrator.
func Scoring() *zerolog.Logger {
	l := Log.With().Str("component", "scoring").Logger()
	return &l
}

// Queue creates a logger for queue backend events.
func Queue() *zerolog.Logger {
	l := Log.With().Str("component", "queue").Logger()
	return &l
}

// HTTP creates a logger for the plugin admin HTTP surface.
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}
