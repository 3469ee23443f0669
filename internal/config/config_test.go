package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "memory", cfg.QueueBackend)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.PipelineDeadline)
	assert.Equal(t, 10*time.Second, cfg.ScoringDeadline)
	assert.InDelta(t, 0.5, cfg.ConfidenceThreshold, 0.0001)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CORE_HTTP_PORT", "9090")
	t.Setenv("CORE_QUEUE_BACKEND", "redis")
	t.Setenv("CORE_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("CORE_MAX_RETRIES", "5")
	t.Setenv("CORE_PIPELINE_DEADLINE", "90s")
	t.Setenv("CORE_CONFIDENCE_THRESHOLD", "0.7")
	t.Setenv("CORE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "redis", cfg.QueueBackend)
	assert.Equal(t, "redis.internal:6379", cfg.RedisAddr)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 90*time.Second, cfg.PipelineDeadline)
	assert.InDelta(t, 0.7, cfg.ConfidenceThreshold, 0.0001)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_BareSecondsDuration(t *testing.T) {
	t.Setenv("CORE_SHUTDOWN_DEADLINE", "45")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.ShutdownDeadline)
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown queue backend", "CORE_QUEUE_BACKEND", "kafka"},
		{"unknown log level", "CORE_LOG_LEVEL", "chatty"},
		{"out-of-range confidence", "CORE_CONFIDENCE_THRESHOLD", "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
