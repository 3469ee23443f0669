// Package config loads the runtime's configuration in precedence order:
// process environment (highest), an optional .env file, then built-in
// defaults (lowest). The resolved Config is validated with struct tags
// before the process starts.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	appvalidator "github.com/listingcore/core/internal/validator"
)

// Config is the runtime's fully-resolved configuration.
type Config struct {
	// HTTP control surface.
	HTTPPort          int           `validate:"required,min=1,max=65535"`
	RequestTimeout    time.Duration `validate:"required"`
	MaxRequestBytes   int64         `validate:"required,min=1"`
	RateLimitRPS      float64       `validate:"required,gt=0"`
	RateLimitBurst    int           `validate:"required,min=1"`

	// Plugin manager.
	PluginsDir string `validate:"required"`

	// Queue backend.
	QueueBackend string `validate:"required,oneof=memory redis"`
	RedisAddr    string
	RedisPassword string
	RedisDB      int

	// Lifecycle eventing.
	NATSURL      string
	NATSUser     string
	NATSPassword string

	// Orchestrator.
	MaxRetries           int           `validate:"required,min=1"`
	PipelineDeadline     time.Duration `validate:"required"`
	ShutdownDeadline     time.Duration `validate:"required"`
	ScoringDeadline      time.Duration `validate:"required"`
	ConfidenceThreshold  float64       `validate:"required,gt=0,lte=1"`

	// Logging.
	LogLevel  string `validate:"required,oneof=debug info warn error"`
	LogPretty bool
}

// Default returns the runtime's built-in defaults, before any
// environment override is applied.
func Default() Config {
	return Config{
		HTTPPort:            8080,
		RequestTimeout:      30 * time.Second,
		MaxRequestBytes:     5 * 1024 * 1024,
		RateLimitRPS:        50,
		RateLimitBurst:      100,
		PluginsDir:          "./plugins",
		QueueBackend:        "memory",
		RedisAddr:           "localhost:6379",
		RedisDB:             0,
		MaxRetries:          3,
		PipelineDeadline:    60 * time.Second,
		ShutdownDeadline:    10 * time.Second,
		ScoringDeadline:     10 * time.Second,
		ConfidenceThreshold: 0.5,
		LogLevel:            "info",
		LogPretty:           false,
	}
}

// Load resolves Config from (lowest to highest precedence): built-in
// defaults, an optional .env file (loaded via godotenv, silently skipped
// if absent), then CORE_* environment variables.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: loading %s: %w", envFile, err)
		}
	}

	cfg := Default()
	cfg.HTTPPort = getEnvInt("CORE_HTTP_PORT", cfg.HTTPPort)
	cfg.RequestTimeout = getEnvDuration("CORE_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.MaxRequestBytes = getEnvInt64("CORE_MAX_REQUEST_BYTES", cfg.MaxRequestBytes)
	cfg.RateLimitRPS = getEnvFloat("CORE_RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = getEnvInt("CORE_RATE_LIMIT_BURST", cfg.RateLimitBurst)

	cfg.PluginsDir = getEnvString("CORE_PLUGINS_DIR", cfg.PluginsDir)

	cfg.QueueBackend = getEnvString("CORE_QUEUE_BACKEND", cfg.QueueBackend)
	cfg.RedisAddr = getEnvString("CORE_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnvString("CORE_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("CORE_REDIS_DB", cfg.RedisDB)

	cfg.NATSURL = getEnvString("CORE_NATS_URL", cfg.NATSURL)
	cfg.NATSUser = getEnvString("CORE_NATS_USER", cfg.NATSUser)
	cfg.NATSPassword = getEnvString("CORE_NATS_PASSWORD", cfg.NATSPassword)

	cfg.MaxRetries = getEnvInt("CORE_MAX_RETRIES", cfg.MaxRetries)
	cfg.PipelineDeadline = getEnvDuration("CORE_PIPELINE_DEADLINE", cfg.PipelineDeadline)
	cfg.ShutdownDeadline = getEnvDuration("CORE_SHUTDOWN_DEADLINE", cfg.ShutdownDeadline)
	cfg.ScoringDeadline = getEnvDuration("CORE_SCORING_DEADLINE", cfg.ScoringDeadline)
	cfg.ConfidenceThreshold = getEnvFloat("CORE_CONFIDENCE_THRESHOLD", cfg.ConfidenceThreshold)

	cfg.LogLevel = getEnvString("CORE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = getEnvBool("CORE_LOG_PRETTY", cfg.LogPretty)

	if err := appvalidator.ValidateStruct(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if strings.HasSuffix(v, "s") || strings.HasSuffix(v, "m") || strings.HasSuffix(v, "h") || strings.HasSuffix(v, "ms") {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fallback
		}
		return d
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
