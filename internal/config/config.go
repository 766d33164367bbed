// Package config loads controller configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
)

// Config holds everything the controller process needs at startup.
type Config struct {
	Port     int    `validate:"min=1,max=65535"`
	LogLevel string `validate:"oneof=debug info warn error"`

	// Entity store.
	DatabaseURL string `validate:"required"`

	// Broker.
	RedisURL        string `validate:"required"`
	StreamPrefix    string
	StreamMaxLen    int64 `validate:"min=1"`
	ConsumerName    string
	HeartbeatWindow time.Duration `validate:"min=1s"`
	MonitorInterval time.Duration `validate:"min=100ms,max=1s"`

	// Blob store.
	BlobEndpoint  string `validate:"required"`
	BlobRegion    string
	BlobAccessKey string `validate:"required"`
	BlobSecretKey string `validate:"required"`
	BlobBucket    string `validate:"required"`
	BlobUseSSL    bool
	BlobRetries   int `validate:"min=1,max=10"`

	// Invocation defaults.
	DefaultTimeout time.Duration `validate:"min=100ms"`
}

// Load reads configuration from environment variables, applying the
// documented defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            envInt("PORT", 8080),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        envStr("REDIS_URL", "redis://localhost:6379/0"),
		StreamPrefix:    os.Getenv("STREAM_PREFIX"),
		StreamMaxLen:    int64(envInt("REDIS_STREAM_MAX_LEN", 10000)),
		ConsumerName:    envStr("CONSUMER_NAME", hostnameOr("controller")),
		HeartbeatWindow: envDuration("HEARTBEAT_WINDOW", 30*time.Second),
		MonitorInterval: envDuration("MONITOR_INTERVAL", time.Second),
		BlobEndpoint:    os.Getenv("BLOB_ENDPOINT"),
		BlobRegion:      envStr("BLOB_REGION", "us-east-1"),
		BlobAccessKey:   os.Getenv("BLOB_ACCESS_KEY"),
		BlobSecretKey:   os.Getenv("BLOB_SECRET_KEY"),
		BlobBucket:      envStr("BLOB_BUCKET", "actions"),
		BlobUseSSL:      envBool("BLOB_SSL", true),
		BlobRetries:     envInt("BLOB_MAX_RETRIES", 3),
		DefaultTimeout:  envDuration("DEFAULT_TIMEOUT", 60*time.Second),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func hostnameOr(def string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return def
}
