// Package config loads the settings of the social feed server from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the settings of the server. Every field can be set with a
// SOCIALFEED_ prefixed environment variable or, failing that, the bare name.
type Config struct {
	Addr string `envconfig:"ADDR" default:":8080"`

	// A postgres:// URL selects PostgreSQL, anything else is opened with
	// SQLite.
	DatabaseURL string `envconfig:"DATABASE_URL" default:"file:socialfeed.db?cache=shared"`

	// Empty disables the cache.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// Requests per second allowed per caller; 0 disables rate limiting.
	RateLimit float64 `envconfig:"RATE_LIMIT" default:"20"`
	RateBurst int     `envconfig:"RATE_BURST" default:"40"`

	MaxAttempts     int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	UnreadTTL       time.Duration `envconfig:"UNREAD_TTL" default:"1m"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("socialfeed", &c); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	if c.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return Config{}, err
	}
	return c, nil
}
