// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for the account synchronizer.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config is the top-level configuration structure for a running
// AccountSynchronizer. It is validated immediately after load; a Config
// that fails validation must never reach AccountSynchronizer construction
// (the "Invalid argument: Public API misuse" error kind is realized here).
type Config struct {
	DataDir string        `toml:"data_dir"`
	Retry   RetryConfig   `toml:"retry"`
	Sync    SyncConfig    `toml:"sync"`
	Auth    AuthConfig    `toml:"auth"`
	Logging LoggingConfig `toml:"logging"`
}

// RetryConfig controls the remote client's backoff policy (§6.2 request
// context: max retry count, exponential-backoff flag).
type RetryConfig struct {
	BaseDelay       string  `toml:"base_delay" validate:"required"`
	MaxDelay        string  `toml:"max_delay" validate:"required"`
	MaxRetries      int     `toml:"max_retries" validate:"gte=0,lte=20"`
	JitterFraction  float64 `toml:"jitter_fraction" validate:"gte=0,lte=1"`
}

// SyncConfig controls the Account Synchronizer's download/send behavior.
type SyncConfig struct {
	MaxInFlightDownloads int    `toml:"max_in_flight_downloads" validate:"required,gt=0"`
	SyncChunkMaxEntries  int    `toml:"sync_chunk_max_entries" validate:"required,gt=0"`
	DefaultRateLimitWait string `toml:"default_rate_limit_wait" validate:"required"`
}

// AuthConfig controls authentication-info caching.
type AuthConfig struct {
	// ExpirySafetyMargin is subtracted from authTokenExpirationTime when
	// deciding whether a cached token is still usable (§4.4's 10-minute
	// cushion).
	ExpirySafetyMargin string `toml:"expiry_safety_margin" validate:"required"`
}

// LoggingConfig controls the injected slog handler's behavior.
type LoggingConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

// Default returns a Config with sensible defaults, matching the values
// named throughout spec.md (maxInFlightDownloads default 100, 10-minute
// auth safety margin).
func Default() Config {
	return Config{
		DataDir: DefaultDataDir(),
		Retry: RetryConfig{
			BaseDelay:      "1s",
			MaxDelay:       "60s",
			MaxRetries:     5,
			JitterFraction: 0.25,
		},
		Sync: SyncConfig{
			MaxInFlightDownloads: 100,
			SyncChunkMaxEntries:  200,
			DefaultRateLimitWait: "30s",
		},
		Auth: AuthConfig{
			ExpirySafetyMargin: "10m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses a TOML config file at path, then validates it.
// A missing file is not an error: it returns Default().
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, Validate(cfg)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, Validate(cfg)
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	return cfg, Validate(cfg)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate runs struct-tag validation over cfg. A validation failure is
// always a caller/configuration mistake, never a runtime condition, so
// callers should fail construction rather than retry.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}

	return nil
}
