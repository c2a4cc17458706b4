// Package config loads runtime configuration from the environment (and
// an optional .env file) using caarlos0/env/v11 and joho/godotenv:
// struct tags declare defaults, env.Parse fills the struct, and
// Validate enforces the cross-field sanity rules the engine depends
// on.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every runtime knob the service reads at startup.
type Config struct {
	// Domain knobs.
	BitCount          int    `env:"BITFEED_N" envDefault:"1000000"`
	KeyframePeriod    uint64 `env:"BITFEED_K" envDefault:"100"`
	ReplayBufferSize  int    `env:"BITFEED_B" envDefault:"1000"`
	MaxCatchupFrames  uint64 `env:"BITFEED_MAX_CATCHUP_FRAMES" envDefault:"500"`
	SubscriberQueue   int    `env:"BITFEED_Q" envDefault:"100"`

	// Transport.
	ListenAddr string `env:"BITFEED_LISTEN_ADDR" envDefault:":8080"`
	WSPath     string `env:"BITFEED_WS_PATH" envDefault:"/ws"`

	// Ingress.
	NATSURL     string `env:"BITFEED_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NATSSubject string `env:"BITFEED_NATS_SUBJECT" envDefault:"bitfeed.changes"`
	IngressRate int     `env:"BITFEED_INGRESS_RATE" envDefault:"0"` // 0 disables the limiter

	// Logging.
	LogLevel  string `env:"BITFEED_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"BITFEED_LOG_FORMAT" envDefault:"json"`

	// Shutdown.
	ShutdownTimeout time.Duration `env:"BITFEED_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads .env (if present), parses environment variables into a
// Config, and validates it. logger may be nil during tests.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if logger != nil {
		logger.Info().Msg("configuration loaded and validated")
	}

	return cfg, nil
}

// Validate enforces the sanity rules the engine depends on: the
// keyframe period and the catch-up bound must both fit inside the
// retained replay window.
func (c *Config) Validate() error {
	if c.BitCount < 1 {
		return fmt.Errorf("BITFEED_N must be > 0, got %d", c.BitCount)
	}
	if c.KeyframePeriod < 1 {
		return fmt.Errorf("BITFEED_K must be > 0, got %d", c.KeyframePeriod)
	}
	if c.ReplayBufferSize < 1 {
		return fmt.Errorf("BITFEED_B must be > 0, got %d", c.ReplayBufferSize)
	}
	if c.SubscriberQueue < 1 {
		return fmt.Errorf("BITFEED_Q must be > 0, got %d", c.SubscriberQueue)
	}
	if c.KeyframePeriod > uint64(c.ReplayBufferSize) {
		return fmt.Errorf("BITFEED_K (%d) must be <= BITFEED_B (%d)", c.KeyframePeriod, c.ReplayBufferSize)
	}
	if c.MaxCatchupFrames > uint64(c.ReplayBufferSize) {
		return fmt.Errorf("BITFEED_MAX_CATCHUP_FRAMES (%d) must be <= BITFEED_B (%d)", c.MaxCatchupFrames, c.ReplayBufferSize)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("BITFEED_LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("BITFEED_LOG_FORMAT must be one of json, console (got %q)", c.LogFormat)
	}

	return nil
}
