// Package config provides centralized configuration management.
// Every tunable of the server lives here; other packages receive plain
// values and never read the environment themselves.
//
// Each concern has a DefaultX constructor and an XFromEnv variant that
// applies environment overrides on top of the defaults.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// =============================================================================
// PLAYBACK CONFIGURATION
// =============================================================================

// PlaybackConfig holds the scrubber defaults applied to every session.
type PlaybackConfig struct {
	TickInterval time.Duration `env:"PLAYBACK_TICK_INTERVAL"`
	Multiplier   float64       `env:"PLAYBACK_MULTIPLIER"`
	DefaultSpeed float64       `env:"PLAYBACK_DEFAULT_SPEED"`
	Speeds       []float64     `env:"PLAYBACK_SPEEDS" envSeparator:","`
}

// DefaultPlayback returns the default playback configuration.
func DefaultPlayback() PlaybackConfig {
	return PlaybackConfig{
		TickInterval: 100 * time.Millisecond, // 10 clock evaluations per second
		Multiplier:   1.5,
		DefaultSpeed: 1,
		Speeds:       []float64{0.75, 1, 1.5, 2, 3, 4, 8},
	}
}

// PlaybackFromEnv returns playback configuration with environment overrides.
func PlaybackFromEnv() (PlaybackConfig, error) {
	cfg := DefaultPlayback()
	if err := parse(&cfg); err != nil {
		return cfg, err
	}
	if cfg.TickInterval <= 0 {
		return cfg, fmt.Errorf("PLAYBACK_TICK_INTERVAL must be positive, got %s", cfg.TickInterval)
	}
	if cfg.Multiplier <= 0 {
		return cfg, fmt.Errorf("PLAYBACK_MULTIPLIER must be positive, got %v", cfg.Multiplier)
	}
	if cfg.DefaultSpeed != 0 && !contains(cfg.Speeds, cfg.DefaultSpeed) {
		return cfg, fmt.Errorf("PLAYBACK_DEFAULT_SPEED %v is not one of %v", cfg.DefaultSpeed, cfg.Speeds)
	}
	return cfg, nil
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `env:"PORT"`
	MaxSessions     int           `env:"MAX_SESSIONS"`
	SessionIdle     time.Duration `env:"SESSION_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:","`

	// IngestToken guards the write routes. Empty disables authentication.
	IngestToken string `env:"INGEST_TOKEN"`
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:            3000,
		MaxSessions:     64,
		SessionIdle:     30 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
		CORSOrigins: []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		},
	}
}

// ServerFromEnv returns server configuration with environment overrides.
func ServerFromEnv() (ServerConfig, error) {
	cfg := DefaultServer()
	if err := parse(&cfg); err != nil {
		return cfg, err
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("PORT out of range: %d", cfg.Port)
	}
	return cfg, nil
}

// =============================================================================
// REQUEST LIMITS
// =============================================================================

// LimitsConfig controls DoS protection on the public listener.
type LimitsConfig struct {
	MaxMutationsPerRequest int     `env:"MAX_MUTATIONS_PER_REQUEST"`
	MaxBodyBytes           int64   `env:"MAX_BODY_BYTES"`
	RequestsPerSecond      float64 `env:"RATE_LIMIT_RPS"`
	Burst                  int     `env:"RATE_LIMIT_BURST"`
	MaxWSConnections       int     `env:"MAX_WS_CONNECTIONS"`
	MaxWSConnectionsPerIP  int     `env:"MAX_WS_CONNECTIONS_PER_IP"`

	// Per-session mutation budget, refilled continuously.
	IntakeMutationsPerSecond float64 `env:"INTAKE_MUTATIONS_PER_SECOND"`
	IntakeBurst              int     `env:"INTAKE_BURST"`
}

// DefaultLimits returns the default request limits.
func DefaultLimits() LimitsConfig {
	return LimitsConfig{
		MaxMutationsPerRequest: 50_000,
		MaxBodyBytes:           16 << 20, // 16 MiB
		RequestsPerSecond:      50,
		Burst:                  100,
		MaxWSConnections:       500,
		MaxWSConnectionsPerIP:  10,

		IntakeMutationsPerSecond: 20_000,
		IntakeBurst:              100_000,
	}
}

// LimitsFromEnv returns request limits with environment overrides.
func LimitsFromEnv() (LimitsConfig, error) {
	cfg := DefaultLimits()
	if err := parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// =============================================================================
// OBSERVABILITY
// =============================================================================

// ObservabilityConfig configures the debug listener (pprof, metrics, health).
type ObservabilityConfig struct {
	Enabled       bool   `env:"DEBUG_SERVER_ENABLED"`
	ListenAddr    string `env:"DEBUG_LISTEN_ADDR"`
	AllowExternal bool   `env:"ALLOW_DEBUG_EXTERNAL"`
	BasicAuthUser string `env:"DEBUG_BASIC_AUTH_USER"`
	BasicAuthPass string `env:"DEBUG_BASIC_AUTH_PASS"`
}

// DefaultObservability returns safe defaults: localhost only.
func DefaultObservability() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// ObservabilityFromEnv returns observability configuration with environment overrides.
func ObservabilityFromEnv() (ObservabilityConfig, error) {
	cfg := DefaultObservability()
	if err := parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// =============================================================================
// LOGGING
// =============================================================================

// LogConfig selects the core logger.
type LogConfig struct {
	Level       string `env:"LOG_LEVEL"`
	Development bool   `env:"LOG_DEVELOPMENT"`
}

// DefaultLog returns the default logging configuration.
func DefaultLog() LogConfig {
	return LogConfig{Level: "info"}
}

// LogFromEnv returns logging configuration with environment overrides.
func LogFromEnv() (LogConfig, error) {
	cfg := DefaultLog()
	if err := parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Playback      PlaybackConfig
	Server        ServerConfig
	Limits        LimitsConfig
	Observability ObservabilityConfig
	Log           LogConfig
}

// Default returns the complete configuration without environment overrides.
func Default() AppConfig {
	return AppConfig{
		Playback:      DefaultPlayback(),
		Server:        DefaultServer(),
		Limits:        DefaultLimits(),
		Observability: DefaultObservability(),
		Log:           DefaultLog(),
	}
}

// Load returns the complete configuration with environment overrides.
func Load() (AppConfig, error) {
	var (
		cfg AppConfig
		err error
	)
	if cfg.Playback, err = PlaybackFromEnv(); err != nil {
		return cfg, fmt.Errorf("playback config: %w", err)
	}
	if cfg.Server, err = ServerFromEnv(); err != nil {
		return cfg, fmt.Errorf("server config: %w", err)
	}
	if cfg.Limits, err = LimitsFromEnv(); err != nil {
		return cfg, fmt.Errorf("limits config: %w", err)
	}
	if cfg.Observability, err = ObservabilityFromEnv(); err != nil {
		return cfg, fmt.Errorf("observability config: %w", err)
	}
	if cfg.Log, err = LogFromEnv(); err != nil {
		return cfg, fmt.Errorf("log config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// parse overrides the fields of target whose variables are set.
func parse(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func contains(list []float64, v float64) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
