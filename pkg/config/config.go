package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds all tollgate configuration.
type Config struct {
	Listen string      `yaml:"listen"`
	Store  StoreConfig `yaml:"store"`
	Redis  RedisConfig `yaml:"redis"`
	Auth   AuthConfig  `yaml:"auth"`
	CORS   CORSConfig  `yaml:"cors"`
	Meter  MeterConfig `yaml:"meter"`
	Log    LogConfig   `yaml:"log"`
}

// StoreConfig selects the relational store. Driver is "sqlite" (default) or "postgres".
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig enables the reload claim store when URL is set.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig controls actor identification.
// When JWTSecret is empty the actor is taken from the X-Actor-ID header.
type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret"`
	PlatformOwnerID string `yaml:"platform_owner_id"`
}

// CORSConfig lists dashboard origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MeterConfig tunes cost estimation and ledger scans.
type MeterConfig struct {
	FallbackInputTokens  int64         `yaml:"fallback_input_tokens"`
	FallbackOutputTokens int64         `yaml:"fallback_output_tokens"`
	MaxEvents            int           `yaml:"max_events"`
	ScanTimeout          time.Duration `yaml:"scan_timeout"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "tollgate.db",
		},
		Meter: MeterConfig{
			FallbackInputTokens:  650,
			FallbackOutputTokens: 300,
			MaxEvents:            100000,
			ScanTimeout:          10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("config: store.dsn is required")
	}
	if c.Meter.MaxEvents < 0 {
		return fmt.Errorf("config: meter.max_events must not be negative")
	}
	if c.Meter.ScanTimeout < 0 {
		return fmt.Errorf("config: meter.scan_timeout must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	return nil
}

// NewLogger builds a zap logger from the log section.
func (l LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	// stdout carries command output and the MCP stream
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
