// Package config loads bpflow settings from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds settings shared by every command. Flags override them.
type Config struct {
	DB         string        `env:"BPFLOW_DB"          envDefault:"bpflow.db"`
	LogLevel   string        `env:"BPFLOW_LOG_LEVEL"   envDefault:"info"`
	Format     string        `env:"BPFLOW_FORMAT"      envDefault:"text"`
	MaxActions int           `env:"BPFLOW_MAX_ACTIONS" envDefault:"10000"`
	Parallel   int           `env:"BPFLOW_PARALLEL"    envDefault:"4"`
	Timeout    time.Duration `env:"BPFLOW_TIMEOUT"     envDefault:"5s"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges env parsing cannot express.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("BPFLOW_FORMAT: unknown format %q (want text or json)", c.Format)
	}
	if c.MaxActions < 0 {
		return fmt.Errorf("BPFLOW_MAX_ACTIONS: must not be negative")
	}
	if c.Parallel < 1 {
		return fmt.Errorf("BPFLOW_PARALLEL: must be at least 1")
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("BPFLOW_LOG_LEVEL: %w", err)
	}
	return l, nil
}

// Logger builds the structured logger for w. Logs use JSON when the
// output format is json.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
