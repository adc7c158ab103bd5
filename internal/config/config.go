// Package config loads the bank CLI settings from BANK_* environment
// variables. Command-line flags override them.
package config

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/caarlos0/env/v11"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the CLI configuration.
type Config struct {
	Store    string     `env:"BANK_STORE"     envDefault:"memory"`
	DSN      string     `env:"BANK_DSN"       envDefault:"bank.db"`
	Format   string     `env:"BANK_FORMAT"    envDefault:"text"`
	NATSURL  string     `env:"BANK_NATS_URL"`
	LogLevel slog.Level `env:"BANK_LOG_LEVEL" envDefault:"WARN"`
}

// Load parses the environment and validates the result.
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

// Validate checks the enumerated settings.
func (c Config) Validate() error {
	if !slices.Contains([]string{StoreMemory, StoreSQLite}, c.Store) {
		return fmt.Errorf("invalid store %q: must be %s or %s", c.Store, StoreMemory, StoreSQLite)
	}
	if !slices.Contains([]string{FormatText, FormatJSON}, c.Format) {
		return fmt.Errorf("invalid format %q: must be %s or %s", c.Format, FormatText, FormatJSON)
	}
	if c.Store == StoreSQLite && c.DSN == "" {
		return fmt.Errorf("store %s needs a DSN", StoreSQLite)
	}
	return nil
}
