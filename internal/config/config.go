// Package config loads zplaces settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Key-value store backends.
const (
	StoreZstore = "zstore"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Review store backends.
const (
	ReviewsLocal     = "local"
	ReviewsDatastore = "datastore"
)

// Config holds process settings.
type Config struct {
	DataDir            string        `env:"ZPLACES_DATA_DIR"`
	Store              string        `env:"ZPLACES_STORE"              envDefault:"zstore"`
	StorePassphrase    string        `env:"ZPLACES_STORE_PASSPHRASE"`
	VaultSecret        string        `env:"ZPLACES_VAULT_SECRET,required,notEmpty"`
	Reviews            string        `env:"ZPLACES_REVIEWS"            envDefault:"local"`
	DatastoreProject   string        `env:"ZPLACES_DATASTORE_PROJECT"`
	DatastoreNamespace string        `env:"ZPLACES_DATASTORE_NAMESPACE"`
	PhotoBaseURL       string        `env:"ZPLACES_PHOTO_BASE_URL"`
	ResetTokenTTL      time.Duration `env:"ZPLACES_RESET_TOKEN_TTL"     envDefault:"1h"`
	LogLevel           string        `env:"ZPLACES_LOG_LEVEL"           envDefault:"info"`
}

// Load parses the environment, fills derived defaults and validates.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DataDir()
	}
	if cfg.PhotoBaseURL == "" {
		cfg.PhotoBaseURL = "file://" + cfg.PhotoDir()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks backend names and their required settings.
func (c Config) Validate() error {
	var errs []error

	switch c.Store {
	case StoreZstore, StoreSQLite, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}

	switch c.Reviews {
	case ReviewsLocal:
	case ReviewsDatastore:
		if c.DatastoreProject == "" {
			errs = append(errs, errors.New("datastore reviews need ZPLACES_DATASTORE_PROJECT"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown review store %q", c.Reviews))
	}

	if c.ResetTokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("reset token ttl must be positive, got %s", c.ResetTokenTTL))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Level returns the configured slog level.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level: %w", err)
	}
	return l, nil
}

// StoreDir is where the encrypted zstore lives.
func (c Config) StoreDir() string {
	return filepath.Join(c.DataDir, "store")
}

// SQLitePath is the sqlite database file.
func (c Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "zplaces.db")
}

// PhotoDir holds uploaded review photos.
func (c Config) PhotoDir() string {
	return filepath.Join(c.DataDir, "photos")
}

// ReviewDir holds the local review collection.
func (c Config) ReviewDir() string {
	return filepath.Join(c.DataDir, "reviews")
}

// DataDir returns the default data directory for zplaces.
func DataDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return d + "/zplaces"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zplaces"
	}
	return home + "/.local/share/zplaces"
}
