package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestDataDir(t *testing.T) {
	tests := []struct {
		name string
		xdg  string
		want string
	}{
		{
			name: "xdg set",
			xdg:  "/custom/data",
			want: "/custom/data/zplaces",
		},
		{
			name: "xdg empty falls back to home",
			xdg:  "",
			want: "/.local/share/zplaces",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDG_DATA_HOME", tt.xdg)

			got := DataDir()
			if tt.xdg != "" {
				if got != tt.want {
					t.Errorf("DataDir() = %s, want %s", got, tt.want)
				}
			} else {
				if !strings.HasSuffix(got, tt.want) {
					t.Errorf("DataDir() = %s, want suffix %s", got, tt.want)
				}
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ZPLACES_VAULT_SECRET", "s3cret")
	t.Setenv("ZPLACES_DATA_DIR", "/tmp/zp")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreZstore {
		t.Errorf("store = %q", cfg.Store)
	}
	if cfg.Reviews != ReviewsLocal {
		t.Errorf("reviews = %q", cfg.Reviews)
	}
	if cfg.ResetTokenTTL != time.Hour {
		t.Errorf("reset ttl = %s", cfg.ResetTokenTTL)
	}
	if cfg.PhotoBaseURL != "file:///tmp/zp/photos" {
		t.Errorf("photo base url = %q", cfg.PhotoBaseURL)
	}
	if cfg.SQLitePath() != "/tmp/zp/zplaces.db" {
		t.Errorf("sqlite path = %q", cfg.SQLitePath())
	}
	if l, _ := cfg.Level(); l != slog.LevelInfo {
		t.Errorf("level = %v", l)
	}
}

func TestLoadRequiresVaultSecret(t *testing.T) {
	t.Setenv("ZPLACES_VAULT_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadBadDuration(t *testing.T) {
	t.Setenv("ZPLACES_VAULT_SECRET", "s3cret")
	t.Setenv("ZPLACES_RESET_TOKEN_TTL", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Store:         StoreSQLite,
		Reviews:       ReviewsLocal,
		ResetTokenTTL: time.Hour,
		LogLevel:      "debug",
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"memory store", func(c *Config) { c.Store = StoreMemory }, ""},
		{"unknown store", func(c *Config) { c.Store = "redis" }, "unknown store"},
		{"unknown reviews", func(c *Config) { c.Reviews = "s3" }, "unknown review store"},
		{"datastore without project", func(c *Config) { c.Reviews = ReviewsDatastore }, "ZPLACES_DATASTORE_PROJECT"},
		{"datastore with project", func(c *Config) {
			c.Reviews = ReviewsDatastore
			c.DatastoreProject = "places"
		}, ""},
		{"zero ttl", func(c *Config) { c.ResetTokenTTL = 0 }, "ttl"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
