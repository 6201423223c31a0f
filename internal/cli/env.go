package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/datastore"
	"github.com/zarlcorp/core/pkg/zfilesystem"
	"github.com/zarlcorp/core/pkg/zstore"
	"github.com/zarlcorp/zplaces/internal/auth"
	"github.com/zarlcorp/zplaces/internal/config"
	"github.com/zarlcorp/zplaces/internal/kv"
	"github.com/zarlcorp/zplaces/internal/migrate"
	"github.com/zarlcorp/zplaces/internal/photo"
	"github.com/zarlcorp/zplaces/internal/review"
	"github.com/zarlcorp/zplaces/internal/review/cloud"
	"github.com/zarlcorp/zplaces/internal/review/local"
	"github.com/zarlcorp/zplaces/internal/stats"
	"github.com/zarlcorp/zplaces/internal/userdata"
	"github.com/zarlcorp/zplaces/internal/vault"
)

// Env is the wired application: storage, vault and the services on top.
type Env struct {
	KV      kv.Store
	Data    *userdata.Store
	Vault   *vault.Vault
	Stats   *stats.Tracker
	Reviews *review.Service
	Migrate *migrate.Engine
	Auth    *auth.Resolver

	// Out receives command output.
	Out io.Writer
	// Prompt reads a secret from the user.
	Prompt func(prompt string) (string, error)

	closers []func() error
}

// Parts are the storage pieces Assemble wires together.
type Parts struct {
	KV      kv.Store
	Reviews review.Repository
	Photos  review.Uploader
}

// Assemble builds the services over p.
func Assemble(ctx context.Context, p Parts, cfg config.Config, log *slog.Logger) (*Env, error) {
	data := userdata.New(p.KV, userdata.WithLogger(log))

	v, err := vault.Open(ctx, p.KV, []byte(cfg.VaultSecret), vault.WithLogger(log))
	if err != nil {
		return nil, err
	}

	tracker := stats.New(data, stats.WithLogger(log))
	svc := review.NewService(p.Reviews, p.Photos, review.WithLogger(log))
	engine := migrate.New(data, svc, migrate.WithStats(tracker), migrate.WithLogger(log))

	opts := []auth.Option{
		auth.WithLogger(log),
		auth.WithMigrator(engine),
		auth.WithStats(tracker),
	}
	if cfg.ResetTokenTTL > 0 {
		opts = append(opts, auth.WithResetTokenTTL(cfg.ResetTokenTTL))
	}
	resolver := auth.New(data, v, opts...)

	return &Env{
		KV:      p.KV,
		Data:    data,
		Vault:   v,
		Stats:   tracker,
		Reviews: svc,
		Migrate: engine,
		Auth:    resolver,
		Out:     os.Stdout,
		Prompt: func(prompt string) (string, error) {
			return ReadPassword(prompt, os.Stderr)
		},
		closers: []func() error{v.Close},
	}, nil
}

// Open opens the configured backends and assembles an Env. The zstore
// passphrase is prompted for when the environment does not supply it.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*Env, error) {
	var closers []func() error
	fail := func(err error) (*Env, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	var (
		p  Parts
		zs *zstore.Store
	)

	switch cfg.Store {
	case config.StoreZstore:
		s, err := openZstore(cfg.StoreDir(), cfg.StorePassphrase)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, closeZstore(s))
		zs = s

		e, err := kv.NewEncrypted(s)
		if err != nil {
			return fail(err)
		}
		p.KV = e

	case config.StoreSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return fail(fmt.Errorf("create data dir: %w", err))
		}
		db, err := kv.OpenSQLite(cfg.SQLitePath())
		if err != nil {
			return fail(err)
		}
		closers = append(closers, db.Close)
		p.KV = db

	case config.StoreMemory:
		p.KV = kv.NewMemory()

	default:
		return fail(fmt.Errorf("unknown store %q", cfg.Store))
	}

	switch cfg.Reviews {
	case config.ReviewsLocal:
		if zs == nil {
			s, err := openReviewStore(cfg)
			if err != nil {
				return fail(err)
			}
			closers = append(closers, closeZstore(s))
			zs = s
		}
		repo, err := local.New(zs)
		if err != nil {
			return fail(err)
		}
		p.Reviews = repo

	case config.ReviewsDatastore:
		client, err := datastore.NewClient(ctx, cfg.DatastoreProject)
		if err != nil {
			return fail(fmt.Errorf("datastore client: %w", err))
		}
		closers = append(closers, client.Close)
		p.Reviews = cloud.New(client, cfg.DatastoreNamespace)

	default:
		return fail(fmt.Errorf("unknown review store %q", cfg.Reviews))
	}

	if cfg.Store == config.StoreMemory {
		p.Photos = photo.New(zfilesystem.NewMemFS(), cfg.PhotoBaseURL)
	} else {
		if err := os.MkdirAll(cfg.PhotoDir(), 0o700); err != nil {
			return fail(fmt.Errorf("create photo dir: %w", err))
		}
		p.Photos = photo.New(zfilesystem.NewOSFileSystem(cfg.PhotoDir()), cfg.PhotoBaseURL)
	}

	e, err := Assemble(ctx, p, cfg, log)
	if err != nil {
		return fail(err)
	}
	e.closers = append(e.closers, closers...)
	return e, nil
}

// Close releases every backend in reverse order of opening.
func (e *Env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// openReviewStore opens the zstore holding local reviews when the key-value
// store lives elsewhere.
func openReviewStore(cfg config.Config) (*zstore.Store, error) {
	if cfg.Store == config.StoreMemory {
		s, err := zstore.Open(zfilesystem.NewMemFS(), []byte(cfg.VaultSecret))
		if err != nil {
			return nil, fmt.Errorf("open review store: %w", err)
		}
		return s, nil
	}
	return openZstore(cfg.ReviewDir(), cfg.StorePassphrase)
}

func openZstore(dir, passphrase string) (*zstore.Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	pass := passphrase
	if pass == "" {
		var err error
		if IsFirstRun(dir) {
			pass, err = ReadNewPassword(os.Stderr)
		} else {
			pass, err = ReadPassword("store passphrase: ", os.Stderr)
		}
		if err != nil {
			return nil, err
		}
	}

	s, err := zstore.Open(zfilesystem.NewOSFileSystem(dir), []byte(pass))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}

func closeZstore(s *zstore.Store) func() error {
	return func() error {
		s.Close()
		return nil
	}
}
