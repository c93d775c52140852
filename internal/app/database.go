package app

import (
	"context"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/prn-tf/vidsnag/internal/cache/memory"
	rediscache "github.com/prn-tf/vidsnag/internal/cache/redis"
	"github.com/prn-tf/vidsnag/internal/config"
	"github.com/prn-tf/vidsnag/internal/lock"
	"github.com/prn-tf/vidsnag/internal/repository"
	"github.com/prn-tf/vidsnag/internal/repository/postgres"
	"github.com/prn-tf/vidsnag/internal/repository/sqlite"
)

// Store is an open database backend.
type Store struct {
	Repos  repository.Repositories
	Health repository.DatabaseHealth
	Driver string

	migrate     func(ctx context.Context) error
	newMigrator func() (*goose.Provider, func() error, error)
}

// OpenStore connects to the backend selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		db, err := sqlite.NewDB(ctx, sqlite.ConfigFrom(cfg), logger)
		if err != nil {
			return nil, err
		}
		return &Store{
			Repos:   *db.Repositories(),
			Health:  db,
			Driver:  "sqlite",
			migrate: db.Migrate,
			newMigrator: func() (*goose.Provider, func() error, error) {
				p, err := db.NewMigrator()
				return p, func() error { return nil }, err
			},
		}, nil

	case "postgres":
		db, err := postgres.NewDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Store{
			Repos:       *db.Repositories(),
			Health:      db,
			Driver:      "postgres",
			migrate:     db.Migrate,
			newMigrator: db.NewMigrator,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Migrate applies all pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return s.migrate(ctx)
}

// NewMigrator returns a goose provider for the backend and a function
// releasing its resources.
func (s *Store) NewMigrator() (*goose.Provider, func() error, error) {
	return s.newMigrator()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.Health.Close()
}

// Coordination holds the cache and locker shared by sessions, rate
// limiting and the analyze lock.
type Coordination struct {
	Cache  repository.Cache
	Locker lock.Locker

	close func() error
}

// OpenCoordination uses Redis when enabled and process memory otherwise.
func OpenCoordination(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*Coordination, error) {
	if !cfg.Enabled {
		c := memory.NewCache()
		l := lock.NewMemoryLocker()
		logger.Info().Msg("using in-memory cache and locks")
		return &Coordination{
			Cache:  c,
			Locker: l,
			close: func() error {
				c.Stop()
				l.Stop()
				return nil
			},
		}, nil
	}

	client, err := rediscache.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("addr", cfg.Addr()).Int("db", cfg.DB).Msg("connected to Redis")

	return &Coordination{
		Cache:  rediscache.NewCache(client, cfg.KeyPrefix),
		Locker: lock.NewRedisLocker(client, cfg.KeyPrefix),
		close:  client.Close,
	}, nil
}

// Close releases the cache and locker.
func (c *Coordination) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}
