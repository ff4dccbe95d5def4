// Package bootstrap opens the backing store selected by configuration for the commands.
package bootstrap

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/padrededios/stepzy/internal/config"
	"github.com/padrededios/stepzy/internal/domain"
	"github.com/padrededios/stepzy/internal/outbox"
	"github.com/padrededios/stepzy/internal/persistence/postgres"
	"github.com/padrededios/stepzy/internal/persistence/sqlite"
)

// Store bundles the repository and notifier the domain service runs on.
// Pool is nil unless the store is Postgres.
type Store struct {
	Driver     string
	Repository domain.Repository
	Notifier   domain.Notifier
	Pool       *pgxpool.Pool

	close func() error
}

// OpenStore connects to the configured store. Postgres is migrated and paired with
// the outbox emitter; SQLite gets an auto-migrated schema and logs notifications.
func OpenStore(ctx context.Context, cfg config.Config, logger *log.Logger) (*Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &Store{
			Driver:     cfg.StoreDriver,
			Repository: postgres.NewRepository(pool),
			Notifier:   outbox.NewEmitter(pool),
			Pool:       pool,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil

	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		return &Store{
			Driver:     cfg.StoreDriver,
			Repository: sqlite.NewRepository(db),
			Notifier:   domain.LogNotifier{Logger: logger},
			close:      sqlDB.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// Service builds the domain service on top of the store.
func (s *Store) Service(cfg config.Config, logger *log.Logger) *domain.Service {
	return domain.NewService(s.Repository,
		domain.WithNotifier(s.Notifier),
		domain.WithLogger(logger),
		domain.WithLocation(cfg.Location()),
	)
}

// Close releases the store's connections.
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
