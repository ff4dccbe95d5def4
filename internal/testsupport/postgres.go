//go:build integration

// Package testsupport starts the containers integration tests run against.
package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/padrededios/stepzy/internal/persistence/postgres"
)

const postgresImage = "postgres:16-alpine"

// StartPostgres launches a Postgres container, applies the embedded migrations
// and returns a pool that is closed, with the container, when the test ends.
func StartPostgres(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	return StartPostgresWithMaxConns(ctx, t, 0)
}

// StartPostgresWithMaxConns is StartPostgres with the pool capped at maxConns
// connections. Zero keeps the pgxpool default.
func StartPostgresWithMaxConns(ctx context.Context, t *testing.T, maxConns int32) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.Run(ctx, postgresImage,
		postgrescontainer.WithDatabase("stepzy"),
		postgrescontainer.WithUsername("stepzy"),
		postgrescontainer.WithPassword("stepzy"),
		postgrescontainer.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	poolCfg, err := pgxpool.ParseConfig(connStr)
	require.NoError(t, err)
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))
	return pool
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
