// Package pgexec applies commands to a real Postgres instance. A node daemon
// configured with a DSN routes replayed DDL and privilege changes through an
// Executor in addition to its local catalog, making the catalog a view of an
// actual server rather than a standalone store.
package pgexec

import (
	"context"
	"embed"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Executor runs commands against Postgres through a connection pool.
type Executor struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New connects to dsn, verifies the connection, and bootstraps the metadata
// schema from the embedded migrations.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Executor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parsing postgres dsn")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "creating postgres pool")
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pinging postgres")
	}

	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("connected to postgres")
	return &Executor{pool: pool, logger: logger}, nil
}

func runMigrations(dsn string) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return errors.Wrap(err, "loading embedded migrations")
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return errors.Wrap(err, "creating migration instance")
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "running migrations")
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

// Apply executes one command. Create/drop database cannot run inside a
// transaction block, so every command runs on its own connection in
// autocommit mode.
func (e *Executor) Apply(ctx context.Context, command string) error {
	e.logger.Debug("applying command to postgres", zap.String("command", command))
	if _, err := e.pool.Exec(ctx, command); err != nil {
		return errors.Wrapf(err, "applying %q", command)
	}
	return nil
}

// Close releases the pool.
func (e *Executor) Close() {
	e.pool.Close()
}
