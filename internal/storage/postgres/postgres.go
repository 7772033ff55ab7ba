// Package postgres implements the storage ports of the ordering core on
// PostgreSQL using pgx.
package postgres

import (
	"context"
	"io/fs"
	"path"
	"slices"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/fresh-pickup/db"
)

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database config")
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}

	return pool, nil
}

// migrationLock is the advisory lock key serialising concurrent migrators.
const migrationLock = 0x7069636b7570

// RunMigrations applies the embedded migrations that have not been applied
// yet, in file name order, inside one transaction.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	names, err := fs.Glob(db.Migrations, "migrations/*.sql")
	if err != nil {
		return errors.Wrap(err, "list migrations")
	}
	slices.Sort(names)

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLock); err != nil {
			return errors.Wrap(err, "acquire migration lock")
		}
		if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
			return errors.Wrap(err, "create schema_migrations")
		}

		rows, err := tx.Query(ctx, "SELECT version FROM schema_migrations")
		if err != nil {
			return errors.Wrap(err, "query applied migrations")
		}
		applied, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return errors.Wrap(err, "scan applied migrations")
		}

		for _, name := range names {
			version := path.Base(name)
			if slices.Contains(applied, version) {
				continue
			}
			sql, err := fs.ReadFile(db.Migrations, name)
			if err != nil {
				return errors.Wrapf(err, "read %s", version)
			}
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return errors.Wrapf(err, "apply %s", version)
			}
			if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
				return errors.Wrapf(err, "record %s", version)
			}
		}
		return nil
	})
}
