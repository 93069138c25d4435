package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrations holds the schema of the files and file_audit_log tables.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool, migrationTable string, log *slog.Logger) error {
	sub, err := fs.Sub(Migrations, "migrations")
	if err != nil {
		return errors.Join(ErrMigrate, err)
	}
	return MigrateFS(ctx, pool, sub, migrationTable, log)
}

// MigrateFS applies goose migrations found at the root of fsys.
func MigrateFS(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, migrationTable string, log *slog.Logger) error {
	// The sql.DB shares the pool's connections; closing it would close the pool.
	db := stdlib.OpenDBFromPool(pool)

	if migrationTable == "" {
		migrationTable = DefaultConfig().MigrationsTable
	}

	goose.SetBaseFS(fsys)
	goose.SetLogger(&gooseLoggerAdapter{log})
	goose.SetTableName(migrationTable)

	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrMigrate, err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return errors.Join(ErrMigrate, err)
	}

	return nil
}

type gooseLoggerAdapter struct {
	log *slog.Logger
}

func (g *gooseLoggerAdapter) Printf(format string, args ...any) {
	g.log.Info(fmt.Sprintf(format, args...))
}

// Fatalf logs only; goose returns the error to the caller anyway.
func (g *gooseLoggerAdapter) Fatalf(format string, args ...any) {
	g.log.Error(fmt.Sprintf(format, args...))
}
