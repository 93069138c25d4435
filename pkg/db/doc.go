// Package db provides the PostgreSQL plumbing for file records and the audit
// trail: a pgx connection pool with startup retries, goose migrations embedded
// in the binary, a transaction helper and a health check.
//
//	pool, err := db.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := db.Migrate(ctx, pool, cfg.MigrationsTable, log); err != nil {
//		return err
//	}
//
// Errors are wrapped with [errors.Join] so callers can match the package
// sentinels and still see the driver error.
package db
