// Package logger builds the structured loggers used across filegate.
//
// Loggers are plain *slog.Logger values. Every record is enriched with the
// request id, tenant id and actor id found on the context, so pipeline code
// only has to log what happened:
//
//	ctx = logger.WithTenant(ctx, "tenant-a")
//	ctx = logger.WithActor(ctx, "user-1")
//
//	log := logger.New(slog.LevelInfo)
//	log.WarnContext(ctx, "upload rejected", slog.String("reason", "TYPE_MISMATCH"))
//	// {"level":"WARN","msg":"upload rejected","reason":"TYPE_MISMATCH","tenant_id":"tenant-a","actor_id":"user-1"}
//
// NewWithSentry additionally forwards warnings and errors to Sentry and falls
// back to stdout only when no DSN is configured.
//
// NewNope returns a logger that discards everything; components use it when
// no logger is supplied.
package logger
