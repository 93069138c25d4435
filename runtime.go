package filegate

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/filegate/pkg/audit"
	"github.com/dmitrymomot/filegate/pkg/blob"
	"github.com/dmitrymomot/filegate/pkg/catalog"
	"github.com/dmitrymomot/filegate/pkg/db"
	"github.com/dmitrymomot/filegate/pkg/health"
	"github.com/dmitrymomot/filegate/pkg/logger"
	"github.com/dmitrymomot/filegate/pkg/pathlock"
	"github.com/dmitrymomot/filegate/pkg/purge"
	"github.com/dmitrymomot/filegate/pkg/redis"
)

const cachePrefix = "filegate:file"

// Runtime is a Service together with the resources it was built on.
type Runtime struct {
	*Service

	purger    *purge.Purger
	scheduler *purge.Scheduler
	checks    health.Checks
	log       *slog.Logger

	// shutdownHooks run in reverse order on Close.
	shutdownHooks []func(context.Context) error
}

// Open connects everything cfg describes and returns a ready Runtime.
//
// Payloads go to the local directory or the S3 bucket of cfg. With a database
// URL, records and audit entries are kept in Postgres (migrated on open) and
// deleted files are purged on PurgeSchedule; otherwise records are kept in
// memory. With a Redis URL, records are cached and storage path locks are
// shared through Redis.
//
// opts are applied after the options derived from cfg, so they win.
// On error every resource opened so far is released.
func Open(ctx context.Context, cfg Config, opts ...Option) (_ *Runtime, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.NewWithSentry(cfg.Sentry, logger.ParseLevel(cfg.LogLevel))
	rt := &Runtime{checks: health.Checks{}, log: log}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	blobs, err := openBlobStore(cfg)
	if err != nil {
		return nil, err
	}
	rt.checks["storage"] = blobs.Healthcheck()

	var (
		store    catalog.Store  = catalog.NewMemory()
		recorder audit.Recorder = audit.NewLog(log)
		locker   pathlock.Locker
		pool     *pgxpool.Pool
	)

	if cfg.Database.ConnectionString != "" {
		pool, err = db.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		rt.shutdownHooks = append(rt.shutdownHooks, db.Shutdown(pool))
		rt.checks["postgres"] = db.Healthcheck(pool)

		if err = db.Migrate(ctx, pool, cfg.Database.MigrationsTable, log); err != nil {
			return nil, err
		}
		store = catalog.NewPostgres(pool)
		recorder = audit.Multi(recorder, audit.NewPostgres(pool))
	}

	if cfg.Redis.URL != "" {
		client, err := redis.Open(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		rt.shutdownHooks = append(rt.shutdownHooks, redis.Shutdown(client))
		rt.checks["redis"] = redis.Healthcheck(client)

		store = catalog.NewCached(store, catalog.NewRedisCache(client, cachePrefix, cfg.CacheTTL), log)
		locker = pathlock.NewRedis(client, pathlock.WithTTL(cfg.LockTTL))
	}

	purgeOpts := []purge.Option{
		purge.WithRetention(cfg.PurgeAfter),
		purge.WithLogger(log),
	}
	if pool != nil {
		purgeOpts = append(purgeOpts, purge.WithTransactions(pool))
	}
	rt.purger = purge.New(store, blobs, purgeOpts...)

	if pool != nil {
		rt.scheduler, err = purge.NewScheduler(pool, rt.purger, cfg.PurgeSchedule)
		if err != nil {
			return nil, err
		}
		if err = rt.scheduler.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	base := []Option{WithLogger(log), WithRecorder(recorder), WithLocker(locker)}
	rt.Service, err = New(cfg, store, blobs, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	return rt, nil
}

type healthChecker interface {
	blob.Store
	Healthcheck() func(context.Context) error
}

func openBlobStore(cfg Config) (healthChecker, error) {
	if strings.EqualFold(cfg.StorageBackend, BackendS3) {
		return blob.NewS3(cfg.S3)
	}
	return blob.NewLocal(cfg.StorageRoot, blob.WithBaseURL(cfg.PublicBaseURL))
}

// Start starts the purge schedule, if there is one.
func (rt *Runtime) Start(ctx context.Context) error {
	if rt.scheduler == nil {
		return nil
	}
	return rt.scheduler.Start(ctx)
}

// Purge removes one batch of expired deleted files now.
func (rt *Runtime) Purge(ctx context.Context) (purge.Result, error) {
	return rt.purger.Run(ctx)
}

// Health checks every backing resource.
func (rt *Runtime) Health(ctx context.Context) *health.Report {
	return health.Run(ctx, rt.checks, health.WithLogger(rt.log))
}

// Close stops the purge schedule and releases connections.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.scheduler != nil {
		if err := rt.scheduler.Stop(ctx); err != nil && !errors.Is(err, purge.ErrNotStarted) {
			errs = append(errs, err)
		}
	}
	for i := len(rt.shutdownHooks) - 1; i >= 0; i-- {
		if err := rt.shutdownHooks[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.shutdownHooks = nil
	return errors.Join(errs...)
}
