// Package purge removes soft-deleted files once their retention has passed.
//
// Deleting a file through the pipeline only deactivates its record. The
// Purger later removes the payload and then the record, so a crash between
// the two leaves a record whose payload is already gone; the next run
// finishes it.
package purge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/filegate/pkg/blob"
	"github.com/dmitrymomot/filegate/pkg/catalog"
	"github.com/dmitrymomot/filegate/pkg/db"
	"github.com/dmitrymomot/filegate/pkg/logger"
)

const (
	DefaultRetention = 30 * 24 * time.Hour
	DefaultBatchSize = 100
)

var ErrPurge = errors.New("purge: some files could not be purged")

// Result summarises one run.
type Result struct {
	Purged int
	Failed int
}

// Purger hard-deletes expired soft-deleted files.
type Purger struct {
	store     catalog.Store
	blobs     blob.Store
	pool      *pgxpool.Pool
	retention time.Duration
	batch     int
	now       func() time.Time
	log       *slog.Logger
}

// Option configures a Purger.
type Option func(*Purger)

// WithRetention sets how long a deleted file is kept before purging.
// Zero makes every deleted file eligible on the next run.
func WithRetention(d time.Duration) Option {
	return func(p *Purger) {
		if d >= 0 {
			p.retention = d
		}
	}
}

// WithBatchSize caps the records handled per run.
func WithBatchSize(n int) Option {
	return func(p *Purger) {
		if n > 0 {
			p.batch = n
		}
	}
}

// WithClock sets the time source used to compute the cutoff.
func WithClock(now func() time.Time) Option {
	return func(p *Purger) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Purger) {
		if l != nil {
			p.log = l
		}
	}
}

// WithTransactions removes each record inside a transaction on pool that is
// committed only after the payload is gone. Use it when the records live in
// Postgres.
func WithTransactions(pool *pgxpool.Pool) Option {
	return func(p *Purger) {
		p.pool = pool
	}
}

// New creates a Purger.
func New(store catalog.Store, blobs blob.Store, opts ...Option) *Purger {
	p := &Purger{
		store:     store,
		blobs:     blobs,
		retention: DefaultRetention,
		batch:     DefaultBatchSize,
		now:       time.Now,
		log:       logger.NewNope(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run purges one batch of files deleted before now minus the retention.
// Failures on single files are logged and counted; the run continues.
func (p *Purger) Run(ctx context.Context) (Result, error) {
	cutoff := p.now().Add(-p.retention)
	candidates, err := p.store.PurgeCandidates(ctx, cutoff, p.batch)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, rec := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := p.purgeOne(ctx, rec); err != nil {
			res.Failed++
			p.log.ErrorContext(ctx, "failed to purge file",
				slog.String("file_id", rec.ID),
				slog.String("tenant_id", rec.TenantID),
				slog.Any("error", err),
			)
			continue
		}
		res.Purged++
	}

	if res.Purged > 0 || res.Failed > 0 {
		p.log.InfoContext(ctx, "purge finished",
			slog.Int("purged", res.Purged),
			slog.Int("failed", res.Failed),
		)
	}
	if res.Failed > 0 {
		return res, ErrPurge
	}
	return res, nil
}

func (p *Purger) purgeOne(ctx context.Context, rec catalog.Record) error {
	if p.pool == nil {
		if err := p.deleteBlob(ctx, rec.StoragePath); err != nil {
			return err
		}
		return p.store.Purge(ctx, rec.ID)
	}

	return db.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		if err := catalog.NewPostgres(tx).Purge(ctx, rec.ID); err != nil {
			return err
		}
		return p.deleteBlob(ctx, rec.StoragePath)
	})
}

func (p *Purger) deleteBlob(ctx context.Context, key string) error {
	if err := p.blobs.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return err
	}
	return nil
}
