package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/filegate/pkg/logger"
)

// ErrCacheMiss is returned by a RecordCache that does not hold the id.
var ErrCacheMiss = errors.New("catalog: cache miss")

// RecordCache keeps active records by id.
//
// Invalidate evicts id and keeps it from being cached again: a Set for an
// invalidated id is dropped. A lookup that read the record before a
// concurrent delete therefore cannot put it back.
type RecordCache interface {
	Get(ctx context.Context, id string) (*Record, error)
	Set(ctx context.Context, r *Record) error
	Invalidate(ctx context.Context, id string) error
}

// sharedLookupTimeout bounds a repository lookup shared by concurrent misses.
// The lookup is detached from the callers' contexts.
const sharedLookupTimeout = 30 * time.Second

// Cached is a read-through decorator for FindByID. Concurrent misses for the
// same id share one repository lookup. The cache only ever holds active
// records and is invalidated by Delete and Purge; cache failures fall back to
// the repository.
type Cached struct {
	next  Store
	cache RecordCache
	log   *slog.Logger
	group singleflight.Group
}

// NewCached wraps next with cache.
func NewCached(next Store, cache RecordCache, log *slog.Logger) *Cached {
	if log == nil {
		log = logger.NewNope()
	}
	return &Cached{next: next, cache: cache, log: log}
}

func (c *Cached) FindByID(ctx context.Context, id, tenantScope string) (*Record, error) {
	r, err := c.cache.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.log.WarnContext(ctx, "record cache read failed", slog.String("file_id", id), slog.Any("error", err))
		}
		ch := c.group.DoChan(id, func() (any, error) {
			lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
			defer cancel()

			rec, err := c.next.FindByID(lookupCtx, id, "")
			if err != nil {
				return nil, err
			}
			if err := c.cache.Set(lookupCtx, rec); err != nil {
				c.log.WarnContext(ctx, "record cache write failed", slog.String("file_id", id), slog.Any("error", err))
			}
			return rec, nil
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			r = clone(*res.Val.(*Record))
		}
	}

	if !r.IsActive || (tenantScope != "" && r.TenantID != tenantScope) {
		return nil, ErrNotFound
	}
	return r, nil
}

func (c *Cached) ExistsByPath(ctx context.Context, storagePath, tenantID string) (bool, error) {
	return c.next.ExistsByPath(ctx, storagePath, tenantID)
}

func (c *Cached) Create(ctx context.Context, r *Record) error {
	return c.next.Create(ctx, r)
}

func (c *Cached) Delete(ctx context.Context, id, tenantID string) (bool, error) {
	ok, err := c.next.Delete(ctx, id, tenantID)
	if err != nil {
		return false, err
	}
	c.invalidate(ctx, id)
	return ok, nil
}

func (c *Cached) FindByTenant(ctx context.Context, tenantID string, p ListParams) (*Page[Record], error) {
	return c.next.FindByTenant(ctx, tenantID, p)
}

func (c *Cached) PurgeCandidates(ctx context.Context, cutoff time.Time, limit int) ([]Record, error) {
	return c.next.PurgeCandidates(ctx, cutoff, limit)
}

func (c *Cached) Purge(ctx context.Context, id string) error {
	if err := c.next.Purge(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *Cached) invalidate(ctx context.Context, id string) {
	if err := c.cache.Invalidate(context.WithoutCancel(ctx), id); err != nil {
		c.log.WarnContext(ctx, "record cache invalidation failed", slog.String("file_id", id), slog.Any("error", err))
	}
}

var _ Store = (*Cached)(nil)

// DefaultCacheTTL bounds how long a record stays cached.
const DefaultCacheTTL = 10 * time.Minute

// RedisCache is a RecordCache stored in Redis as JSON. An invalidated id
// leaves a tombstone for the cache TTL.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// setUnlessInvalidated writes KEYS[1] unless the tombstone KEYS[2] exists.
var setUnlessInvalidated = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// NewRedisCache creates a RedisCache. Keys are "{prefix}:{<id>}" with the id
// as hash tag, so a record and its tombstone share a cluster slot.
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "filegate:file"
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, id string) (*Record, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *RedisCache) Set(ctx context.Context, r *Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	keys := []string{c.key(r.ID), c.tombstone(r.ID)}
	return setUnlessInvalidated.Run(ctx, c.client, keys, data, c.ttl.Milliseconds()).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, id string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.tombstone(id), 1, c.ttl)
		pipe.Del(ctx, c.key(id))
		return nil
	})
	return err
}

func (c *RedisCache) key(id string) string {
	return c.prefix + ":{" + id + "}"
}

func (c *RedisCache) tombstone(id string) string {
	return c.key(id) + ":deleted"
}
