package catalog_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filegate/pkg/catalog"
)

type mapCache struct {
	mu          sync.Mutex
	items       map[string]catalog.Record
	invalidated map[string]bool
	failGet     bool
}

func newMapCache() *mapCache {
	return &mapCache{items: map[string]catalog.Record{}, invalidated: map[string]bool{}}
}

func (c *mapCache) Get(_ context.Context, id string) (*catalog.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, errors.New("redis: connection refused")
	}
	r, ok := c.items[id]
	if !ok {
		return nil, catalog.ErrCacheMiss
	}
	return &r, nil
}

func (c *mapCache) Set(_ context.Context, r *catalog.Record) error {
	c.mu.Lock()
	if !c.invalidated[r.ID] {
		c.items[r.ID] = *r
	}
	c.mu.Unlock()
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	c.invalidated[id] = true
	delete(c.items, id)
	c.mu.Unlock()
	return nil
}

func (c *mapCache) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[id]
	return ok
}

// countingStore counts FindByID calls reaching the backing store.
type countingStore struct {
	*catalog.Memory
	finds atomic.Int32
	gate  chan struct{}
}

func (s *countingStore) FindByID(ctx context.Context, id, scope string) (*catalog.Record, error) {
	s.finds.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.Memory.FindByID(ctx, id, scope)
}

// pausingStore holds the first FindByID after it has read the record until
// release is closed.
type pausingStore struct {
	*catalog.Memory
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func newPausingStore() *pausingStore {
	return &pausingStore{Memory: catalog.NewMemory(), read: make(chan struct{}), release: make(chan struct{})}
}

func (s *pausingStore) FindByID(ctx context.Context, id, scope string) (*catalog.Record, error) {
	r, err := s.Memory.FindByID(ctx, id, scope)
	s.once.Do(func() { close(s.read) })
	<-s.release
	return r, err
}

func TestCached_ReadThrough(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backing := &countingStore{Memory: catalog.NewMemory()}
	cache := newMapCache()
	repo := catalog.NewCached(backing, cache, nil)

	r := newRecord("t1", "a.png", "image/png", "u1")
	require.NoError(t, repo.Create(ctx, r))

	for range 3 {
		got, err := repo.FindByID(ctx, r.ID, "t1")
		require.NoError(t, err)
		assert.Equal(t, r.ID, got.ID)
	}
	assert.Equal(t, int32(1), backing.finds.Load())
	assert.True(t, cache.has(r.ID))

	_, err := repo.FindByID(ctx, r.ID, "t2")
	require.ErrorIs(t, err, catalog.ErrNotFound, "tenant scope applies to cached records")
	assert.Equal(t, int32(1), backing.finds.Load())
}

func TestCached_DeleteInvalidates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backing := &countingStore{Memory: catalog.NewMemory()}
	cache := newMapCache()
	repo := catalog.NewCached(backing, cache, nil)

	r := newRecord("t1", "a.png", "image/png", "u1")
	require.NoError(t, repo.Create(ctx, r))
	_, err := repo.FindByID(ctx, r.ID, "")
	require.NoError(t, err)

	ok, err := repo.Delete(ctx, r.ID, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, cache.has(r.ID))

	_, err = repo.FindByID(ctx, r.ID, "")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	assert.False(t, cache.has(r.ID), "misses are not cached")
}

func TestCached_CacheFailureFallsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backing := &countingStore{Memory: catalog.NewMemory()}
	cache := newMapCache()
	cache.failGet = true
	repo := catalog.NewCached(backing, cache, nil)

	r := newRecord("t1", "a.png", "image/png", "u1")
	require.NoError(t, repo.Create(ctx, r))

	got, err := repo.FindByID(ctx, r.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestCached_ConcurrentMisses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backing := &countingStore{Memory: catalog.NewMemory(), gate: make(chan struct{})}
	repo := catalog.NewCached(backing, newMapCache(), nil)

	r := newRecord("t1", "a.png", "image/png", "u1")
	require.NoError(t, backing.Create(ctx, r))

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			got, err := repo.FindByID(ctx, r.ID, "t1")
			assert.NoError(t, err)
			if got != nil {
				assert.Equal(t, r.ID, got.ID)
			}
		})
	}

	require.Eventually(t, func() bool { return backing.finds.Load() >= 1 }, time.Second, time.Millisecond)
	close(backing.gate)
	wg.Wait()

	got, err := repo.FindByID(ctx, r.ID, "")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestCached_DeleteDuringLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backing := newPausingStore()
	cache := newMapCache()
	repo := catalog.NewCached(backing, cache, nil)

	r := newRecord("t1", "a.png", "image/png", "u1")
	require.NoError(t, backing.Create(ctx, r))

	lookup := make(chan error, 1)
	go func() {
		_, err := repo.FindByID(ctx, r.ID, "t1")
		lookup <- err
	}()

	<-backing.read
	ok, err := repo.Delete(ctx, r.ID, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	close(backing.release)

	require.NoError(t, <-lookup, "the lookup read the record before the delete")
	assert.False(t, cache.has(r.ID), "a stale lookup must not repopulate the cache")

	_, err = repo.FindByID(ctx, r.ID, "t1")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCached_SharedLookupSurvivesCanceledCaller(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backing := &countingStore{Memory: catalog.NewMemory(), gate: make(chan struct{})}
	repo := catalog.NewCached(backing, newMapCache(), nil)

	r := newRecord("t1", "a.png", "image/png", "u1")
	require.NoError(t, backing.Create(ctx, r))

	first, cancel := context.WithCancel(ctx)
	firstErr := make(chan error, 1)
	go func() {
		_, err := repo.FindByID(first, r.ID, "t1")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return backing.finds.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		rec *catalog.Record
		err error
	}
	second := make(chan result, 1)
	go func() {
		rec, err := repo.FindByID(ctx, r.ID, "t1")
		second <- result{rec, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(backing.gate)
	got := <-second
	require.NoError(t, got.err, "a live caller is not failed by another caller's cancellation")
	assert.Equal(t, r.ID, got.rec.ID)
}
