// Package pathlock serialises work on a single storage path.
//
// A lock covers the window between checking that a path is free and writing
// to it. Locks are advisory: they only exclude other holders of the same
// Locker (or, for Redis, of the same Redis keyspace).
package pathlock

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrNotAcquired = errors.New("pathlock: lock not acquired")
	ErrLost        = errors.New("pathlock: lock expired before release")
)

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker acquires per-key exclusive locks.
type Locker interface {
	// Lock blocks until key is held or ctx is done.
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Local locks keys within one process. Idle keys hold no memory.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{} // buffered(1): a token in the channel means free
	refs int
}

// NewLocal creates an in-process Locker.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case <-e.ch:
	case <-ctx.Done():
		l.release(key, e)
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			e.ch <- struct{}{}
			l.release(key, e)
		})
		return nil
	}, nil
}

// Held returns the number of keys currently tracked, held or awaited.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *Local) release(key string, e *entry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// Nop never blocks.
type Nop struct{}

func (Nop) Lock(context.Context, string) (Unlock, error) {
	return func(context.Context) error { return nil }, nil
}

var (
	_ Locker = (*Local)(nil)
	_ Locker = Nop{}
)
