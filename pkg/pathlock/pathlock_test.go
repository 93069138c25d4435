package pathlock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filegate/pkg/pathlock"
)

func TestLocal_MutualExclusion(t *testing.T) {
	t.Parallel()

	l := pathlock.NewLocal()
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			unlock, err := l.Lock(ctx, "t1/images/2026/03/a.png")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			assert.NoError(t, unlock(ctx))
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, l.Held(), "idle keys are dropped")
}

func TestLocal_IndependentKeys(t *testing.T) {
	t.Parallel()

	l := pathlock.NewLocal()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "a")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		unlockB, err := l.Lock(ctx, "b")
		if assert.NoError(t, err) {
			assert.NoError(t, unlockB(ctx))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another key blocked")
	}
	require.NoError(t, unlockA(ctx))
}

func TestLocal_ContextCancel(t *testing.T) {
	t.Parallel()

	l := pathlock.NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	require.ErrorIs(t, err, pathlock.ErrNotAcquired)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock(context.Background()))
	require.NoError(t, unlock(context.Background()), "unlock is idempotent")
	assert.Equal(t, 0, l.Held())

	unlock, err = l.Lock(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, unlock(context.Background()))
}

func TestNop(t *testing.T) {
	t.Parallel()

	unlock, err := pathlock.Nop{}.Lock(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, unlock(context.Background()))
}
