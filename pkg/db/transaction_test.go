package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	commitErr error
	committed bool
	rolled    bool
}

func (f *fakeTx) Commit(context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

type fakeBeginner struct {
	tx  *fakeTx
	err error
}

func (b fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.tx, nil
}

func TestWithTx(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	t.Run("commits on success", func(t *testing.T) {
		t.Parallel()
		tx := &fakeTx{}
		require.NoError(t, WithTx(context.Background(), fakeBeginner{tx: tx}, func(pgx.Tx) error { return nil }))
		assert.True(t, tx.committed)
		assert.False(t, tx.rolled)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		t.Parallel()
		tx := &fakeTx{}
		err := WithTx(context.Background(), fakeBeginner{tx: tx}, func(pgx.Tx) error { return boom })
		require.ErrorIs(t, err, boom)
		assert.False(t, tx.committed)
		assert.True(t, tx.rolled)
	})

	t.Run("rolls back and re-panics", func(t *testing.T) {
		t.Parallel()
		tx := &fakeTx{}
		assert.PanicsWithValue(t, "bad", func() {
			_ = WithTx(context.Background(), fakeBeginner{tx: tx}, func(pgx.Tx) error { panic("bad") })
		})
		assert.True(t, tx.rolled)
	})

	t.Run("begin failure", func(t *testing.T) {
		t.Parallel()
		err := WithTx(context.Background(), fakeBeginner{err: boom}, func(pgx.Tx) error {
			t.Fatal("fn must not run")
			return nil
		})
		require.ErrorIs(t, err, ErrBeginTx)
		require.ErrorIs(t, err, boom)
	})

	t.Run("commit failure", func(t *testing.T) {
		t.Parallel()
		tx := &fakeTx{commitErr: boom}
		err := WithTx(context.Background(), fakeBeginner{tx: tx}, func(pgx.Tx) error { return nil })
		require.ErrorIs(t, err, ErrCommitTx)
		assert.True(t, tx.rolled)
	})

	t.Run("canceled context still rolls back", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		tx := &fakeTx{}
		err := WithTx(ctx, fakeBeginner{tx: tx}, func(pgx.Tx) error {
			cancel()
			return context.Canceled
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.True(t, tx.rolled)
	})
}
