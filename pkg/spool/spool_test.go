package spool_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filegate/pkg/spool"
)

// endless yields an unbounded stream of 'x' and counts what it hands out.
type endless struct{ read int64 }

func (e *endless) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	e.read += int64(len(p))
	return len(p), nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func readAll(t *testing.T, s *spool.Spool) []byte {
	t.Helper()
	r, err := s.Reader()
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return b
}

func TestSpool_Memory(t *testing.T) {
	t.Parallel()

	s := spool.New()
	defer s.Close()

	body := []byte("hello, spool")
	require.NoError(t, s.Fill(context.Background(), bytes.NewReader(body), 100))

	assert.False(t, s.OnDisk())
	assert.Equal(t, int64(len(body)), s.Size())
	assert.Equal(t, body, readAll(t, s))
	assert.Equal(t, body, readAll(t, s), "reader rewinds")
}

func TestSpool_SpillsToDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := spool.New(spool.WithMemoryThreshold(8), spool.WithTempDir(dir))

	_, err := s.Write([]byte("head"))
	require.NoError(t, err)
	body := bytes.Repeat([]byte("0123456789"), 1000)
	require.NoError(t, s.Fill(context.Background(), bytes.NewReader(body), 1<<20))

	assert.True(t, s.OnDisk())
	assert.Equal(t, append([]byte("head"), body...), readAll(t, s))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "spill file removed on close")
}

func TestSpool_Fill_LimitExceeded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		threshold int64
		limit     int64
	}{
		{"in memory", 1 << 20, 1000},
		{"on disk", 16, 100_000},
		{"zero limit", 1 << 20, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := spool.New(spool.WithMemoryThreshold(tt.threshold), spool.WithTempDir(t.TempDir()))
			defer s.Close()

			src := &endless{}
			err := s.Fill(context.Background(), src, tt.limit)
			require.ErrorIs(t, err, spool.ErrLimitExceeded)
			assert.LessOrEqual(t, src.read, tt.limit+1, "never reads past limit+1")
			assert.LessOrEqual(t, s.Size(), tt.limit)
		})
	}
}

func TestSpool_Fill_ExactLimit(t *testing.T) {
	t.Parallel()

	s := spool.New()
	defer s.Close()

	body := bytes.Repeat([]byte{1}, 512)
	require.NoError(t, s.Fill(context.Background(), bytes.NewReader(body), 512))
	assert.Equal(t, int64(512), s.Size())
}

func TestSpool_Fill_CountsEarlierWrites(t *testing.T) {
	t.Parallel()

	s := spool.New()
	defer s.Close()

	_, err := s.Write(bytes.Repeat([]byte{1}, 10))
	require.NoError(t, err)

	err = s.Fill(context.Background(), bytes.NewReader(bytes.Repeat([]byte{2}, 10)), 15)
	require.ErrorIs(t, err, spool.ErrLimitExceeded)

	s2 := spool.New()
	defer s2.Close()
	_, err = s2.Write(bytes.Repeat([]byte{1}, 20))
	require.NoError(t, err)
	require.ErrorIs(t, s2.Fill(context.Background(), bytes.NewReader(nil), 15), spool.ErrLimitExceeded)
}

func TestSpool_Fill_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := spool.New()
	defer s.Close()

	err := s.Fill(ctx, &endless{}, 1<<20)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSpool_Fill_ReadError(t *testing.T) {
	t.Parallel()

	s := spool.New()
	defer s.Close()

	err := s.Fill(context.Background(), failingReader{}, 100)
	require.ErrorIs(t, err, spool.ErrRead)
}

func TestSpool_Closed(t *testing.T) {
	t.Parallel()

	s := spool.New()
	require.NoError(t, s.Close())

	_, err := s.Write([]byte("x"))
	require.ErrorIs(t, err, spool.ErrClosed)

	_, err = s.Reader()
	require.ErrorIs(t, err, spool.ErrClosed)
}
