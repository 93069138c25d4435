// Package spool buffers an upload body under a hard size limit.
//
// Small bodies stay in memory. Once a body grows past the memory threshold it
// is moved to a temporary file, so a large upload never has to fit in RAM.
// Fill never consumes more than limit+1 bytes from its source.
package spool

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
)

const (
	// DefaultMemoryThreshold is the largest body kept in memory.
	DefaultMemoryThreshold int64 = 4 << 20

	chunkSize = 32 << 10
	tempName  = "filegate-spool-*"
)

var (
	ErrLimitExceeded = errors.New("spool: size limit exceeded")
	ErrRead          = errors.New("spool: failed to read source")
	ErrTempFile      = errors.New("spool: temporary file failure")
	ErrClosed        = errors.New("spool: closed")
)

// Spool is a write-once, read-many buffer. It is not safe for concurrent use.
type Spool struct {
	threshold int64
	dir       string

	mem    bytes.Buffer
	file   *os.File
	size   int64
	closed bool
}

// Option configures a Spool.
type Option func(*Spool)

// WithMemoryThreshold sets how many bytes are kept in memory before spilling.
func WithMemoryThreshold(n int64) Option {
	return func(s *Spool) {
		if n >= 0 {
			s.threshold = n
		}
	}
}

// WithTempDir sets the directory for spill files. Empty means os.TempDir.
func WithTempDir(dir string) Option {
	return func(s *Spool) {
		s.dir = dir
	}
}

// New creates an empty Spool.
func New(opts ...Option) *Spool {
	s := &Spool{threshold: DefaultMemoryThreshold}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Size returns the number of bytes written so far.
func (s *Spool) Size() int64 { return s.size }

// OnDisk reports whether the body was spilled to a temporary file.
func (s *Spool) OnDisk() bool { return s.file != nil }

// Write appends p to the spool, spilling to disk when the threshold is crossed.
func (s *Spool) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if s.file == nil && s.size+int64(len(p)) > s.threshold {
		if err := s.spill(); err != nil {
			return 0, err
		}
	}

	var (
		n   int
		err error
	)
	if s.file != nil {
		n, err = s.file.Write(p)
		if err != nil {
			err = errors.Join(ErrTempFile, err)
		}
	} else {
		n, _ = s.mem.Write(p)
	}
	s.size += int64(n)
	return n, err
}

// Fill copies r into the spool until EOF. The running total, including bytes
// written before the call, may not exceed limit; the first byte past it stops
// the copy with ErrLimitExceeded. Cancellation of ctx is checked between
// chunks and returned as is.
func (s *Spool) Fill(ctx context.Context, r io.Reader, limit int64) error {
	if s.size > limit {
		return ErrLimitExceeded
	}

	src := io.LimitReader(r, limit-s.size+1)
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if s.size+int64(n) > limit {
				return ErrLimitExceeded
			}
			if _, err := s.Write(buf[:n]); err != nil {
				return err
			}
		}

		switch {
		case rerr == io.EOF:
			return nil
		case rerr != nil:
			return errors.Join(ErrRead, rerr)
		}
	}
}

// Reader returns a reader positioned at the start of the body. Each call
// rewinds; readers from earlier calls must not be used afterwards.
func (s *Spool) Reader() (io.ReadSeeker, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.file == nil {
		return bytes.NewReader(s.mem.Bytes()), nil
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Join(ErrTempFile, err)
	}
	return s.file, nil
}

// Close releases memory and removes the spill file, if any.
// It is safe to call more than once.
func (s *Spool) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.mem = bytes.Buffer{}

	if s.file == nil {
		return nil
	}
	name := s.file.Name()
	err := s.file.Close()
	if rerr := os.Remove(name); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		err = errors.Join(err, rerr)
	}
	s.file = nil
	if err != nil {
		return errors.Join(ErrTempFile, err)
	}
	return nil
}

func (s *Spool) spill() error {
	f, err := os.CreateTemp(s.dir, tempName)
	if err != nil {
		return errors.Join(ErrTempFile, err)
	}
	if _, err := f.Write(s.mem.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return errors.Join(ErrTempFile, err)
	}
	s.file = f
	s.mem = bytes.Buffer{}
	return nil
}
