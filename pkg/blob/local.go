package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPerm  = 0o750
	filePerm = 0o640
	tempGlob = ".upload-*"
)

// Local stores payloads on the local filesystem below a root directory.
type Local struct {
	root    string
	baseURL string
}

// LocalOption configures a Local store.
type LocalOption func(*Local)

// WithBaseURL sets the URL prefix returned by URL. Defaults to "/files".
func WithBaseURL(u string) LocalOption {
	return func(l *Local) {
		if u != "" {
			l.baseURL = u
		}
	}
}

// NewLocal creates a store rooted at root. The directory is created if needed.
func NewLocal(root string, opts ...LocalOption) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, ErrInvalidConfig
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	l := &Local{root: abs, baseURL: "/files"}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Root returns the absolute root directory.
func (l *Local) Root() string { return l.root }

// Put writes r to a temporary file beside the target, syncs it and links it
// into place. The link fails if the target exists, so concurrent writers can
// never replace each other's payload.
func (l *Local) Put(ctx context.Context, key string, r io.Reader, size int64, _ string) error {
	full, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return errors.Join(ErrWriteFailed, err)
	}

	tmp, err := os.CreateTemp(dir, tempGlob)
	if err != nil {
		return errors.Join(ErrWriteFailed, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return errors.Join(ErrWriteFailed, err)
	}
	if size >= 0 && n != size {
		_ = tmp.Close()
		return ErrSizeMismatch
	}
	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		return errors.Join(ErrWriteFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Join(ErrWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(ErrWriteFailed, err)
	}

	if err := os.Link(tmpName, full); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrExists
		}
		return errors.Join(ErrWriteFailed, err)
	}
	return nil
}

func (l *Local) Open(_ context.Context, key string) (io.ReadCloser, error) {
	full, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrReadFailed, err)
	}
	return f, nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	full, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return errors.Join(ErrDeleteFailed, err)
	}
	return nil
}

func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	full, err := l.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Lstat(full)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, errors.Join(ErrReadFailed, err)
	}
}

func (l *Local) URL(key string) string {
	return joinURL(l.baseURL, key)
}

// Healthcheck verifies that the root directory is writable.
func (l *Local) Healthcheck() func(context.Context) error {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := os.CreateTemp(l.root, ".health-*")
		if err != nil {
			return errors.Join(ErrWriteFailed, err)
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(name)
	}
}

// resolve maps key to a path inside root.
func (l *Local) resolve(key string) (string, error) {
	if !ValidKey(key) {
		return "", ErrInvalidKey
	}
	full := filepath.Join(l.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.root, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", ErrInvalidKey
	}
	return full, nil
}

var _ Store = (*Local)(nil)
