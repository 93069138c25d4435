// Package blob stores file payloads under slash-separated keys.
//
// Keys are storage paths produced by the naming package. Stores refuse keys
// that are absolute, contain traversal segments or are not in clean form, and
// never overwrite an existing object.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var (
	ErrInvalidConfig = errors.New("blob: invalid configuration")
	ErrInvalidKey    = errors.New("blob: invalid key")
	ErrExists        = errors.New("blob: object already exists")
	ErrNotFound      = errors.New("blob: object not found")
	ErrAccessDenied  = errors.New("blob: access denied")
	ErrWriteFailed   = errors.New("blob: write failed")
	ErrReadFailed    = errors.New("blob: read failed")
	ErrDeleteFailed  = errors.New("blob: delete failed")
	ErrSizeMismatch  = errors.New("blob: written size does not match declared size")
)

// Store persists payloads.
type Store interface {
	// Put writes exactly size bytes from r under key. A partially written
	// object is never visible. Put fails with ErrExists if key is taken.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Open returns the payload stored under key. The caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes key. A missing key yields ErrNotFound.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is stored.
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns the address under which key is served.
	URL(key string) string
}

// ValidKey reports whether key is acceptable to a Store.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.ContainsAny(key, "\\\x00") {
		return false
	}
	if path.Clean(key) != key {
		return false
	}
	for seg := range strings.SplitSeq(key, "/") {
		if seg == ".." || seg == "." {
			return false
		}
	}
	return true
}

func joinURL(base, key string) string {
	return strings.TrimSuffix(base, "/") + "/" + key
}
