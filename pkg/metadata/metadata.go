// Package metadata extracts descriptive properties from stored payloads.
//
// Extraction is best effort: callers treat a failure as "no metadata" and
// carry on with the upload.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/dmitrymomot/filegate/pkg/sniff"
)

var (
	ErrNoExtractor = errors.New("metadata: no extractor for category")
	ErrExtract     = errors.New("metadata: extraction failed")
)

// Metadata is a flat set of extracted properties. A nil Metadata means the
// payload has none.
type Metadata map[string]any

// JSON encodes m for storage. Empty metadata encodes to nil.
func (m Metadata) JSON() (json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Join(ErrExtract, err)
	}
	return b, nil
}

// Extractor reads properties of a payload of the given MIME type.
type Extractor interface {
	Extract(ctx context.Context, rs io.ReadSeeker, mimeType string) (Metadata, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, rs io.ReadSeeker, mimeType string) (Metadata, error)

func (f ExtractorFunc) Extract(ctx context.Context, rs io.ReadSeeker, mimeType string) (Metadata, error) {
	return f(ctx, rs, mimeType)
}

// Registry selects an Extractor by content category.
type Registry struct {
	mu         sync.RWMutex
	extractors map[sniff.Category]Extractor
}

// NewRegistry returns a registry with the built-in strategies: Image for
// images, and the Audio and Video placeholders.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[sniff.Category]Extractor)}
	r.Register(sniff.Image, Image{})
	r.Register(sniff.Audio, Audio{})
	r.Register(sniff.Video, Video{})
	return r
}

// Register sets the extractor for a category, replacing any previous one.
// A nil extractor removes the registration.
func (r *Registry) Register(c sniff.Category, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e == nil {
		delete(r.extractors, c)
		return
	}
	r.extractors[c] = e
}

// Extract runs the extractor registered for c. Categories without one yield
// ErrNoExtractor.
func (r *Registry) Extract(ctx context.Context, c sniff.Category, rs io.ReadSeeker, mimeType string) (Metadata, error) {
	r.mu.RLock()
	e, ok := r.extractors[c]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNoExtractor
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Join(ErrExtract, err)
	}
	return e.Extract(ctx, rs, mimeType)
}
