// Package audit records an append-only trail of file operations.
//
// Recording is synchronous: Record returns once the entry is written, so a
// caller that records before replying never races its own audit trail.
// Callers must not let a recording error replace the result of the operation
// being audited.
package audit

import (
	"context"
	"errors"
	"time"
)

// Action is the kind of operation an Entry describes.
type Action string

const (
	ActionUpload Action = "upload"
	ActionAccess Action = "access"
	ActionDelete Action = "delete"
	ActionUpdate Action = "update"
)

var ErrRecord = errors.New("audit: failed to record entry")

// Entry is a single audit record. Entries are values and never modified once
// recorded.
type Entry struct {
	Action     Action
	FileID     string // empty when no record was created
	ActorID    string
	TenantID   string
	Filename   string
	Success    bool
	ReasonCode string // empty on success
	Timestamp  time.Time
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, e Entry) error

func (f RecorderFunc) Record(ctx context.Context, e Entry) error { return f(ctx, e) }

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

// Multi fans an entry out to every recorder. All recorders are tried; their
// errors are joined.
func Multi(recorders ...Recorder) Recorder {
	rs := make([]Recorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			rs = append(rs, r)
		}
	}
	return multi(rs)
}

type multi []Recorder

func (m multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
