// Package catalog persists file records.
//
// A record is written once, after its payload is stored, and is never edited
// afterwards except by soft delete. The pair (tenant, storage path) is unique
// across all records, deleted or not, because a soft-deleted record still
// owns its payload until it is purged.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("catalog: record not found")
	ErrConflict = errors.New("catalog: storage path already taken")
	ErrInvalid  = errors.New("catalog: invalid record")
	ErrQuery    = errors.New("catalog: query failed")
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Record describes one stored file.
type Record struct {
	ID                  string          `json:"id"`
	StoredFilename      string          `json:"stored_filename"`
	OriginalFilename    string          `json:"original_filename"`
	StoragePath         string          `json:"storage_path"`
	PublicURL           string          `json:"public_url"`
	MimeType            string          `json:"mime_type"`
	SizeBytes           int64           `json:"size_bytes"`
	TenantID            string          `json:"tenant_id"`
	UploadedBy          string          `json:"uploaded_by"`
	Metadata            json.RawMessage `json:"metadata,omitempty"`
	ContentRestrictions json.RawMessage `json:"content_restrictions,omitempty"`
	IsActive            bool            `json:"is_active"`
	CreatedAt           time.Time       `json:"created_at"`
	DeletedAt           *time.Time      `json:"deleted_at,omitempty"`
}

// Validate checks the fields every stored record must carry.
func (r *Record) Validate() error {
	switch {
	case r.TenantID == "":
		return errors.Join(ErrInvalid, errors.New("tenant id is required"))
	case r.StoragePath == "":
		return errors.Join(ErrInvalid, errors.New("storage path is required"))
	case !strings.HasPrefix(r.StoragePath, r.TenantID+"/"):
		return errors.Join(ErrInvalid, errors.New("storage path is outside the tenant root"))
	case r.SizeBytes < 0:
		return errors.Join(ErrInvalid, errors.New("size is negative"))
	}
	return nil
}

// ListParams selects a page of a tenant's active records, newest first.
type ListParams struct {
	Limit      int
	Offset     int
	MimePrefix string // e.g. "image/"; empty matches all
	UploadedBy string // empty matches all
}

// Normalize clamps Limit to [1, MaxLimit] and Offset to >= 0.
func (p ListParams) Normalize() ListParams {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	p.Limit = min(p.Limit, MaxLimit)
	p.Offset = max(p.Offset, 0)
	return p
}

// Page is one page of results.
type Page[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// HasMore reports whether records exist past this page.
func (p *Page[T]) HasMore() bool {
	return int64(p.Offset+len(p.Items)) < p.Total
}

// MapPage converts the items of a page.
func MapPage[T, U any](p *Page[T], fn func(T) U) *Page[U] {
	out := &Page[U]{
		Items:  make([]U, 0, len(p.Items)),
		Total:  p.Total,
		Limit:  p.Limit,
		Offset: p.Offset,
	}
	for _, it := range p.Items {
		out.Items = append(out.Items, fn(it))
	}
	return out
}

// Repository stores and queries records.
type Repository interface {
	// FindByID returns the active record with id. A non-empty tenantScope
	// restricts the lookup to that tenant.
	FindByID(ctx context.Context, id, tenantScope string) (*Record, error)

	// ExistsByPath reports whether any record, active or not, holds the path.
	ExistsByPath(ctx context.Context, storagePath, tenantID string) (bool, error)

	// Create inserts r, assigning ID and CreatedAt when they are empty.
	// A taken (tenant, path) pair yields ErrConflict.
	Create(ctx context.Context, r *Record) error

	// Delete soft-deletes the active record with id in tenantID. It reports
	// false if no such record exists.
	Delete(ctx context.Context, id, tenantID string) (bool, error)

	// FindByTenant lists a tenant's active records, newest first.
	FindByTenant(ctx context.Context, tenantID string, p ListParams) (*Page[Record], error)
}

// Purger removes soft-deleted records for good.
type Purger interface {
	// PurgeCandidates returns up to limit records deleted before cutoff,
	// oldest first.
	PurgeCandidates(ctx context.Context, cutoff time.Time, limit int) ([]Record, error)

	// Purge removes a soft-deleted record.
	Purge(ctx context.Context, id string) error
}

// Store is a Repository that can also purge.
type Store interface {
	Repository
	Purger
}
