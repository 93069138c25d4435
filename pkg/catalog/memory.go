package catalog

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithMemoryClock sets the clock used for CreatedAt and DeletedAt.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an empty Memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{records: make(map[string]Record), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) FindByID(ctx context.Context, id, tenantScope string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok || !r.IsActive || (tenantScope != "" && r.TenantID != tenantScope) {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (m *Memory) ExistsByPath(ctx context.Context, storagePath, tenantID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathTaken(storagePath, tenantID), nil
}

func (m *Memory) Create(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pathTaken(r.StoragePath, r.TenantID) {
		return ErrConflict
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, ok := m.records[r.ID]; ok {
		return ErrConflict
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now().UTC()
	}
	r.IsActive = true
	r.DeletedAt = nil
	m.records[r.ID] = *clone(*r)
	return nil
}

func (m *Memory) Delete(ctx context.Context, id, tenantID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok || !r.IsActive || r.TenantID != tenantID {
		return false, nil
	}
	now := m.now().UTC()
	r.IsActive = false
	r.DeletedAt = &now
	m.records[id] = r
	return true, nil
}

func (m *Memory) FindByTenant(ctx context.Context, tenantID string, p ListParams) (*Page[Record], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = p.Normalize()

	m.mu.RLock()
	var matched []Record
	for _, r := range m.records {
		if !r.IsActive || r.TenantID != tenantID {
			continue
		}
		if p.MimePrefix != "" && !strings.HasPrefix(r.MimeType, p.MimePrefix) {
			continue
		}
		if p.UploadedBy != "" && r.UploadedBy != p.UploadedBy {
			continue
		}
		matched = append(matched, r)
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, func(a, b Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	page := &Page[Record]{Items: []Record{}, Total: int64(len(matched)), Limit: p.Limit, Offset: p.Offset}
	if p.Offset < len(matched) {
		for _, r := range matched[p.Offset:min(p.Offset+p.Limit, len(matched))] {
			page.Items = append(page.Items, *clone(r))
		}
	}
	return page, nil
}

func (m *Memory) PurgeCandidates(ctx context.Context, cutoff time.Time, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var out []Record
	for _, r := range m.records {
		if !r.IsActive && r.DeletedAt != nil && r.DeletedAt.Before(cutoff) {
			out = append(out, *clone(r))
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Record) int { return a.DeletedAt.Compare(*b.DeletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Purge(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok || r.IsActive {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

// pathTaken must be called with the lock held.
func (m *Memory) pathTaken(storagePath, tenantID string) bool {
	for _, r := range m.records {
		if r.TenantID == tenantID && r.StoragePath == storagePath {
			return true
		}
	}
	return false
}

func clone(r Record) *Record {
	r.Metadata = slices.Clone(r.Metadata)
	r.ContentRestrictions = slices.Clone(r.ContentRestrictions)
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		r.DeletedAt = &t
	}
	return &r
}

var _ Store = (*Memory)(nil)
