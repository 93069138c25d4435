package filegate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filegate/pkg/audit"
	"github.com/dmitrymomot/filegate/pkg/blob"
	"github.com/dmitrymomot/filegate/pkg/catalog"
)

func TestGetFile_Access(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	open := f.upload(t, pngBytes(t, 8, 8), request("open.png", "image/png"))

	restrictedReq := request("sacred.png", "image/png")
	restrictedReq.ContentRestrictions = json.RawMessage(`{"restrictedAudience":true}`)
	restricted := f.upload(t, pngBytes(t, 8, 8), restrictedReq)
	require.True(t, restricted.Restricted)

	tests := []struct {
		name      string
		fileID    string
		requester Requester
		wantKind  error
		wantCode  string
	}{
		{
			name:      "member of the tenant",
			fileID:    open.ID,
			requester: member("user-2"),
		},
		{
			name:      "platform admin of the same tenant",
			fileID:    open.ID,
			requester: Requester{ID: "root", TenantID: "tenant-a", Role: "system_admin"},
			wantKind:  ErrForbidden,
			wantCode:  "CROSS_TENANT_ADMIN_BLOCKED",
		},
		{
			name:      "platform admin of another tenant",
			fileID:    open.ID,
			requester: Requester{ID: "root", TenantID: "platform", Role: "Super_Admin"},
			wantKind:  ErrForbidden,
			wantCode:  "CROSS_TENANT_ADMIN_BLOCKED",
		},
		{
			name:      "platform admin on restricted content",
			fileID:    restricted.ID,
			requester: Requester{ID: "root", TenantID: "tenant-a", Role: "system_admin"},
			wantKind:  ErrForbidden,
			wantCode:  "CROSS_TENANT_ADMIN_BLOCKED",
		},
		{
			name:      "member of another tenant",
			fileID:    open.ID,
			requester: Requester{ID: "user-9", TenantID: "tenant-b", Role: "member"},
			wantKind:  ErrNotFound,
			wantCode:  "TENANT_ISOLATION_VIOLATION",
		},
		{
			name:      "privileged role of another tenant",
			fileID:    restricted.ID,
			requester: Requester{ID: "user-9", TenantID: "tenant-b", Role: "elder"},
			wantKind:  ErrNotFound,
			wantCode:  "TENANT_ISOLATION_VIOLATION",
		},
		{
			name:      "restricted content for a member",
			fileID:    restricted.ID,
			requester: member("user-2"),
			wantKind:  ErrForbidden,
			wantCode:  "RESTRICTED_CONTENT",
		},
		{
			name:      "restricted content for its uploader without privilege",
			fileID:    restricted.ID,
			requester: member("user-1"),
			wantKind:  ErrForbidden,
			wantCode:  "RESTRICTED_CONTENT",
		},
		{
			name:      "restricted content for a privileged role",
			fileID:    restricted.ID,
			requester: Requester{ID: "user-3", TenantID: "tenant-a", Role: "elder"},
		},
		{
			name:      "unknown file",
			fileID:    "7d1c4f5e-0000-4000-8000-000000000000",
			requester: member("user-2"),
			wantKind:  ErrNotFound,
			wantCode:  CodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, err := f.svc.GetFile(context.Background(), tt.fileID, tt.requester)
			if tt.wantKind == nil {
				require.NoError(t, err)
				assert.Equal(t, tt.fileID, view.ID)
				return
			}
			require.ErrorIs(t, err, tt.wantKind)
			assert.Nil(t, view)
			assert.Equal(t, tt.wantCode, reasonOf(t, err))
			assert.NotContains(t, err.Error(), tt.wantCode)
		})
	}

	reads := f.audit.Filter(audit.ActionAccess)
	require.Len(t, reads, len(tests), "every decision is audited")
	for i, tt := range tests {
		assert.Equal(t, tt.wantKind == nil, reads[i].Success, tt.name)
		assert.Equal(t, tt.wantCode, reads[i].ReasonCode, tt.name)
		assert.Equal(t, tt.requester.ID, reads[i].ActorID, tt.name)
		assert.Equal(t, tt.fileID, reads[i].FileID, tt.name)
	}
}

func TestGetFile_ForeignAndMissingLookAlike(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	view := f.upload(t, pngBytes(t, 8, 8), request("a.png", "image/png"))
	outsider := Requester{ID: "user-9", TenantID: "tenant-b", Role: "member"}

	_, foreign := f.svc.GetFile(context.Background(), view.ID, outsider)
	_, missing := f.svc.GetFile(context.Background(), "7d1c4f5e-0000-4000-8000-000000000000", outsider)

	require.ErrorIs(t, foreign, ErrNotFound)
	require.ErrorIs(t, missing, ErrNotFound)
	assert.Equal(t, missing.Error(), foreign.Error())
}

func TestOpenFile_Denied(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	req := request("a.png", "image/png")
	req.ContentRestrictions = json.RawMessage(`{"restrictedAudience":true}`)
	view := f.upload(t, pngBytes(t, 8, 8), req)

	rc, got, err := f.svc.OpenFile(context.Background(), view.ID, member("user-2"))
	require.ErrorIs(t, err, ErrForbidden)
	assert.Nil(t, rc)
	assert.Nil(t, got)
}

func TestOpenFile_MissingContent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	view := f.upload(t, pngBytes(t, 8, 8), request("a.png", "image/png"))

	rec, err := f.repo.FindByID(context.Background(), view.ID, "")
	require.NoError(t, err)
	require.NoError(t, f.blobs.Delete(context.Background(), rec.StoragePath))

	_, _, err = f.svc.OpenFile(context.Background(), view.ID, member("user-2"))
	require.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, CodeStorageFailed, reasonOf(t, err))

	reads := f.audit.Filter(audit.ActionAccess)
	require.Len(t, reads, 1)
	assert.False(t, reads[0].Success)
}

func TestDeleteFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	view := f.upload(t, pngBytes(t, 8, 8), request("a.png", "image/png"))

	tests := []struct {
		name      string
		requester Requester
		wantKind  error
		wantCode  string
	}{
		{"tenant administrator", Requester{ID: "boss", TenantID: "tenant-a", Role: "tenant_admin"}, ErrForbidden, "NOT_OWNER"},
		{"privileged role", Requester{ID: "user-3", TenantID: "tenant-a", Role: "elder"}, ErrForbidden, "NOT_OWNER"},
		{"platform admin", Requester{ID: "root", TenantID: "platform", Role: "system_admin"}, ErrNotFound, "TENANT_ISOLATION_VIOLATION"},
		{"uploader in another tenant", Requester{ID: "user-1", TenantID: "tenant-b", Role: "member"}, ErrNotFound, "TENANT_ISOLATION_VIOLATION"},
		{"uploader", member("user-1"), nil, ""},
		{"uploader again", member("user-1"), ErrNotFound, CodeNotFound},
	}

	for _, tt := range tests {
		err := f.svc.DeleteFile(ctx, view.ID, tt.requester)
		if tt.wantKind == nil {
			require.NoError(t, err, tt.name)
			continue
		}
		require.ErrorIs(t, err, tt.wantKind, tt.name)
		assert.Equal(t, tt.wantCode, reasonOf(t, err), tt.name)
	}

	deletes := f.audit.Filter(audit.ActionDelete)
	require.Len(t, deletes, len(tests))
	for i, tt := range tests {
		assert.Equal(t, tt.wantKind == nil, deletes[i].Success, tt.name)
		assert.Equal(t, tt.wantCode, deletes[i].ReasonCode, tt.name)
	}

	_, err := f.svc.GetFile(ctx, view.ID, member("user-1"))
	require.ErrorIs(t, err, ErrNotFound)

	page, err := f.svc.ListFiles(ctx, "tenant-a", ListParams{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	assert.Len(t, f.storedFiles(t), 1, "content stays until purged")
}

type failingDeleteRepo struct {
	*catalog.Memory
}

func (failingDeleteRepo) Delete(context.Context, string, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestDeleteFile_RepositoryFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	blobs, err := blob.NewLocal(root)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.StorageRoot = root
	repo := catalog.NewMemory()
	rec := audit.NewMemory()

	svc, err := New(cfg, failingDeleteRepo{repo}, blobs, WithRecorder(rec))
	require.NoError(t, err)

	view, err := svc.Upload(context.Background(), bytes.NewReader(pngBytes(t, 8, 8)), request("a.png", "image/png"))
	require.NoError(t, err)

	err = svc.DeleteFile(context.Background(), view.ID, member("user-1"))
	require.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, CodePersistenceFailed, reasonOf(t, err))
	assert.NotContains(t, err.Error(), "connection refused")

	deletes := rec.Filter(audit.ActionDelete)
	require.Len(t, deletes, 1)
	assert.False(t, deletes[0].Success)
}

func TestListFiles(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	for range 3 {
		f.upload(t, pngBytes(t, 8, 8), request("a.png", "image/png"))
	}
	other := request("b.png", "image/png")
	other.TenantID = "tenant-b"
	f.upload(t, pngBytes(t, 8, 8), other)

	page, err := f.svc.ListFiles(ctx, "tenant-a", ListParams{Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore())
	for _, item := range page.Items {
		assert.Equal(t, "tenant-a", item.TenantID)
	}

	next, err := f.svc.ListFiles(ctx, "tenant-a", ListParams{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, next.Items, 1)
	assert.False(t, next.HasMore())

	_, err = f.svc.ListFiles(ctx, "tenant-a/../tenant-b", ListParams{})
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, CodeInvalidTenant, reasonOf(t, err))
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	f := newFixture(t, nil, WithMetrics(reg))
	ctx := context.Background()

	view := f.upload(t, pngBytes(t, 8, 8), request("a.png", "image/png"))
	_, err := f.svc.Upload(ctx, bytes.NewReader(elfBytes()), request("a.png", "image/png"))
	require.Error(t, err)

	_, err = f.svc.GetFile(ctx, view.ID, member("user-2"))
	require.NoError(t, err)
	_, err = f.svc.GetFile(ctx, view.ID, Requester{ID: "root", TenantID: "tenant-a", Role: "system_admin"})
	require.Error(t, err)
	require.Error(t, f.svc.DeleteFile(ctx, view.ID, member("user-2")))

	m := f.svc.metrics
	assert.InDelta(t, 1, testutil.ToFloat64(m.uploads.WithLabelValues(outcomeSuccess, "")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.uploads.WithLabelValues(outcomeFailure, "TYPE_NOT_ALLOWED")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.decisions.WithLabelValues("access", outcomeAllowed)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.decisions.WithLabelValues("access", outcomeDenied)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.decisions.WithLabelValues("delete", outcomeDenied)), 0)

	count, err := testutil.GatherAndCount(reg, "filegate_uploads_total", "filegate_upload_bytes", "filegate_access_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}
