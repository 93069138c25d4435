package filegate

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/dmitrymomot/filegate/pkg/access"
	"github.com/dmitrymomot/filegate/pkg/audit"
	"github.com/dmitrymomot/filegate/pkg/catalog"
	"github.com/dmitrymomot/filegate/pkg/logger"
	"github.com/dmitrymomot/filegate/pkg/naming"
)

// GetFile returns the file with id if r may read it.
// A file of another tenant is reported as not found.
func (s *Service) GetFile(ctx context.Context, id string, r Requester) (*FileView, error) {
	ctx = requesterContext(ctx, r)

	rec, err := s.authorizeRead(ctx, id, r)
	s.recordAccess(ctx, audit.ActionAccess, id, r, rec, err)
	if err != nil {
		return nil, err
	}

	view := newFileView(*rec)
	return &view, nil
}

// OpenFile returns the content of the file with id if r may read it, under
// the same rules as GetFile. The caller closes the reader.
func (s *Service) OpenFile(ctx context.Context, id string, r Requester) (io.ReadCloser, *FileView, error) {
	ctx = requesterContext(ctx, r)

	rec, err := s.authorizeRead(ctx, id, r)
	var rc io.ReadCloser
	if err == nil {
		rc, err = s.blobs.Open(ctx, rec.StoragePath)
		if err != nil {
			err = s.internal(ctx, CodeStorageFailed, "failed to open file content", err)
		}
	}
	s.recordAccess(ctx, audit.ActionAccess, id, r, rec, err)
	if err != nil {
		return nil, nil, err
	}

	view := newFileView(*rec)
	return rc, &view, nil
}

// DeleteFile soft-deletes the file with id if r uploaded it. The content is
// removed later by the purge worker.
func (s *Service) DeleteFile(ctx context.Context, id string, r Requester) error {
	ctx = requesterContext(ctx, r)

	rec, err := s.authorizeDelete(ctx, id, r)
	if err == nil {
		var deleted bool
		deleted, err = s.repo.Delete(ctx, rec.ID, rec.TenantID)
		switch {
		case err != nil:
			err = s.internal(ctx, CodePersistenceFailed, "failed to delete file record", err)
		case !deleted:
			err = notFoundError(CodeNotFound)
		}
	}
	s.recordAccess(ctx, audit.ActionDelete, id, r, rec, err)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "file deleted", slog.String("file_id", rec.ID))
	return nil
}

// ListFiles returns a page of the tenant's active files, newest first.
// Access to the tenant is assumed to be checked by the caller.
func (s *Service) ListFiles(ctx context.Context, tenantID string, p ListParams) (*catalog.Page[FileView], error) {
	if !naming.ValidTenant(tenantID) {
		return nil, validationError(CodeInvalidTenant, "invalid tenant")
	}

	page, err := s.repo.FindByTenant(ctx, tenantID, p.Normalize())
	if err != nil {
		return nil, s.internal(logger.WithTenant(ctx, tenantID), CodePersistenceFailed, "failed to list files", err)
	}
	return catalog.MapPage(page, newFileView), nil
}

func (s *Service) authorizeRead(ctx context.Context, id string, r Requester) (*catalog.Record, error) {
	rec, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	d := s.gate.AuthorizeRead(resourceOf(rec), subjectOf(r))
	s.metrics.decision(string(audit.ActionAccess), d.Allowed)
	if !d.Allowed {
		return rec, decisionError(d)
	}
	return rec, nil
}

func (s *Service) authorizeDelete(ctx context.Context, id string, r Requester) (*catalog.Record, error) {
	rec, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	d := s.gate.AuthorizeDelete(resourceOf(rec), subjectOf(r))
	s.metrics.decision(string(audit.ActionDelete), d.Allowed)
	if !d.Allowed {
		return rec, decisionError(d)
	}
	return rec, nil
}

// find looks the record up across tenants so the gate can tell a foreign
// file from a missing one.
func (s *Service) find(ctx context.Context, id string) (*catalog.Record, error) {
	rec, err := s.repo.FindByID(ctx, id, "")
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return nil, notFoundError(CodeNotFound)
	case err != nil:
		return nil, s.internal(ctx, CodePersistenceFailed, "failed to load file record", err)
	}
	return rec, nil
}

// recordAccess audits a read or delete attempt and logs failures.
func (s *Service) recordAccess(ctx context.Context, action audit.Action, id string, r Requester, rec *catalog.Record, err error) {
	entry := audit.Entry{
		Action:     action,
		FileID:     id,
		ActorID:    r.ID,
		TenantID:   r.TenantID,
		Success:    err == nil,
		ReasonCode: reasonCode(err),
	}
	if rec != nil {
		entry.FileID = rec.ID
		entry.Filename = rec.StoredFilename
	}
	s.record(ctx, entry)

	if err != nil {
		s.logger.WarnContext(ctx, "file "+string(action)+" failed",
			slog.String("file_id", id),
			slog.String("reason", entry.ReasonCode),
		)
	}
}

func resourceOf(rec *catalog.Record) access.Resource {
	return access.Resource{
		TenantID:     rec.TenantID,
		UploadedBy:   rec.UploadedBy,
		Restrictions: rec.ContentRestrictions,
	}
}

func subjectOf(r Requester) access.Subject {
	return access.Subject{ID: r.ID, TenantID: r.TenantID, Role: r.Role}
}

func requesterContext(ctx context.Context, r Requester) context.Context {
	return logger.WithActor(logger.WithTenant(ctx, r.TenantID), r.ID)
}
