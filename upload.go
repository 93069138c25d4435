package filegate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/dmitrymomot/filegate/pkg/audit"
	"github.com/dmitrymomot/filegate/pkg/blob"
	"github.com/dmitrymomot/filegate/pkg/catalog"
	"github.com/dmitrymomot/filegate/pkg/logger"
	"github.com/dmitrymomot/filegate/pkg/metadata"
	"github.com/dmitrymomot/filegate/pkg/naming"
	"github.com/dmitrymomot/filegate/pkg/sniff"
	"github.com/dmitrymomot/filegate/pkg/spool"
)

// Upload validates body and stores it for req.TenantID.
//
// The leading bytes are sniffed before anything else is read; a rejected type
// stops the upload without consuming the rest of body. The body is then
// buffered until the size limit, and reading stops at the first byte past it.
// The complete payload is validated again before it is written. The record is
// created last, and the payload is removed if that fails.
//
// Exactly one audit entry is recorded per call.
func (s *Service) Upload(ctx context.Context, body io.Reader, req UploadRequest) (*FileView, error) {
	ctx = logger.WithActor(logger.WithTenant(ctx, req.TenantID), req.UploadedBy)

	rec, err := s.upload(ctx, body, req)

	entry := audit.Entry{
		Action:     audit.ActionUpload,
		ActorID:    req.UploadedBy,
		TenantID:   req.TenantID,
		Filename:   req.Filename,
		Success:    err == nil,
		ReasonCode: reasonCode(err),
	}
	var size int64
	if rec != nil {
		entry.FileID = rec.ID
		size = rec.SizeBytes
	}
	s.record(ctx, entry)
	s.metrics.upload(size, err)

	if err != nil {
		s.logger.WarnContext(ctx, "upload rejected",
			slog.String("reason", reasonCode(err)),
			slog.String("filename", req.Filename),
		)
		return nil, err
	}

	s.logger.InfoContext(ctx, "file uploaded",
		slog.String("file_id", rec.ID),
		slog.String("mime_type", rec.MimeType),
		slog.Int64("size", rec.SizeBytes),
	)
	view := newFileView(*rec)
	return &view, nil
}

func (s *Service) upload(ctx context.Context, body io.Reader, req UploadRequest) (*catalog.Record, error) {
	if err := s.checkRequest(body, req); err != nil {
		return nil, err
	}

	// Early validation on the prefix only.
	head := make([]byte, s.validator.SniffSize())
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, s.streamError(ctx, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, s.streamError(ctx, err)
	}
	head = head[:n]

	early := s.validator.Sniff(head, req.ContentType)
	if !early.Valid {
		return nil, outcomeError(early)
	}

	limit := req.MaxSize
	if limit <= 0 {
		limit = s.cfg.MaxSizes.For(early.Category)
	}

	sp := spool.New(
		spool.WithMemoryThreshold(s.cfg.SpoolMemoryThreshold),
		spool.WithTempDir(s.cfg.SpoolDir),
	)
	defer func() {
		if err := sp.Close(); err != nil {
			s.logger.ErrorContext(ctx, "failed to release upload buffer", slog.Any("error", err))
		}
	}()

	if int64(len(head)) > limit {
		return nil, sizeError(limit)
	}
	if _, err := sp.Write(head); err != nil {
		return nil, s.internal(ctx, CodeStorageFailed, "failed to buffer upload", err)
	}
	if err := sp.Fill(ctx, body, limit); err != nil {
		switch {
		case errors.Is(err, spool.ErrLimitExceeded):
			return nil, sizeError(limit)
		case errors.Is(err, spool.ErrTempFile):
			return nil, s.internal(ctx, CodeStorageFailed, "failed to buffer upload", err)
		default:
			return nil, s.streamError(ctx, err)
		}
	}

	// Final validation on the complete payload.
	payload, err := sp.Reader()
	if err != nil {
		return nil, s.internal(ctx, CodeStorageFailed, "failed to read buffered upload", err)
	}
	final, err := s.validator.Reverify(payload, early.Detected)
	if err != nil {
		return nil, s.internal(ctx, CodeStorageFailed, "failed to read buffered upload", err)
	}
	if !final.Valid {
		return nil, outcomeError(final)
	}

	unique := s.cfg.GenerateUniqueNames
	if req.GenerateUniqueName != nil {
		unique = *req.GenerateUniqueName
	}
	name := s.resolver.ResolveName(req.Filename, unique)
	storagePath, err := s.resolver.ResolvePath(name, req.TenantID, final.Category)
	if err != nil {
		if errors.Is(err, naming.ErrInvalidTenant) {
			return nil, validationError(CodeInvalidTenant, "invalid tenant")
		}
		return nil, validationError(CodeInvalidRequest, "invalid file name")
	}

	unlock, err := s.locker.Lock(ctx, storagePath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.streamError(ctx, err)
		}
		return nil, s.internal(ctx, CodeStorageFailed, "failed to lock storage path", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "failed to release storage path lock",
				slog.String("path", storagePath),
				slog.Any("error", err),
			)
		}
	}()

	taken, err := s.repo.ExistsByPath(ctx, storagePath, req.TenantID)
	if err != nil {
		return nil, s.internal(ctx, CodePersistenceFailed, "failed to check storage path", err)
	}
	if taken {
		return nil, conflictError()
	}

	if payload, err = sp.Reader(); err != nil {
		return nil, s.internal(ctx, CodeStorageFailed, "failed to read buffered upload", err)
	}
	if err := s.blobs.Put(ctx, storagePath, payload, sp.Size(), final.Detected); err != nil {
		if errors.Is(err, blob.ErrExists) {
			return nil, conflictError()
		}
		if ctx.Err() != nil {
			return nil, s.streamError(ctx, err)
		}
		return nil, s.internal(ctx, CodeStorageFailed, "failed to write file", err)
	}

	rec := &catalog.Record{
		StoredFilename:      name,
		OriginalFilename:    req.Filename,
		StoragePath:         storagePath,
		PublicURL:           s.blobs.URL(storagePath),
		MimeType:            final.Detected,
		SizeBytes:           sp.Size(),
		TenantID:            req.TenantID,
		UploadedBy:          req.UploadedBy,
		Metadata:            s.extractMetadata(ctx, sp, final),
		ContentRestrictions: req.ContentRestrictions,
		IsActive:            true,
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		s.removeBlob(ctx, storagePath)
		if errors.Is(err, catalog.ErrConflict) {
			return nil, conflictError()
		}
		return nil, s.internal(ctx, CodePersistenceFailed, "failed to create file record", err)
	}

	return rec, nil
}

// checkRequest rejects requests that cannot succeed before body is touched.
func (s *Service) checkRequest(body io.Reader, req UploadRequest) error {
	switch {
	case !naming.ValidTenant(req.TenantID):
		return validationError(CodeInvalidTenant, "invalid tenant")
	case strings.TrimSpace(req.UploadedBy) == "":
		return validationError(CodeInvalidRequest, "uploader is required")
	case body == nil:
		return validationError(CodeInvalidRequest, "file body is required")
	case len(req.ContentRestrictions) > 0 && !json.Valid(req.ContentRestrictions):
		return validationError(CodeInvalidRestrictions, "content restrictions must be valid JSON")
	}
	return nil
}

// extractMetadata returns nil on any failure; metadata never fails an upload.
func (s *Service) extractMetadata(ctx context.Context, sp *spool.Spool, o sniff.Outcome) json.RawMessage {
	if !s.cfg.MetadataEnabled {
		return nil
	}

	payload, err := sp.Reader()
	if err != nil {
		s.logger.WarnContext(ctx, "metadata extraction skipped", slog.Any("error", err))
		return nil
	}

	md, err := s.extractors.Extract(ctx, o.Category, payload, o.Detected)
	if err != nil {
		if !errors.Is(err, metadata.ErrNoExtractor) {
			s.logger.WarnContext(ctx, "metadata extraction failed",
				slog.String("mime_type", o.Detected),
				slog.Any("error", err),
			)
		}
		return nil
	}

	raw, err := md.JSON()
	if err != nil {
		s.logger.WarnContext(ctx, "metadata could not be encoded", slog.Any("error", err))
		return nil
	}
	return raw
}

// removeBlob undoes a write whose record could not be created. A failure is
// logged; the caller still reports the original error.
func (s *Service) removeBlob(ctx context.Context, storagePath string) {
	err := s.blobs.Delete(context.WithoutCancel(ctx), storagePath)
	if err != nil && !errors.Is(err, blob.ErrNotFound) {
		s.logger.ErrorContext(ctx, "failed to remove orphaned file",
			slog.String("path", storagePath),
			slog.Any("error", err),
		)
	}
}

func (s *Service) streamError(ctx context.Context, err error) *Error {
	s.logger.DebugContext(ctx, "upload stream aborted", slog.Any("error", err))
	return validationError(CodeStreamAborted, "upload was interrupted")
}

// internal logs cause and returns an error that does not reveal it.
func (s *Service) internal(ctx context.Context, code, msg string, cause error) *Error {
	s.logger.ErrorContext(ctx, msg, slog.String("reason", code), slog.Any("error", cause))
	return internalError(code)
}

func sizeError(limit int64) *Error {
	return validationError(CodeSizeExceeded, "file exceeds the maximum size of "+humanize.IBytes(uint64(limit)))
}

func conflictError() *Error {
	return newError(ErrConflict, CodePathConflict, "a file with this name already exists")
}
