// Package filegate ingests uploaded files for a multi-tenant platform and
// guards later access to them.
//
// An upload is accepted only after its true content type has been proven from
// its bytes, twice: once on the leading bytes before the body is consumed, and
// again on the complete payload once it has been spooled under the size limit.
// Accepted files are stored under a path that starts with the tenant id:
//
//	{tenant}/{images|audio|video|files}/{YYYY}/{MM}/{name}
//
// A record is created only after the payload is written; if the record cannot
// be created the payload is removed again.
//
// # Quick Start
//
//	cfg, err := filegate.LoadConfig("filegate.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	blobs, err := blob.NewLocal(cfg.StorageRoot, blob.WithBaseURL(cfg.PublicBaseURL))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	svc, err := filegate.New(cfg, catalog.NewMemory(), blobs,
//	    filegate.WithLogger(logger),
//	    filegate.WithRecorder(audit.NewLog(logger)),
//	)
//
//	view, err := svc.Upload(ctx, r.Body, filegate.UploadRequest{
//	    Filename:    header.Filename,
//	    ContentType: header.Header.Get("Content-Type"),
//	    TenantID:    user.TenantID,
//	    UploadedBy:  user.ID,
//	})
//
// Open wires the whole stack (Postgres, Redis, S3 or local disk, purge
// worker) from a Config instead.
//
// # Errors
//
// Every operation returns a *Error whose Kind is one of ErrValidation,
// ErrConflict, ErrForbidden, ErrNotFound or ErrInternal:
//
//	switch {
//	case errors.Is(err, filegate.ErrValidation):
//	    // 422
//	case errors.Is(err, filegate.ErrNotFound):
//	    // 404
//	}
//
// Messages are safe to show to the requester. The reason code written to the
// audit trail is not part of the message.
//
// # Access
//
// Reads are refused to platform administrators, to requesters of another
// tenant and, for files whose restrictions set restrictedAudience, to roles
// outside the privileged set. A requester of another tenant gets ErrNotFound,
// so existence never leaks across tenants. Deletes are reserved to the
// uploader. Every attempt, allowed or not, is recorded by the audit Recorder
// before the call returns.
package filegate
