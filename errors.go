package filegate

import (
	"errors"

	"github.com/dmitrymomot/filegate/pkg/access"
	"github.com/dmitrymomot/filegate/pkg/sniff"
)

// Error kinds. Use errors.Is to tell them apart.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
	ErrInternal   = errors.New("internal error")
)

// Reason codes recorded in the audit trail, in addition to the validation
// codes of package sniff and the decision codes of package access.
const (
	CodeInvalidTenant       = "INVALID_TENANT"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInvalidRestrictions = "INVALID_RESTRICTIONS"
	CodeSizeExceeded        = "SIZE_EXCEEDED"
	CodeStreamAborted       = "STREAM_ABORTED"
	CodePathConflict        = "PATH_CONFLICT"
	CodeNotFound            = "NOT_FOUND"
	CodeStorageFailed       = "STORAGE_FAILED"
	CodePersistenceFailed   = "PERSISTENCE_FAILED"
)

// Error is the error type returned by Service operations.
// Message is meant for the requester. The reason code is kept for the audit
// trail and logs and is not exposed.
type Error struct {
	Kind    error
	Message string
	code    string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, code, message string) *Error {
	return &Error{Kind: kind, Message: message, code: code}
}

func validationError(code, message string) *Error {
	return newError(ErrValidation, code, message)
}

func internalError(code string) *Error {
	return newError(ErrInternal, code, "the file could not be processed, please try again later")
}

func notFoundError(code string) *Error {
	return newError(ErrNotFound, code, "file not found")
}

// outcomeError converts a failed validation outcome.
func outcomeError(o sniff.Outcome) *Error {
	return validationError(o.Code, o.Message)
}

// decisionError converts a denied access decision. A requester outside the
// file's tenant must not learn that the file exists.
func decisionError(d access.Decision) *Error {
	switch d.Reason {
	case access.CodeTenantIsolation:
		return notFoundError(d.Reason)
	case access.CodeCrossTenantAdmin:
		return newError(ErrForbidden, d.Reason, "administrators cannot access tenant files")
	case access.CodeRestricted:
		return newError(ErrForbidden, d.Reason, "this file is restricted to a limited audience")
	case access.CodeNotOwner:
		return newError(ErrForbidden, d.Reason, "only the uploader can delete this file")
	default:
		return newError(ErrForbidden, d.Reason, "access denied")
	}
}

// reasonCode returns the audit reason code carried by err.
func reasonCode(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) && fe.code != "" {
		return fe.code
	}
	return CodeStorageFailed
}
