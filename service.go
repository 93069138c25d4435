package filegate

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/filegate/pkg/access"
	"github.com/dmitrymomot/filegate/pkg/audit"
	"github.com/dmitrymomot/filegate/pkg/blob"
	"github.com/dmitrymomot/filegate/pkg/catalog"
	"github.com/dmitrymomot/filegate/pkg/logger"
	"github.com/dmitrymomot/filegate/pkg/metadata"
	"github.com/dmitrymomot/filegate/pkg/naming"
	"github.com/dmitrymomot/filegate/pkg/pathlock"
	"github.com/dmitrymomot/filegate/pkg/sniff"
)

// ListParams selects a page of files.
type ListParams = catalog.ListParams

// UploadRequest describes an upload. The body is passed separately.
type UploadRequest struct {
	// Filename and ContentType are the client's claims. Neither decides the
	// accepted type; ContentType must agree with the detected one.
	Filename    string
	ContentType string

	TenantID   string
	UploadedBy string

	// MaxSize overrides the category limit when positive.
	MaxSize int64
	// GenerateUniqueName overrides the configured naming mode when set.
	GenerateUniqueName *bool
	// ContentRestrictions is stored as is. Setting "restrictedAudience" to
	// true limits reads to privileged roles.
	ContentRestrictions json.RawMessage
}

// Requester is the authenticated caller of a read or delete.
type Requester struct {
	ID       string
	TenantID string
	Role     string
}

// FileView is the caller-facing projection of a stored file.
type FileView struct {
	ID               string          `json:"id"`
	Filename         string          `json:"filename"`
	OriginalFilename string          `json:"original_filename"`
	URL              string          `json:"url"`
	MimeType         string          `json:"mime_type"`
	SizeBytes        int64           `json:"size_bytes"`
	TenantID         string          `json:"tenant_id"`
	UploadedBy       string          `json:"uploaded_by"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	Restricted       bool            `json:"restricted"`
	CreatedAt        time.Time       `json:"created_at"`
}

func newFileView(r catalog.Record) FileView {
	return FileView{
		ID:               r.ID,
		Filename:         r.StoredFilename,
		OriginalFilename: r.OriginalFilename,
		URL:              r.PublicURL,
		MimeType:         r.MimeType,
		SizeBytes:        r.SizeBytes,
		TenantID:         r.TenantID,
		UploadedBy:       r.UploadedBy,
		Metadata:         r.Metadata,
		Restricted:       access.Restricted(r.ContentRestrictions),
		CreatedAt:        r.CreatedAt,
	}
}

// Service runs uploads and guards reads and deletes.
// It is safe for concurrent use.
type Service struct {
	cfg        Config
	validator  *sniff.Validator
	resolver   *naming.Resolver
	gate       *access.Gate
	extractors *metadata.Registry
	repo       catalog.Repository
	blobs      blob.Store
	recorder   audit.Recorder
	locker     pathlock.Locker
	registerer prometheus.Registerer
	metrics    *metrics
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Service storing records in repo and payloads in blobs.
func New(cfg Config, repo catalog.Repository, blobs blob.Store, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if repo == nil || blobs == nil {
		return nil, ErrInvalidConfig
	}

	s := &Service{
		cfg:        cfg,
		repo:       repo,
		blobs:      blobs,
		gate:       access.New(cfg.Access),
		extractors: metadata.NewRegistry(),
		locker:     pathlock.NewLocal(),
		logger:     logger.NewNope(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.recorder == nil {
		s.recorder = audit.NewLog(s.logger)
	}
	if !cfg.AuditEnabled {
		s.recorder = audit.Nop{}
	}

	validator, err := sniff.New(cfg.AllowedTypes.AllowList(),
		sniff.WithSniffSize(cfg.SniffBytes),
		sniff.WithMaxPixels(cfg.MaxImagePixels),
	)
	if err != nil {
		return nil, err
	}
	s.validator = validator
	s.resolver = naming.New(
		naming.WithClock(s.now),
		naming.WithMaxNameLength(cfg.MaxFilenameLength),
	)
	s.metrics = newMetrics(s.registerer)

	return s, nil
}

// record writes an audit entry. Failures are logged and never returned.
func (s *Service) record(ctx context.Context, e audit.Entry) {
	e.Timestamp = s.now().UTC()
	if err := s.recorder.Record(context.WithoutCancel(ctx), e); err != nil {
		s.logger.ErrorContext(ctx, "failed to record audit entry",
			slog.String("action", string(e.Action)),
			slog.String("file_id", e.FileID),
			slog.Any("error", err),
		)
	}
}
