package filegate

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/filegate/pkg/audit"
	"github.com/dmitrymomot/filegate/pkg/metadata"
	"github.com/dmitrymomot/filegate/pkg/pathlock"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
// Defaults to a logger that discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRecorder sets where audit entries go.
// Defaults to a structured log line per entry. Ignored when auditing is
// disabled in the configuration.
func WithRecorder(r audit.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLocker sets the per-path lock held between the existence check and the
// record insert. Defaults to an in-process lock; use pathlock.Redis when
// several instances share storage.
func WithLocker(l pathlock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithMetadata replaces the metadata extractors.
func WithMetadata(r *metadata.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.extractors = r
		}
	}
}

// WithMetrics registers the service collectors on reg.
// A registerer must not be shared by two services.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Service) {
		if reg != nil {
			s.registerer = reg
		}
	}
}

// WithClock sets the time source used for storage paths and audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
