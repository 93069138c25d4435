package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/filegate/pkg/logger"
)

const (
	defaultTimeout = 5 * time.Second

	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc matches the Healthcheck closures of the blob, db and redis packages.
type CheckFunc func(ctx context.Context) error

// Checks maps a check name to its function.
type Checks map[string]CheckFunc

// Report is the aggregated outcome of a Run.
type Report struct {
	Checks map[string]Check `json:"checks,omitempty"`
	Status string           `json:"status"`
}

// Healthy reports whether every check passed.
func (r *Report) Healthy() bool { return r.Status == StatusHealthy }

// Err returns nil for a healthy report and ErrCheckFailed naming the failed
// checks otherwise.
func (r *Report) Err() error {
	if r.Healthy() {
		return nil
	}
	var errs []error
	for name, c := range r.Checks {
		if c.Status != StatusHealthy {
			errs = append(errs, fmt.Errorf("%s: %s", name, c.Error))
		}
	}
	return errors.Join(append([]error{ErrCheckFailed}, errs...)...)
}

// Check is the outcome of one check.
type Check struct {
	Status  string        `json:"status"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

type config struct {
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures Run.
type Option func(*config)

// WithTimeout bounds the whole run.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger logs failed checks at warn level.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Run executes all checks in parallel under one timeout.
func Run(ctx context.Context, checks Checks, opts ...Option) *Report {
	cfg := &config{timeout: defaultTimeout, logger: logger.NewNope()}
	for _, opt := range opts {
		opt(cfg)
	}

	if len(checks) == 0 {
		return &Report{Status: StatusHealthy}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]Check, len(checks))
		failed  bool
	)

	for name, check := range checks {
		wg.Go(func() {
			start := time.Now()
			result := Check{Status: StatusHealthy}
			if err := runOne(ctx, check); err != nil {
				result.Status = StatusUnhealthy
				result.Error = err.Error()
				cfg.logger.WarnContext(ctx, "health check failed",
					slog.String("check", name),
					slog.String("error", err.Error()),
				)
			}
			result.Latency = time.Since(start)

			mu.Lock()
			results[name] = result
			failed = failed || result.Status != StatusHealthy
			mu.Unlock()
		})
	}
	wg.Wait()

	status := StatusHealthy
	if failed {
		status = StatusUnhealthy
	}
	return &Report{Status: status, Checks: results}
}

// runOne stops waiting when ctx expires even if check ignores it.
func runOne(ctx context.Context, check CheckFunc) error {
	if check == nil {
		return ErrNilCheck
	}
	done := make(chan error, 1)
	go func() { done <- check(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ErrCheckTimeout
	}
}
