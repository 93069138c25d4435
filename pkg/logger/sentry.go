package logger

import (
	"context"
	"log/slog"
	"os"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
)

// SentryConfig holds Sentry integration configuration.
type SentryConfig struct {
	DSN         string `env:"SENTRY_DSN" yaml:"dsn"`
	Environment string `env:"SENTRY_ENVIRONMENT" yaml:"environment"`
	// MinLevel selects what is stored in Sentry: warnings and errors by default,
	// only errors when set to slog.LevelError.
	MinLevel slog.Level `yaml:"-"`
}

// NewWithSentry creates a logger that writes JSON to stdout and forwards
// warnings and errors to Sentry. Rejected uploads and denied access are logged
// at warn level, so they become searchable Sentry logs; internal failures are
// logged at error level and open issues.
// If DSN is empty or Sentry fails to initialise, only stdout is used.
func NewWithSentry(cfg SentryConfig, level slog.Level, extractors ...ContextExtractor) *slog.Logger {
	if len(extractors) == 0 {
		extractors = DefaultExtractors()
	}

	stdout := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.DSN == "" {
		return slog.New(NewContextHandler(stdout, extractors...))
	}

	env := cfg.Environment
	if env == "" {
		env = "production"
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: env,
		EnableLogs:  true,
	}); err != nil {
		slog.New(stdout).Error("failed to initialize Sentry", slog.String("error", err.Error()))
		return slog.New(NewContextHandler(stdout, extractors...))
	}

	logLevels := []slog.Level{slog.LevelWarn, slog.LevelError}
	if cfg.MinLevel == slog.LevelError {
		logLevels = []slog.Level{slog.LevelError}
	}
	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   logLevels,
	}.NewSentryHandler(context.Background())

	return slog.New(NewContextHandler(fanoutHandler{stdout, sentryHandler}, extractors...))
}
