package audit

import (
	"context"
	"log/slog"
)

// Log writes each entry as a structured log line.
type Log struct {
	log *slog.Logger
}

// NewLog creates a Log recorder writing to l.
func NewLog(l *slog.Logger) *Log {
	return &Log{log: l}
}

func (l *Log) Record(ctx context.Context, e Entry) error {
	level := slog.LevelInfo
	if !e.Success {
		level = slog.LevelWarn
	}
	l.log.LogAttrs(ctx, level, "file audit", slog.Group("audit",
		slog.String("action", string(e.Action)),
		slog.String("file_id", e.FileID),
		slog.String("actor_id", e.ActorID),
		slog.String("tenant_id", e.TenantID),
		slog.String("filename", e.Filename),
		slog.Bool("success", e.Success),
		slog.String("reason_code", e.ReasonCode),
		slog.Time("at", e.Timestamp),
	))
	return nil
}
