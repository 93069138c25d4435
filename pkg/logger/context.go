package logger

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	tenantKey ctxKey = iota
	actorKey
	requestIDKey
)

// WithTenant stores the tenant id on the context for log enrichment.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// WithActor stores the acting user id on the context for log enrichment.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// WithRequestID stores the caller's request id on the context for log enrichment.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// TenantExtractor adds "tenant_id" when present on the context.
func TenantExtractor() ContextExtractor {
	return stringExtractor(tenantKey, "tenant_id")
}

// ActorExtractor adds "actor_id" when present on the context.
func ActorExtractor() ContextExtractor {
	return stringExtractor(actorKey, "actor_id")
}

// RequestIDExtractor adds "request_id" when present on the context.
func RequestIDExtractor() ContextExtractor {
	return stringExtractor(requestIDKey, "request_id")
}

// DefaultExtractors returns the request id, tenant and actor extractors.
func DefaultExtractors() []ContextExtractor {
	return []ContextExtractor{RequestIDExtractor(), TenantExtractor(), ActorExtractor()}
}

func stringExtractor(key ctxKey, name string) ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		v, ok := ctx.Value(key).(string)
		if !ok || v == "" {
			return slog.Attr{}, false
		}
		return slog.String(name, v), true
	}
}
