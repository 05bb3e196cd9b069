package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// DomainKey is the context key for decision domains.
	DomainKey contextKey = "domain"

	// TenantKey is the context key for tenant identifiers.
	TenantKey contextKey = "tenant"

	// VariantKey is the context key for experiment variant names.
	VariantKey contextKey = "variant"

	// ExperimentIDKey is the context key for experiment IDs.
	ExperimentIDKey contextKey = "experiment_id"
)

// fieldOrder fixes the order in which context fields are emitted.
var fieldOrder = []contextKey{RequestIDKey, DomainKey, TenantKey, VariantKey, ExperimentIDKey}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// WithDomain adds a decision domain to the context.
func WithDomain(ctx context.Context, domain string) context.Context {
	return context.WithValue(ctx, DomainKey, domain)
}

// GetDomain retrieves the decision domain from the context.
func GetDomain(ctx context.Context) string {
	return getString(ctx, DomainKey)
}

// WithTenant adds a tenant identifier to the context.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// GetTenant retrieves the tenant identifier from the context.
func GetTenant(ctx context.Context) string {
	return getString(ctx, TenantKey)
}

// WithVariant adds an experiment variant to the context.
func WithVariant(ctx context.Context, variant string) context.Context {
	return context.WithValue(ctx, VariantKey, variant)
}

// GetVariant retrieves the experiment variant from the context.
func GetVariant(ctx context.Context) string {
	return getString(ctx, VariantKey)
}

// WithExperimentID adds an experiment ID to the context.
func WithExperimentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ExperimentIDKey, id)
}

// GetExperimentID retrieves the experiment ID from the context.
func GetExperimentID(ctx context.Context) string {
	return getString(ctx, ExperimentIDKey)
}

func getString(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// extractContextFields extracts the known fields from ctx as key-value
// pairs suitable for logger.With().
func extractContextFields(ctx context.Context) []any {
	var fields []any
	for _, key := range fieldOrder {
		if v := getString(ctx, key); v != "" {
			fields = append(fields, string(key), v)
		}
	}
	return fields
}

// ContextLogger is a logger that automatically includes context fields.
type ContextLogger struct {
	logger *Logger
	ctx    context.Context
}

// NewContextLogger creates a logger that automatically includes context fields.
func NewContextLogger(logger *Logger, ctx context.Context) *ContextLogger {
	return &ContextLogger{
		logger: logger.WithContext(ctx),
		ctx:    ctx,
	}
}

// Debug logs a debug message with context fields.
func (cl *ContextLogger) Debug(msg string, args ...any) {
	cl.logger.log(cl.ctx, slog.LevelDebug, msg, args...)
}

// Info logs an info message with context fields.
func (cl *ContextLogger) Info(msg string, args ...any) {
	cl.logger.log(cl.ctx, slog.LevelInfo, msg, args...)
}

// Warn logs a warning message with context fields.
func (cl *ContextLogger) Warn(msg string, args ...any) {
	cl.logger.log(cl.ctx, slog.LevelWarn, msg, args...)
}

// Error logs an error message with context fields.
func (cl *ContextLogger) Error(msg string, args ...any) {
	cl.logger.log(cl.ctx, slog.LevelError, msg, args...)
}

// With creates a new context logger with additional fields.
func (cl *ContextLogger) With(args ...any) *ContextLogger {
	return &ContextLogger{
		logger: cl.logger.With(args...),
		ctx:    cl.ctx,
	}
}
