// Package requestctx carries per-request values between middleware and handlers.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

// key is unexported so values can only be set through this package.
type key int

const (
	loggerKey key = iota
	traceKey
	debugKey
	clientIPKey
)

var noopLogger = zap.NewNop()

// TraceInfo is the trace context extracted from the incoming request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func value[T any](ctx context.Context, k key) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(k).(T)
	return v, ok
}

func with(ctx context.Context, k key, v any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, k, v)
}

// WithLogger attaches the request scoped logger. A nil logger stores a no-op one.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return with(ctx, loggerKey, logger)
}

// Logger never returns nil.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := value[*zap.Logger](ctx, loggerKey); ok && logger != nil {
		return logger
	}
	return noopLogger
}

func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return with(ctx, traceKey, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	return value[TraceInfo](ctx, traceKey)
}

func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithDebugErrors allows error responses to include causes and stacks. Production
// never sets it.
func WithDebugErrors(ctx context.Context, enabled bool) context.Context {
	return with(ctx, debugKey, enabled)
}

func DebugErrors(ctx context.Context) bool {
	enabled, _ := value[bool](ctx, debugKey)
	return enabled
}

// WithClientIP records the caller address used in audit entries.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return with(ctx, clientIPKey, ip)
}

func ClientIP(ctx context.Context) string {
	ip, _ := value[string](ctx, clientIPKey)
	return ip
}
