package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestIDKey
	chatIDKey
	assetKeyKey
)

// WithContext stores logger in ctx.
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}

// annotate stores value under key and returns a context whose logger carries
// the matching field.
func annotate(ctx context.Context, logger *zap.Logger, key ctxKey, value any, field zap.Field) (context.Context, *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	enriched := logger.With(field)
	return WithContext(context.WithValue(ctx, key, value), enriched), enriched
}

// WithRequestID tags ctx and its logger with the HTTP request ID.
func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	return annotate(ctx, logger, requestIDKey, requestID, zap.String("request_id", requestID))
}

// WithChatID tags ctx and its logger with the Telegram chat an update belongs to.
func WithChatID(ctx context.Context, logger *zap.Logger, chatID int64) (context.Context, *zap.Logger) {
	return annotate(ctx, logger, chatIDKey, chatID, zap.Int64("chat_id", chatID))
}

// WithAssetKey tags ctx and its logger with the asset being sold.
func WithAssetKey(ctx context.Context, logger *zap.Logger, assetKey string) (context.Context, *zap.Logger) {
	return annotate(ctx, logger, assetKeyKey, assetKey, zap.String("asset_key", assetKey))
}

func value[T any](ctx context.Context, key ctxKey) T {
	v, _ := ctx.Value(key).(T)
	return v
}

func GetRequestID(ctx context.Context) string {
	return value[string](ctx, requestIDKey)
}

func GetChatID(ctx context.Context) int64 {
	return value[int64](ctx, chatIDKey)
}

func GetAssetKey(ctx context.Context) string {
	return value[string](ctx, assetKeyKey)
}

// GetTraceID returns the hex trace ID of the active span, if any.
func GetTraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// ContextLogger adds trace and request correlation fields at write time, so
// fields reflect the span active when the entry is logged.
type ContextLogger struct {
	ctx    context.Context
	logger *zap.Logger
}

// L wraps the logger stored in ctx.
//
//	logger.L(ctx).Info("invoice created", zap.String("invoice_id", id))
func L(ctx context.Context) *ContextLogger {
	return &ContextLogger{ctx: ctx, logger: FromContext(ctx)}
}

// WithLogger wraps an explicit logger instead of the one stored in ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) *ContextLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextLogger{ctx: ctx, logger: logger}
}

func (cl *ContextLogger) With(fields ...zap.Field) *ContextLogger {
	return &ContextLogger{ctx: cl.ctx, logger: cl.logger.With(fields...)}
}

// Zap returns the wrapped logger with correlation fields applied.
func (cl *ContextLogger) Zap() *zap.Logger {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(cl.ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := GetRequestID(cl.ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

func (cl *ContextLogger) Debug(msg string, fields ...zap.Field) {
	cl.Zap().Debug(msg, fields...)
}

func (cl *ContextLogger) Info(msg string, fields ...zap.Field) {
	cl.Zap().Info(msg, fields...)
}

func (cl *ContextLogger) Warn(msg string, fields ...zap.Field) {
	cl.Zap().Warn(msg, fields...)
}

func (cl *ContextLogger) Error(msg string, fields ...zap.Field) {
	cl.Zap().Error(msg, fields...)
}
