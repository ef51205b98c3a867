package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the JSON production logger. Every entry carries the
// component name, e.g. "api" or "worker".
func NewLogger(level string, component string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	opts := []zap.Option{zap.AddCaller()}
	if component = strings.TrimSpace(component); component != "" {
		opts = append(opts, zap.Fields(zap.String("component", component)))
	}

	logger, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

// Context keys for the ids a log line may be scoped to.
type ctxKey int

const (
	correlationIDKey ctxKey = iota
	requestIDKey
	recipientIDKey
)

var ctxFields = []struct {
	key   ctxKey
	field string
}{
	{correlationIDKey, "correlationId"},
	{requestIDKey, "requestId"},
	{recipientIDKey, "recipientId"},
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return withID(ctx, correlationIDKey, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	return idFrom(ctx, correlationIDKey)
}

// WithRequestID stores the notification request id handled by ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withID(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	return idFrom(ctx, requestIDKey)
}

// WithRecipientID stores the recipient a delivery is addressed to.
func WithRecipientID(ctx context.Context, recipientID string) context.Context {
	return withID(ctx, recipientIDKey, recipientID)
}

func RecipientIDFromContext(ctx context.Context) (string, bool) {
	return idFrom(ctx, recipientIDKey)
}

// WithContextLogger scopes logger to the ids stored in ctx.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	var fields []zap.Field
	for _, f := range ctxFields {
		if id, ok := idFrom(ctx, f.key); ok {
			fields = append(fields, zap.String(f.field, id))
		}
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

func withID(ctx context.Context, key ctxKey, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, strings.TrimSpace(id))
}

func idFrom(ctx context.Context, key ctxKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(key).(string)
	return id, ok && id != ""
}
