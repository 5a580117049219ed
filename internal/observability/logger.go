package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type (
	correlationIDKey struct{}
	tenantIDKey      struct{}
)

type loggerOptions struct {
	filePath   string
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
}

type LoggerOption func(*loggerOptions)

// WithRotatingFile mirrors every entry into a size-rotated JSON file at path.
func WithRotatingFile(path string, maxSizeMB, maxBackups, maxAgeDays int) LoggerOption {
	return func(o *loggerOptions) {
		o.filePath = strings.TrimSpace(path)
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
		o.maxAgeDays = maxAgeDays
	}
}

func NewLogger(level string, opts ...LoggerOption) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	var o loggerOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	buildOpts := []zap.Option{zap.AddCaller()}
	if o.filePath != "" {
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(cfg.EncoderConfig),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   o.filePath,
				MaxSize:    max(o.maxSizeMB, 1),
				MaxBackups: o.maxBackups,
				MaxAge:     o.maxAgeDays,
				Compress:   true,
			}),
			cfg.Level,
		)
		buildOpts = append(buildOpts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}

	logger, err := cfg.Build(buildOpts...)
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

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, correlationIDKey{})
}

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, tenantIDKey{}, strings.TrimSpace(tenantID))
}

func TenantIDFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, tenantIDKey{})
}

func stringFromContext(ctx context.Context, key any) (string, bool) {
	if ctx == nil {
		return "", false
	}

	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}

	return v, true
}

// WithContextLogger attaches the correlation and tenant ids carried by ctx.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	fields := make([]zap.Field, 0, 2)
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, zap.String("correlationId", correlationID))
	}
	if tenantID, ok := TenantIDFromContext(ctx); ok {
		fields = append(fields, zap.String("tenantId", tenantID))
	}
	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}
