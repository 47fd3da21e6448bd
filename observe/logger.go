package observe

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a configured level name (debug, info, warn, error) to a
// zap level. The empty string means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil || l > zapcore.ErrorLevel {
		return zapcore.InfoLevel, fmt.Errorf("%w: %q", ErrInvalidLogLevel, s)
	}
	return l, nil
}

// zapLogger adapts *zap.Logger to Logger: Field values become zap fields,
// sensitive keys are redacted and the active span's IDs ride along.
type zapLogger struct {
	z *zap.Logger
}

// NewLogger returns a JSON logger writing to stderr. An unknown level
// falls back to info; Config.Validate rejects it earlier.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter returns a JSON logger writing one line per entry to
// w. Derived loggers share w and its lock.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	lvl, _ := ParseLevel(level)
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), lvl)
	return &zapLogger{z: zap.New(core)}
}

// NewZapLogger wraps an existing zap logger, for hosts that already
// configure zap themselves.
func NewZapLogger(z *zap.Logger) Logger {
	return &zapLogger{z: z}
}

func (l *zapLogger) WithMeta(meta Meta) Logger {
	attrs := meta.attributes()
	fields := make([]zap.Field, 0, len(attrs))
	for _, kv := range attrs {
		fields = append(fields, zap.String(string(kv.Key), kv.Value.AsString()))
	}
	return &zapLogger{z: l.z.With(fields...)}
}

func (l *zapLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.write(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *zapLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.write(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *zapLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.write(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *zapLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.write(ctx, zapcore.ErrorLevel, msg, fields)
}

func (l *zapLogger) write(ctx context.Context, lvl zapcore.Level, msg string, fields []Field) {
	ce := l.z.Check(lvl, msg)
	if ce == nil {
		return
	}

	zf := make([]zap.Field, 0, len(fields)+2)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		zf = append(zf,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	for _, f := range fields {
		zf = append(zf, zapField(f))
	}
	ce.Write(zf...)
}

// zapField converts f, replacing prompts and credentials with a marker.
func zapField(f Field) zap.Field {
	if slices.Contains(RedactedFields, f.Key) {
		return zap.String(f.Key, "[REDACTED]")
	}
	if err, ok := f.Value.(error); ok {
		return zap.String(f.Key, err.Error())
	}
	return zap.Any(f.Key, f.Value)
}
