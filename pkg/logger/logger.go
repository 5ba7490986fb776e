// Package logger wraps zap with the handful of helpers every service in
// this module calls: level/encoding construction from config, a Field
// constructor that accepts any value, and context-aware logging methods.
package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin façade over *zap.Logger.
type Logger struct {
	z *zap.Logger
}

// New builds a Logger at the given level ("debug", "info", "warn", "error")
// with the given encoding ("json" or "console").
func New(level, encoding string) (*Logger, error) {
	var zlevel zapcore.Level
	if err := zlevel.UnmarshalText([]byte(level)); err != nil {
		zlevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zlevel)
	cfg.Encoding = encoding
	if encoding == "" {
		cfg.Encoding = "json"
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// Field builds a zap.Field from an arbitrary value, so call sites don't
// need to pick zap.String/zap.Int/etc. themselves.
func Field(key string, value interface{}) zap.Field {
	return zap.Any(key, value)
}

// ErrorField is shorthand for zap.Error.
func ErrorField(err error) zap.Field { return zap.Error(err) }

// StringField is shorthand for zap.String.
func StringField(key, value string) zap.Field { return zap.String(key, value) }

// IntField is shorthand for zap.Int.
func IntField(key string, value int) zap.Field { return zap.Int(key, value) }

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.z.Fatal(msg, fields...) }

// DebugContext and ErrorContext exist for call sites that want to thread a
// request ID or trace ID out of ctx in the future; today they just log.
func (l *Logger) DebugContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.z.Debug(msg, fields...)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.z.Info(msg, fields...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.z.Error(msg, fields...)
}

// With returns a Logger with fields attached to every subsequent entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.z.Sync() }
