// Package logging wraps zap with the small structured API the server uses.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields is a set of structured key/value pairs attached to a log line.
type Fields map[string]any

type Config struct {
	Level       string
	Development bool
	OutputPaths []string
}

type Logger struct {
	logger *zap.Logger
}

func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		DisableCaller:     !cfg.Development,
		DisableStacktrace: !cfg.Development,
		Encoding:          "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{logger: zapLogger}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{logger: zap.NewNop()}
}

// NewWithZap adopts an existing zap logger (used by tests with observers).
func NewWithZap(z *zap.Logger) *Logger {
	return &Logger{logger: z}
}

func (l *Logger) With(fields Fields) *Logger {
	if len(fields) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(toZap(fields)...)}
}

func (l *Logger) Debug(msg string, fields ...Fields) {
	l.logger.Debug(msg, merge(fields)...)
}

func (l *Logger) Info(msg string, fields ...Fields) {
	l.logger.Info(msg, merge(fields)...)
}

func (l *Logger) Warn(msg string, fields ...Fields) {
	l.logger.Warn(msg, merge(fields)...)
}

func (l *Logger) Error(msg string, fields ...Fields) {
	l.logger.Error(msg, merge(fields)...)
}

// Sync flushes buffered entries; call it before exit.
func (l *Logger) Sync() error {
	return l.logger.Sync()
}

func merge(fields []Fields) []zap.Field {
	var out []zap.Field
	for _, set := range fields {
		out = append(out, toZap(set)...)
	}
	return out
}

func toZap(fields Fields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
