// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package log wraps zap behind a small Logger interface so that protocol
// packages never import zap directly.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger every protocol package depends on.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field)
	With(fields ...zap.Field) Logger
}

type zapLogger struct {
	l *zap.Logger
}

// New returns a production-configured Logger writing to stderr at info level.
func New() Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	return &zapLogger{l: l}
}

func (z *zapLogger) Debug(msg string, fields ...zap.Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...zap.Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...zap.Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...zap.Field) { z.l.Error(msg, fields...) }
func (z *zapLogger) Fatal(msg string, fields ...zap.Field) { z.l.Fatal(msg, fields...) }

func (z *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{l: z.l.With(fields...)}
}

// noLog is a logger that discards everything, used by tests.
type noLog struct{}

// NewNoOpLogger returns a Logger that discards all output.
func NewNoOpLogger() Logger {
	return noLog{}
}

func (noLog) Debug(string, ...zap.Field) {}
func (noLog) Info(string, ...zap.Field)  {}
func (noLog) Warn(string, ...zap.Field)  {}
func (noLog) Error(string, ...zap.Field) {}
func (noLog) Fatal(string, ...zap.Field) {}
func (n noLog) With(...zap.Field) Logger { return n }
