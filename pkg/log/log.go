/*
Copyright 2022-2024 EscherCloud.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log provides the structured logger shared by every package in
// this module, a thin logr.Logger wrapping zap the way controller-runtime
// does it, minus the manager machinery this module has no use for.
package log

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logr.Logger at the requested level ("debug", "info", "error").
// Unrecognised levels fall back to "info".
func New(level string) logr.Logger {
	var zapLevel zapcore.Level

	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapLog, err := config.Build()
	if err != nil {
		// Build() only fails on a malformed config, which New() cannot
		// produce, so fall back to a safe default rather than panic.
		zapLog = zap.NewNop()
	}

	return zapr.NewLogger(zapLog)
}

type contextKey int

const loggerKey contextKey = iota

// NewContext returns a context carrying the given logger.
func NewContext(ctx context.Context, logger logr.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext recovers the logger registered with NewContext, or a
// discard logger if none was ever attached.
func FromContext(ctx context.Context) logr.Logger {
	logger, ok := ctx.Value(loggerKey).(logr.Logger)
	if !ok {
		return logr.Discard()
	}

	return logger
}
