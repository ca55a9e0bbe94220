// Package telemetry wraps zap for the structured diagnostic logging the
// server driver and CLI use internally, alongside the teacher's
// human-facing output.Progress channel for user-visible status.
package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-style zap logger, console-encoded for a
// terminal audience, at debug level when verbose is set.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// Nop returns a logger that discards everything, for tests and for
// callers that haven't configured logging yet.
func Nop() *zap.Logger {
	return zap.NewNop()
}
