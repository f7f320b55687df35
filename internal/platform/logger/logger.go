// Package logger builds the process-wide slog logger on top of a zap core.
package logger

import (
	"fmt"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// New returns a slog.Logger backed by zap, plus a sync function to flush
// buffered entries on exit. format is "json" (production encoder) or
// "console" (development encoder).
func New(level, format string) (*slog.Logger, func() error, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var zcfg zap.Config
	switch format {
	case "json", "":
		zcfg = zap.NewProductionConfig()
	case "console":
		zcfg = zap.NewDevelopmentConfig()
	default:
		return nil, nil, fmt.Errorf("invalid log format %q", format)
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	zl, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("building zap logger: %w", err)
	}
	return FromCore(zl.Core()), zl.Sync, nil
}

// FromCore wraps an existing zap core.
func FromCore(core zapcore.Core) *slog.Logger {
	return slog.New(zapslog.NewHandler(core, zapslog.WithCaller(true)))
}
