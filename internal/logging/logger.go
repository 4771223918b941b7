// Package logging builds the zap loggers used by every harvester command.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	level string
}

// Option adjusts logger construction.
type Option func(*options)

// WithLevel sets the minimum level ("debug", "info", "warn", "error"). Empty keeps the
// mode default.
func WithLevel(level string) Option {
	return func(o *options) {
		o.level = level
	}
}

// New builds a colored console logger in development mode and a JSON logger otherwise.
func New(development bool, opts ...Option) (*zap.Logger, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	if o.level != "" {
		lvl, err := zapcore.ParseLevel(o.level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", o.level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named("harvester"), nil
}
