// Package logger builds the process zap.Logger and carries request-scoped
// fields through context.
package logger

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/feedlink/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Module = fx.Module("logger",
	fx.Provide(FromConfig),
)

// Options controls the encoder and level of a built logger.
type Options struct {
	Level   string
	Service string
	Version string
	// Development disables sampling and adds stack traces from warn up.
	Development bool
}

// New builds a JSON logger at opts.Level (debug, info, warn, error).
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if s := strings.TrimSpace(opts.Level); s != "" {
		if err := level.UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if opts.Development {
		cfg.Development = true
		cfg.Sampling = nil
	}

	fields := []zap.Field{}
	if opts.Service != "" {
		fields = append(fields, zap.String("service", opts.Service))
	}
	if opts.Version != "" {
		fields = append(fields, zap.String("version", opts.Version))
	}

	return cfg.Build(zap.AddCaller(), zap.Fields(fields...))
}

// FromConfig builds the app logger, installs it as the zap global, and
// flushes it on shutdown.
func FromConfig(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, error) {
	log, err := New(Options{
		Level:       cfg.LogLevel,
		Service:     cfg.AppName,
		Version:     cfg.AppVersion,
		Development: !cfg.IsProduction(),
	})
	if err != nil {
		return nil, err
	}
	undo := zap.ReplaceGlobals(log)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			undo()
			_ = log.Sync()
			return nil
		},
	})
	return log, nil
}
