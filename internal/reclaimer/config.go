package reclaimer

import (
	"time"

	"github.com/smallbiznis/feedlink/internal/config"
)

// Config controls sweep cadence and fan-out.
type Config struct {
	Enabled     bool
	Interval    time.Duration
	Grace       time.Duration
	BatchSize   int
	Concurrency int
	// DeleteTimeout bounds a single store delete.
	DeleteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Interval:      5 * time.Minute,
		Grace:         15 * time.Minute,
		BatchSize:     100,
		Concurrency:   4,
		DeleteTimeout: 15 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:       cfg.Reclaimer.Enabled,
		Interval:      cfg.Reclaimer.Interval,
		Grace:         cfg.Reclaimer.Grace,
		BatchSize:     cfg.Reclaimer.BatchSize,
		Concurrency:   cfg.Reclaimer.Concurrency,
		DeleteTimeout: cfg.Storage.Timeout,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.Grace <= 0 {
		c.Grace = defaults.Grace
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.DeleteTimeout <= 0 {
		c.DeleteTimeout = defaults.DeleteTimeout
	}
	return c
}
