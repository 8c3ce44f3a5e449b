package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Limits are the operator-tunable quotas. A zero limit means unlimited.
type Limits struct {
	DailyUploads int           `mapstructure:"dailyUploads"`
	TotalUploads int           `mapstructure:"totalUploads"`
	CallerRate   int           `mapstructure:"callerRate"`
	CallerWindow time.Duration `mapstructure:"callerWindow"`
}

func DefaultLimits() Limits {
	return Limits{
		DailyUploads: 20,
		TotalUploads: 1000,
		CallerRate:   30,
		CallerWindow: time.Minute,
	}
}

// LimitsHolder keeps the current Limits and swaps them when limits.yml changes.
type LimitsHolder struct {
	current atomic.Value // holds Limits
}

// StaticLimits returns a holder that never reloads.
func StaticLimits(l Limits) *LimitsHolder {
	h := &LimitsHolder{}
	h.current.Store(l)
	return h
}

func NewLimitsHolder(log *zap.Logger) (*LimitsHolder, error) {
	v := viper.New()

	v.SetConfigName("limits")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/feedlink")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FEEDLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultLimits()
	v.SetDefault("limits.dailyUploads", defaults.DailyUploads)
	v.SetDefault("limits.totalUploads", defaults.TotalUploads)
	v.SetDefault("limits.callerRate", defaults.CallerRate)
	v.SetDefault("limits.callerWindow", defaults.CallerWindow)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var limits Limits
	if err := v.UnmarshalKey("limits", &limits); err != nil {
		return nil, err
	}
	if err := validateLimits(limits); err != nil {
		return nil, err
	}

	holder := StaticLimits(limits)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Limits
		if err := v.UnmarshalKey("limits", &updated); err != nil {
			log.Warn("limits.reload.failed", zap.Error(err))
			return
		}
		if err := validateLimits(updated); err != nil {
			log.Warn("limits.reload.invalid", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("limits.reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *LimitsHolder) Get() Limits {
	return h.current.Load().(Limits)
}

func validateLimits(l Limits) error {
	if l.DailyUploads < 0 || l.TotalUploads < 0 || l.CallerRate < 0 {
		return errors.New("limits cannot be negative")
	}
	if l.TotalUploads > 0 && l.DailyUploads > l.TotalUploads {
		return errors.New("limits.dailyUploads cannot exceed limits.totalUploads")
	}
	if l.CallerRate > 0 && l.CallerWindow <= 0 {
		return errors.New("limits.callerWindow must be positive when callerRate is set")
	}
	return nil
}
