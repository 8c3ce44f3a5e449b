// Package ratelimit keeps a shared per-caller request budget over a sliding window.
package ratelimit

import (
	"context"
	"strings"

	"github.com/smallbiznis/feedlink/internal/clock"
	"github.com/smallbiznis/feedlink/internal/config"
)

type Limiter struct {
	backend Backend
	limits  *config.LimitsHolder
	clock   clock.Clock
}

func NewLimiter(backend Backend, limits *config.LimitsHolder, c clock.Clock) *Limiter {
	if c == nil {
		c = clock.System()
	}
	return &Limiter{backend: backend, limits: limits, clock: c}
}

// Allow records one request for callerKey and reports whether it fits the
// current limits. A zero CallerRate disables limiting.
func (l *Limiter) Allow(ctx context.Context, callerKey string) (Decision, error) {
	limits := l.limits.Get()
	if limits.CallerRate <= 0 {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	if limits.CallerWindow <= 0 {
		return Decision{}, ErrInvalidWindow
	}
	callerKey = strings.TrimSpace(callerKey)
	if callerKey == "" {
		return Decision{}, ErrEmptyKey
	}

	now := l.clock.Now()
	current, previous, err := l.backend.Hit(ctx, callerKey, limits.CallerWindow, now)
	if err != nil {
		return Decision{}, err
	}
	return decide(current, previous, limits.CallerRate, limits.CallerWindow, now), nil
}
