package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	ErrEmptyKey      = errors.New("rate_limit_key_empty")
	ErrInvalidWindow = errors.New("rate_limit_window_invalid")
)

// Backend increments the caller's counter for the fixed window containing now
// and reports it together with the preceding window's final count.
type Backend interface {
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (current, previous int64, err error)
}

// Decision is the outcome of one Allow call. Remaining is -1 when no limit applies.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// windowStart aligns now to the start of its fixed window.
func windowStart(now time.Time, window time.Duration) time.Time {
	size := window.Milliseconds()
	ms := now.UnixMilli()
	return time.UnixMilli(ms / size * size).UTC()
}

// decide applies the sliding window approximation: the previous window is
// weighted by the share of it still covered by the trailing window.
func decide(current, previous int64, limit int, window time.Duration, now time.Time) Decision {
	start := windowStart(now, window)
	elapsed := now.Sub(start)
	fraction := float64(elapsed) / float64(window)
	estimate := float64(current) + float64(previous)*(1-fraction)

	d := Decision{Limit: limit}
	if estimate <= float64(limit) {
		d.Allowed = true
		d.Remaining = int(math.Floor(float64(limit) - estimate))
		return d
	}

	// Wait until the decaying previous window makes room, or the window rolls over.
	retry := start.Add(window).Sub(now)
	if current < int64(limit) && previous > 0 {
		need := 1 - float64(int64(limit)-current)/float64(previous)
		if wait := time.Duration((need - fraction) * float64(window)); wait > 0 && wait < retry {
			retry = wait
		}
	}
	if retry < time.Second {
		retry = time.Second
	}
	d.RetryAfter = retry.Round(time.Second)
	return d
}
