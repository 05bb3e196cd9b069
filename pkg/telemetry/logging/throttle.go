package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttled emits at most burst records per interval. Suppressed records
// are counted and reported on the next record that gets through.
type Throttled struct {
	logger     *slog.Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

// NewThrottled wraps logger with a token bucket that refills one record
// per interval.
func NewThrottled(logger *slog.Logger, interval time.Duration, burst int) *Throttled {
	if logger == nil {
		logger = slog.Default()
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(interval), burst),
	}
}

// Warn logs at warn level unless the budget is exhausted. It reports
// whether the record was emitted.
func (t *Throttled) Warn(msg string, args ...any) bool {
	return t.emit(slog.LevelWarn, msg, args)
}

// Error logs at error level unless the budget is exhausted.
func (t *Throttled) Error(msg string, args ...any) bool {
	return t.emit(slog.LevelError, msg, args)
}

func (t *Throttled) emit(level slog.Level, msg string, args []any) bool {
	if !t.limiter.Allow() {
		t.suppressed.Add(1)
		return false
	}
	if n := t.suppressed.Swap(0); n > 0 {
		args = append(args, "suppressed", n)
	}
	t.logger.Log(context.Background(), level, msg, args...)
	return true
}

// Suppressed returns the number of records dropped since the last emitted one.
func (t *Throttled) Suppressed() int64 {
	return t.suppressed.Load()
}
