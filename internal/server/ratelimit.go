package server

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// RateLimiter caps how many recognition runs a client may start and how
// many upload bytes it may submit. Counters are kept per client key.
type RateLimiter struct {
	mu sync.Mutex

	runsPerMinute int
	runsPerHour   int
	maxRunsPerDay int
	maxDataPerDay int64 // bytes

	clients map[string]*clientUsage
	now     func() time.Time
}

type clientUsage struct {
	minuteStart time.Time
	hourStart   time.Time
	dayStart    time.Time

	runsThisMinute int
	runsThisHour   int
	runsToday      int
	dataToday      int64
}

// RateLimitConfig configures the limiter. Zero limits are not enforced.
type RateLimitConfig struct {
	Enabled       bool
	RunsPerMinute int
	RunsPerHour   int
	MaxRunsPerDay int
	MaxDataPerDay int64
}

// NewRateLimiter creates a limiter with the given limits.
func NewRateLimiter(runsPerMinute, runsPerHour, maxRunsPerDay int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		runsPerMinute: runsPerMinute,
		runsPerHour:   runsPerHour,
		maxRunsPerDay: maxRunsPerDay,
		maxDataPerDay: maxDataPerDay,
		clients:       make(map[string]*clientUsage),
		now:           time.Now,
	}
}

// Allow records one run of dataSize bytes for client, or returns a
// *RateLimitError or *QuotaExceededError without recording anything.
func (rl *RateLimiter) Allow(client string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	usage, ok := rl.clients[client]
	if !ok {
		usage = &clientUsage{minuteStart: now, hourStart: now, dayStart: startOfDay(now)}
		rl.clients[client] = usage
	}
	usage.roll(now)

	if err := rl.checkRate(usage, now); err != nil {
		return err
	}
	if err := rl.checkQuota(usage, dataSize); err != nil {
		return err
	}

	usage.runsThisMinute++
	usage.runsThisHour++
	usage.runsToday++
	usage.dataToday += dataSize
	return nil
}

// roll starts new windows once the current ones have elapsed.
func (u *clientUsage) roll(now time.Time) {
	if now.Sub(u.minuteStart) >= time.Minute {
		u.minuteStart = now
		u.runsThisMinute = 0
	}
	if now.Sub(u.hourStart) >= time.Hour {
		u.hourStart = now
		u.runsThisHour = 0
	}
	if day := startOfDay(now); day.After(u.dayStart) {
		u.dayStart = day
		u.runsToday = 0
		u.dataToday = 0
	}
}

func (rl *RateLimiter) checkRate(usage *clientUsage, now time.Time) error {
	if rl.runsPerMinute > 0 && usage.runsThisMinute >= rl.runsPerMinute {
		return &RateLimitError{
			Type:       "minute",
			Limit:      rl.runsPerMinute,
			RetryAfter: usage.minuteStart.Add(time.Minute).Sub(now),
		}
	}
	if rl.runsPerHour > 0 && usage.runsThisHour >= rl.runsPerHour {
		return &RateLimitError{
			Type:       "hour",
			Limit:      rl.runsPerHour,
			RetryAfter: usage.hourStart.Add(time.Hour).Sub(now),
		}
	}
	return nil
}

func (rl *RateLimiter) checkQuota(usage *clientUsage, dataSize int64) error {
	resets := usage.dayStart.AddDate(0, 0, 1)
	if rl.maxRunsPerDay > 0 && usage.runsToday >= rl.maxRunsPerDay {
		return &QuotaExceededError{
			Type:   "runs",
			Limit:  int64(rl.maxRunsPerDay),
			Used:   int64(usage.runsToday),
			Resets: resets,
		}
	}
	if rl.maxDataPerDay > 0 && usage.dataToday+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{
			Type:   "data",
			Limit:  rl.maxDataPerDay,
			Used:   usage.dataToday,
			Resets: resets,
		}
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// RateLimitError reports an exceeded per-minute or per-hour run limit.
type RateLimitError struct {
	Type       string // "minute" or "hour"
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter.Round(time.Second))
}

// QuotaExceededError reports an exhausted daily run or data quota.
type QuotaExceededError struct {
	Type   string // "runs" or "data"
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}

// limitType is the metric label for a limiter error.
func limitType(err error) string {
	var rate *RateLimitError
	var quota *QuotaExceededError
	switch {
	case errors.As(err, &rate):
		return rate.Type
	case errors.As(err, &quota):
		return quota.Type
	}
	return "unknown"
}
