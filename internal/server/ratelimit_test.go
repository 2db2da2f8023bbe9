package server

import (
	"errors"
	"testing"
	"time"

	"github.com/MeKo-Tech/naocr/internal/recog/recogtest"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(rpm, rph, perDay int, dataPerDay int64) (*RateLimiter, *recogtest.Clock) {
	clock := recogtest.NewClock()
	rl := NewRateLimiter(rpm, rph, perDay, dataPerDay)
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiter_MinuteWindow(t *testing.T) {
	rl, clock := newTestLimiter(2, 0, 0, 0)

	require.NoError(t, rl.Allow("1.2.3.4", 0))
	clock.Advance(10 * time.Second)
	require.NoError(t, rl.Allow("1.2.3.4", 0))

	err := rl.Allow("1.2.3.4", 0)
	var rate *RateLimitError
	require.ErrorAs(t, err, &rate)
	assert.Equal(t, "minute", rate.Type)
	assert.Equal(t, 2, rate.Limit)
	assert.Equal(t, 50*time.Second, rate.RetryAfter)

	clock.Advance(50 * time.Second)
	assert.NoError(t, rl.Allow("1.2.3.4", 0))
}

// A steady stream of refused requests must not hold the window open.
func TestRateLimiter_RefusalsDoNotExtendWindow(t *testing.T) {
	rl, clock := newTestLimiter(1, 0, 0, 0)

	require.NoError(t, rl.Allow("c", 0))
	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Second)
		require.Error(t, rl.Allow("c", 0))
	}
	clock.Advance(10 * time.Second)
	assert.NoError(t, rl.Allow("c", 0))
}

func TestRateLimiter_HourWindow(t *testing.T) {
	rl, clock := newTestLimiter(0, 3, 0, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Allow("c", 0))
	}

	clock.Advance(30 * time.Minute)
	var rate *RateLimitError
	require.ErrorAs(t, rl.Allow("c", 0), &rate)
	assert.Equal(t, "hour", rate.Type)
	assert.Equal(t, 30*time.Minute, rate.RetryAfter)

	clock.Advance(30 * time.Minute)
	assert.NoError(t, rl.Allow("c", 0))
}

func TestRateLimiter_DailyRunQuota(t *testing.T) {
	rl, clock := newTestLimiter(0, 0, 2, 0)
	require.NoError(t, rl.Allow("c", 0))
	require.NoError(t, rl.Allow("c", 0))

	var quota *QuotaExceededError
	require.ErrorAs(t, rl.Allow("c", 0), &quota)
	assert.Equal(t, "runs", quota.Type)
	assert.Equal(t, int64(2), quota.Limit)
	assert.Equal(t, int64(2), quota.Used)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), quota.Resets)

	clock.Advance(12 * time.Hour)
	assert.NoError(t, rl.Allow("c", 0))
}

func TestRateLimiter_DailyDataQuota(t *testing.T) {
	rl, _ := newTestLimiter(0, 0, 0, 100)
	require.NoError(t, rl.Allow("c", 60))

	var quota *QuotaExceededError
	require.ErrorAs(t, rl.Allow("c", 50), &quota)
	assert.Equal(t, "data", quota.Type)
	assert.Equal(t, int64(60), quota.Used)

	// The refused upload was not counted.
	assert.NoError(t, rl.Allow("c", 40))
	assert.Error(t, rl.Allow("c", 1))
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(1, 0, 0, 0)
	require.NoError(t, rl.Allow("a", 0))
	require.Error(t, rl.Allow("a", 0))
	assert.NoError(t, rl.Allow("b", 0))
}

func TestLimitType(t *testing.T) {
	assert.Equal(t, "minute", limitType(&RateLimitError{Type: "minute"}))
	assert.Equal(t, "data", limitType(&QuotaExceededError{Type: "data"}))
	assert.Equal(t, "unknown", limitType(errors.New("other")))
}

func TestRateLimiter_AcceptsAtMostLimitPerMinute(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("accepted runs within a minute never exceed the limit", prop.ForAll(
		func(limit, attempts int) bool {
			rl, clock := newTestLimiter(limit, 0, 0, 0)
			accepted := 0
			for i := 0; i < attempts; i++ {
				if rl.Allow("c", 0) == nil {
					accepted++
				}
				clock.Advance(time.Second)
			}
			want := attempts
			if limit < want {
				want = limit
			}
			return accepted == want
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 60),
	))

	properties.TestingRun(t)
}
