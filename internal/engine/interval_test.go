package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"agora/internal/config"
	"agora/internal/domain"
)

func TestIntervalWithinBounds(t *testing.T) {
	cfg := config.Default().Scheduler
	rnd := seeded()
	minMs := int64(30 * time.Minute / time.Millisecond)
	maxMs := int64(180 * time.Minute / time.Millisecond)
	for _, rate := range []float64{0.5, 1, 8, 12, 24, 48, 100, 1000} {
		for i := 0; i < 200; i++ {
			ms := IntervalMs(rate, cfg, rnd)
			assert.GreaterOrEqual(t, ms, minMs, "rate %v", rate)
			assert.LessOrEqual(t, ms, maxMs, "rate %v", rate)
		}
	}
}

func TestIntervalNonPositiveRateGetsMax(t *testing.T) {
	cfg := config.Default().Scheduler
	maxMs := int64(180 * time.Minute / time.Millisecond)
	for _, rate := range []float64{0, -1, -100, math.NaN()} {
		assert.Equal(t, maxMs, IntervalMs(rate, cfg, seeded()), "rate %v", rate)
	}
}

func TestIntervalHighRateClampsToMin(t *testing.T) {
	cfg := config.Default().Scheduler
	minMs := int64(30 * time.Minute / time.Millisecond)
	// 100/day averages 14.4 minutes, below the floor even at +30%.
	for i := 0; i < 50; i++ {
		assert.Equal(t, minMs, IntervalMs(100, cfg, seeded()))
	}
}

func TestIntervalJitterRange(t *testing.T) {
	cfg := config.Default().Scheduler
	avg := float64(2 * time.Hour / time.Millisecond) // 12 per day
	assert.Equal(t, int64(math.Round(avg*0.7)), IntervalMs(12, cfg, fixedRand{f: 0}))
	assert.Equal(t, int64(math.Round(avg)), IntervalMs(12, cfg, fixedRand{f: 0.5}))
	assert.Equal(t, int64(math.Round(avg*1.3)), IntervalMs(12, cfg, fixedRand{f: 1}))
}

func TestNextRunAtStrictlyFutureAndJittered(t *testing.T) {
	cfg := config.Default().Scheduler
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rnd := seeded()
	minutes := map[int64]struct{}{}
	for i := 0; i < 100; i++ {
		next := NextRunAt(domain.Agent{ActivityPerDay: 12}, cfg, now, rnd)
		assert.True(t, next.After(now))
		minutes[int64(next.Sub(now)/time.Minute)] = struct{}{}
	}
	assert.Greater(t, len(minutes), 1)
}
