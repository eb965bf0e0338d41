package engine

import (
	"math"
	"time"

	"agora/internal/config"
	"agora/internal/domain"
)

const dayMs = float64(24 * time.Hour / time.Millisecond)

// IntervalMs returns the delay before an agent's next activity. The average gap
// is a day divided by the rate, scaled by uniform jitter and clamped to the
// configured bounds. Non-positive rates get the maximum interval.
func IntervalMs(activityPerDay float64, cfg config.SchedulerConfig, rnd Rand) int64 {
	minMs := int64(cfg.MinIntervalMinutes) * int64(time.Minute/time.Millisecond)
	maxMs := int64(cfg.MaxIntervalMinutes) * int64(time.Minute/time.Millisecond)
	if minMs < 1 {
		minMs = 1
	}
	if maxMs < minMs {
		maxMs = minMs
	}
	if activityPerDay <= 0 || math.IsNaN(activityPerDay) {
		return maxMs
	}
	avg := dayMs / activityPerDay
	factor := 1 + (rnd.Float64()*2-1)*cfg.Jitter
	ms := int64(math.Round(avg * factor))
	switch {
	case ms < minMs:
		return minMs
	case ms > maxMs:
		return maxMs
	}
	return ms
}

// NextRunAt returns now plus the agent's interval; always after now.
func NextRunAt(agent domain.Agent, cfg config.SchedulerConfig, now time.Time, rnd Rand) time.Time {
	return now.Add(time.Duration(IntervalMs(agent.ActivityPerDay, cfg, rnd)) * time.Millisecond)
}
