package engine

import (
	"math"

	"agora/internal/config"
	"agora/internal/domain"
)

var defaultWeights = map[domain.ActivityType]float64{
	domain.ActivityPost:    0.3,
	domain.ActivityComment: 0.5,
	domain.ActivityVote:    0.2,
}

const defaultActivity = domain.ActivityComment

// SelectActivityType draws the next activity for an agent. When the two most
// recent activities share a type, that type's weight is scaled by the
// repetition penalty before drawing.
func SelectActivityType(recent []domain.ActivityType, cfg config.SelectionConfig, rnd Rand) domain.ActivityType {
	weights := make(map[domain.ActivityType]float64, len(domain.ActivityTypes))
	if len(cfg.Weights) == 0 {
		for t, w := range defaultWeights {
			weights[t] = w
		}
	} else {
		for name, w := range cfg.Weights {
			weights[domain.ActivityType(name)] = w
		}
	}
	if len(recent) >= 2 && recent[0] == recent[1] && recent[0].Valid() {
		weights[recent[0]] *= cfg.RepetitionPenalty
	}
	fallback := domain.ActivityType(cfg.Fallback)
	if !fallback.Valid() {
		fallback = defaultActivity
	}
	return WeightedRandomSelect(weights, fallback, rnd)
}

// WeightedRandomSelect samples uniformly in [0,total) and walks the buckets in
// a fixed order. Negative or NaN weights count as zero; if nothing has weight
// the fallback is returned.
func WeightedRandomSelect(weights map[domain.ActivityType]float64, fallback domain.ActivityType, rnd Rand) domain.ActivityType {
	total := 0.0
	for _, t := range domain.ActivityTypes {
		total += usableWeight(weights[t])
	}
	if total <= 0 || math.IsInf(total, 0) {
		return fallback
	}
	r := rnd.Float64() * total
	last := fallback
	for _, t := range domain.ActivityTypes {
		w := usableWeight(weights[t])
		if w == 0 {
			continue
		}
		last = t
		r -= w
		if r <= 0 {
			return t
		}
	}
	return last
}

func usableWeight(w float64) float64 {
	if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return 0
	}
	return w
}
