package task

import (
	"time"

	"harvest/internal/config"
)

// ScorePolicy is the resolved weighted-scoring policy. It is built once per
// batch from the coordinator config; Score itself is pure and never fails, so
// a bad queue entry can only lose bonuses, not break scheduling.
type ScorePolicy struct {
	Base              map[Tier]float64
	AgeWeight         float64
	SourceMultipliers map[string]float64
	GapSizeWeight     float64
	MaxGapPenalty     float64
	SuccessRateWeight float64
}

// DefaultScorePolicy returns the built-in weights.
func DefaultScorePolicy() ScorePolicy {
	return ScorePolicy{
		Base: map[Tier]float64{
			TierCritical: 1000,
			TierHigh:     100,
			TierMedium:   10,
			TierLow:      1,
		},
		AgeWeight:         0.5,
		GapSizeWeight:     -2,
		MaxGapPenalty:     50,
		SuccessRateWeight: 20,
	}
}

// PolicyFromConfig overlays configured weights on the defaults.
func PolicyFromConfig(pw config.PriorityWeightingConfig) ScorePolicy {
	p := DefaultScorePolicy()
	for name, score := range pw.BaseScores {
		if tier, err := ParseTier(name); err == nil {
			p.Base[tier] = score
		}
	}
	if pw.AgeWeight != 0 {
		p.AgeWeight = pw.AgeWeight
	}
	if len(pw.SourceMultipliers) > 0 {
		p.SourceMultipliers = pw.SourceMultipliers
	}
	if pw.GapSizeWeight != 0 {
		p.GapSizeWeight = pw.GapSizeWeight
	}
	if pw.MaxGapSizePenalty != 0 {
		p.MaxGapPenalty = pw.MaxGapSizePenalty
	}
	if pw.SuccessRateWeight != 0 {
		p.SuccessRateWeight = pw.SuccessRateWeight
	}
	return p
}

// Score produces the task's continuous priority value at the given instant.
//
//	score = base[tier]
//	score += hours_since(detected_at) * age_weight
//	score *= source_multiplier (default 1.0)
//	score += clamp(gap_size * gap_size_weight, -max_gap_penalty, 0)
//	score += success_rate * success_rate_weight
//
// Missing optional fields contribute zero. A zero DetectedAt (malformed
// upstream timestamp) contributes zero age bonus.
func (p ScorePolicy) Score(t *Task, now time.Time) float64 {
	score := p.Base[t.Priority]

	if !t.DetectedAt.IsZero() {
		age := now.Sub(t.DetectedAt).Hours()
		if age > 0 {
			score += age * p.AgeWeight
		}
	}

	mult := 1.0
	if m, ok := p.SourceMultipliers[t.Source]; ok && m > 0 {
		mult = m
	}
	score *= mult

	if t.GapSize != nil {
		penalty := float64(*t.GapSize) * p.GapSizeWeight
		if penalty < -p.MaxGapPenalty {
			penalty = -p.MaxGapPenalty
		}
		if penalty > 0 {
			penalty = 0
		}
		score += penalty
	}

	if t.SuccessRate != nil {
		score += *t.SuccessRate * p.SuccessRateWeight
	}

	return score
}
