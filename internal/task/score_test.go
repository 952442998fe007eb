package task

import (
	"testing"
	"time"

	"harvest/internal/config"
)

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

func TestScoreBaseByTier(t *testing.T) {
	t.Parallel()
	p := DefaultScorePolicy()
	now := time.Now()

	tests := []struct {
		tier Tier
		want float64
	}{
		{TierCritical, 1000},
		{TierHigh, 100},
		{TierMedium, 10},
		{TierLow, 1},
	}
	for _, tt := range tests {
		got := p.Score(&Task{Priority: tt.tier}, now)
		if got != tt.want {
			t.Fatalf("Score(%s) = %v, want %v", tt.tier, got, tt.want)
		}
	}
}

func TestScoreAgeBonus(t *testing.T) {
	t.Parallel()
	p := DefaultScorePolicy()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	young := &Task{Priority: TierHigh, DetectedAt: now.Add(-1 * time.Hour)}
	old := &Task{Priority: TierHigh, DetectedAt: now.Add(-10 * time.Hour)}

	ys, os := p.Score(young, now), p.Score(old, now)
	if os <= ys {
		t.Fatalf("older task scored %v, younger %v; want older > younger", os, ys)
	}
	// 10h * 0.5 on top of the high base.
	if want := 105.0; os != want {
		t.Fatalf("Score(old) = %v, want %v", os, want)
	}
}

func TestScoreZeroDetectedAtSkipsAgeBonus(t *testing.T) {
	t.Parallel()
	p := DefaultScorePolicy()
	got := p.Score(&Task{Priority: TierMedium}, time.Now())
	if got != 10 {
		t.Fatalf("Score with zero DetectedAt = %v, want base 10", got)
	}
}

func TestScoreFutureDetectedAtNoBonus(t *testing.T) {
	t.Parallel()
	p := DefaultScorePolicy()
	now := time.Now()
	got := p.Score(&Task{Priority: TierMedium, DetectedAt: now.Add(time.Hour)}, now)
	if got != 10 {
		t.Fatalf("Score with future DetectedAt = %v, want base 10", got)
	}
}

func TestScoreSourceMultiplier(t *testing.T) {
	t.Parallel()
	p := DefaultScorePolicy()
	p.SourceMultipliers = map[string]float64{"flights": 1.5}

	base := p.Score(&Task{Priority: TierHigh, Source: "hotels"}, time.Now())
	boosted := p.Score(&Task{Priority: TierHigh, Source: "flights"}, time.Now())
	if boosted != base*1.5 {
		t.Fatalf("multiplied score = %v, want %v", boosted, base*1.5)
	}
}

func TestScoreGapPenaltyClamped(t *testing.T) {
	t.Parallel()
	p := DefaultScorePolicy() // gap weight -2, max penalty 50
	now := time.Now()

	small := p.Score(&Task{Priority: TierHigh, GapSize: intPtr(5)}, now)
	if want := 100 - 10.0; small != want {
		t.Fatalf("Score(gap=5) = %v, want %v", small, want)
	}
	huge := p.Score(&Task{Priority: TierHigh, GapSize: intPtr(1000)}, now)
	if want := 100 - 50.0; huge != want {
		t.Fatalf("Score(gap=1000) = %v, want clamp at %v", huge, want)
	}
}

func TestScoreSuccessRateBonus(t *testing.T) {
	t.Parallel()
	p := DefaultScorePolicy()
	now := time.Now()

	lo := p.Score(&Task{Priority: TierLow, SuccessRate: floatPtr(0.2)}, now)
	hi := p.Score(&Task{Priority: TierLow, SuccessRate: floatPtr(0.9)}, now)
	if hi <= lo {
		t.Fatalf("higher success rate scored %v vs %v; want monotone increase", hi, lo)
	}
	if want := 1 + 0.9*20; hi != want {
		t.Fatalf("Score(rate=0.9) = %v, want %v", hi, want)
	}
}

func TestPolicyFromConfigOverlaysDefaults(t *testing.T) {
	t.Parallel()
	p := PolicyFromConfig(config.PriorityWeightingConfig{
		BaseScores: map[string]float64{"critical": 5000},
		AgeWeight:  2,
	})

	if p.Base[TierCritical] != 5000 {
		t.Fatalf("Base[critical] = %v, want overridden 5000", p.Base[TierCritical])
	}
	if p.Base[TierLow] != 1 {
		t.Fatalf("Base[low] = %v, want default 1", p.Base[TierLow])
	}
	if p.AgeWeight != 2 {
		t.Fatalf("AgeWeight = %v, want 2", p.AgeWeight)
	}
	if p.GapSizeWeight != -2 {
		t.Fatalf("GapSizeWeight = %v, want default -2", p.GapSizeWeight)
	}
}

func TestEstimatedTimeout(t *testing.T) {
	t.Parallel()
	if got := (&Task{EstimatedMinutes: 2.5}).EstimatedTimeout(); got != 150*time.Second {
		t.Fatalf("EstimatedTimeout = %v, want 2m30s", got)
	}
	if got := (&Task{}).EstimatedTimeout(); got != 30*time.Minute {
		t.Fatalf("default EstimatedTimeout = %v, want 30m", got)
	}
}
