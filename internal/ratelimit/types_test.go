package ratelimit

import (
	"testing"
	"time"

	"harvest/internal/config"
)

func TestConfigFromMapsWireFormat(t *testing.T) {
	t.Parallel()
	cfg, err := ConfigFrom(config.RateLimitingConfig{
		Enabled:      true,
		GlobalLimits: config.LimitSpec{RequestsPerMinute: 30, RequestsPerHour: 600},
		SourceLimits: map[string]config.SourceLimitSpec{
			"flights": {RequestsPerMinute: 10, RequestsPerHour: 100, BurstSize: 3, MinDelaySeconds: 2.5},
		},
		FailureBackoff: &config.FailureBackoffConfig{TripFailures: 5, Base: "1m", Max: "20m"},
	})
	if err != nil {
		t.Fatalf("ConfigFrom error: %v", err)
	}

	if cfg.Global.PerMinute != 30 || cfg.Global.PerHour != 600 {
		t.Fatalf("Global = %+v", cfg.Global)
	}
	src := cfg.Sources["flights"]
	if src.PerMinute != 10 || src.Burst != 3 {
		t.Fatalf("flights = %+v", src)
	}
	if src.MinDelay != 2500*time.Millisecond {
		t.Fatalf("MinDelay = %v, want 2.5s", src.MinDelay)
	}
	if cfg.Backoff.TripFailures != 5 || cfg.Backoff.Base != time.Minute || cfg.Backoff.Max != 20*time.Minute {
		t.Fatalf("Backoff = %+v", cfg.Backoff)
	}
}

func TestConfigFromBackoffDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := ConfigFrom(config.RateLimitingConfig{Enabled: true})
	if err != nil {
		t.Fatalf("ConfigFrom error: %v", err)
	}
	b := cfg.Backoff
	if !b.Enabled || b.TripFailures != 3 || b.Base != 30*time.Second || b.Max != 10*time.Minute {
		t.Fatalf("Backoff defaults = %+v", b)
	}
}

func TestConfigFromRejectsBadDuration(t *testing.T) {
	t.Parallel()
	_, err := ConfigFrom(config.RateLimitingConfig{
		FailureBackoff: &config.FailureBackoffConfig{Base: "whenever"},
	})
	if err == nil {
		t.Fatal("expected error for unparsable backoff duration")
	}
}
