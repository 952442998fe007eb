package ratelimit

import (
	"time"

	"harvest/internal/config"
)

// Limits is a two-window request budget. Zero means "no limit" for that window.
type Limits struct {
	PerMinute int
	PerHour   int
}

// SourceLimits is the per-source budget plus burst and spacing controls.
type SourceLimits struct {
	Limits
	Burst    int
	MinDelay time.Duration
}

// BackoffPolicy controls the consecutive-failure backoff window per source.
type BackoffPolicy struct {
	Enabled      bool
	TripFailures int
	Base         time.Duration
	Max          time.Duration
}

// Config is the resolved admission-control configuration.
type Config struct {
	Enabled bool
	Global  Limits
	Sources map[string]SourceLimits
	Backoff BackoffPolicy
}

// ConfigFrom maps the coordinator config section into resolved limiter config.
// Durations in the wire format are plain seconds (min_delay_seconds).
func ConfigFrom(rc config.RateLimitingConfig) (Config, error) {
	cfg := Config{
		Enabled: rc.Enabled,
		Global: Limits{
			PerMinute: rc.GlobalLimits.RequestsPerMinute,
			PerHour:   rc.GlobalLimits.RequestsPerHour,
		},
		Backoff: BackoffPolicy{
			Enabled:      rc.FailureBackoff.BackoffEnabled(),
			TripFailures: 3,
			Base:         30 * time.Second,
			Max:          10 * time.Minute,
		},
	}
	if fb := rc.FailureBackoff; fb != nil {
		if fb.TripFailures > 0 {
			cfg.Backoff.TripFailures = fb.TripFailures
		}
		base, err := config.ParseDurationOrDefault("rate_limiting.failure_backoff.base", fb.Base, cfg.Backoff.Base)
		if err != nil {
			return Config{}, err
		}
		maxD, err := config.ParseDurationOrDefault("rate_limiting.failure_backoff.max", fb.Max, cfg.Backoff.Max)
		if err != nil {
			return Config{}, err
		}
		cfg.Backoff.Base = base
		cfg.Backoff.Max = maxD
	}
	if len(rc.SourceLimits) > 0 {
		cfg.Sources = make(map[string]SourceLimits, len(rc.SourceLimits))
		for name, sl := range rc.SourceLimits {
			cfg.Sources[name] = SourceLimits{
				Limits: Limits{
					PerMinute: sl.RequestsPerMinute,
					PerHour:   sl.RequestsPerHour,
				},
				Burst:    sl.BurstSize,
				MinDelay: time.Duration(sl.MinDelaySeconds * float64(time.Second)),
			}
		}
	}
	return cfg, nil
}
