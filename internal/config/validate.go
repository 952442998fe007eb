package config

import (
	"fmt"
	"strings"
)

var knownTiers = map[string]bool{
	"critical": true,
	"high":     true,
	"medium":   true,
	"low":      true,
}

// Validate rejects configs that would misbehave at runtime. It is called after
// Parse() and by the daemon's reload path before a new config is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	rl := cfg.RateLimiting
	if err := checkLimit("rate_limiting.global_limits", rl.GlobalLimits.RequestsPerMinute, rl.GlobalLimits.RequestsPerHour); err != nil {
		return err
	}
	for name, src := range rl.SourceLimits {
		p := "rate_limiting.source_limits." + name
		if err := checkLimit(p, src.RequestsPerMinute, src.RequestsPerHour); err != nil {
			return err
		}
		if src.BurstSize < 0 {
			return fmt.Errorf("%s.burst_size: must be >= 0", p)
		}
		if src.MinDelaySeconds < 0 {
			return fmt.Errorf("%s.min_delay_seconds: must be >= 0", p)
		}
	}
	if fb := rl.FailureBackoff; fb != nil {
		if fb.TripFailures < 0 {
			return fmt.Errorf("rate_limiting.failure_backoff.trip_failures: must be >= 0")
		}
		if _, err := ParseDurationField("rate_limiting.failure_backoff.base", fb.Base); err != nil {
			return err
		}
		if _, err := ParseDurationField("rate_limiting.failure_backoff.max", fb.Max); err != nil {
			return err
		}
	}

	pw := cfg.TaskProcessing.PriorityWeighting
	for tier := range pw.BaseScores {
		if !knownTiers[strings.ToLower(tier)] {
			return fmt.Errorf("task_processing.priority_weighting.base_scores: unknown tier %q", tier)
		}
	}
	for src, mult := range pw.SourceMultipliers {
		if mult <= 0 {
			return fmt.Errorf("task_processing.priority_weighting.source_multipliers.%s: must be > 0", src)
		}
	}

	ex := cfg.Execution
	if ex.MaxConcurrent < 0 {
		return fmt.Errorf("execution.max_concurrent: must be >= 0")
	}
	if _, err := ParseDurationField("execution.kill_grace", ex.KillGrace); err != nil {
		return err
	}
	if rc := ex.Reconciliation; rc.ReconciliationEnabled() {
		if strings.TrimSpace(rc.Command[0]) == "" {
			return fmt.Errorf("execution.reconciliation.command: first element must be the executable")
		}
	}

	if sc := cfg.Schedule; sc != nil && sc.Enabled {
		if strings.TrimSpace(sc.Spec) == "" {
			return fmt.Errorf("schedule.spec: required when schedule is enabled")
		}
	}

	return nil
}

func checkLimit(path string, perMinute, perHour int) error {
	if perMinute < 0 {
		return fmt.Errorf("%s.requests_per_minute: must be >= 0", path)
	}
	if perHour < 0 {
		return fmt.Errorf("%s.requests_per_hour: must be >= 0", path)
	}
	if perMinute > 0 && perHour > 0 && perHour < perMinute {
		return fmt.Errorf("%s: requests_per_hour (%d) is lower than requests_per_minute (%d)", path, perHour, perMinute)
	}
	return nil
}
