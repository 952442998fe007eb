package config

// Config is the coordinator configuration.
//
// It is loaded once for CLI runs and watched for changes in daemon mode.
// All durations are Go duration strings (e.g. "500ms", "10s", "1m") unless a
// field name says otherwise (min_delay_seconds matches the externally agreed
// config format and is plain seconds).
type Config struct {
	Logging        LoggingConfig        `json:"logging"`
	RateLimiting   RateLimitingConfig   `json:"rate_limiting"`
	TaskProcessing TaskProcessingConfig `json:"task_processing"`
	Execution      ExecutionConfig      `json:"execution,omitempty"`

	// Schedule enables daemon mode (recurring batches). Omitted = CLI only.
	Schedule *ScheduleConfig `json:"schedule,omitempty"`

	// Paths are defaults for daemon mode; CLI flags override them.
	Paths PathsConfig `json:"paths,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// RateLimitingConfig mirrors the agreed coordinator config format.
type RateLimitingConfig struct {
	Enabled      bool                       `json:"enabled"`
	GlobalLimits LimitSpec                  `json:"global_limits"`
	SourceLimits map[string]SourceLimitSpec `json:"source_limits,omitempty"`

	// FailureBackoff opens a per-source backoff window after consecutive
	// process failures. Omitted section = enabled with defaults.
	FailureBackoff *FailureBackoffConfig `json:"failure_backoff,omitempty"`
}

type LimitSpec struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour"`
}

type SourceLimitSpec struct {
	RequestsPerMinute int     `json:"requests_per_minute"`
	RequestsPerHour   int     `json:"requests_per_hour"`
	BurstSize         int     `json:"burst_size"`
	MinDelaySeconds   float64 `json:"min_delay_seconds"`
}

// FailureBackoffConfig controls the consecutive-failure backoff.
//
// Defaults (when fields are omitted/zero):
//   - trip_failures: 3
//   - base: "30s"
//   - max: "10m"
type FailureBackoffConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	TripFailures int    `json:"trip_failures,omitempty"`
	Base         string `json:"base,omitempty"`
	Max          string `json:"max,omitempty"`
}

type TaskProcessingConfig struct {
	PriorityWeighting PriorityWeightingConfig `json:"priority_weighting"`
}

// PriorityWeightingConfig controls the weighted scoring policy.
// When disabled, dispatch falls back to strict tier order.
type PriorityWeightingConfig struct {
	Enabled           bool               `json:"enabled"`
	BaseScores        map[string]float64 `json:"base_scores,omitempty"`
	AgeWeight         float64            `json:"age_weight,omitempty"`
	SourceMultipliers map[string]float64 `json:"source_multipliers,omitempty"`
	GapSizeWeight     float64            `json:"gap_size_weight,omitempty"`
	MaxGapSizePenalty float64            `json:"max_gap_size_penalty,omitempty"`
	SuccessRateWeight float64            `json:"success_rate_weight,omitempty"`
}

// ExecutionConfig controls the worker pool and process handling.
//
// Defaults (when fields are omitted/zero):
//   - max_concurrent: 5
//   - kill_grace: "10s"
type ExecutionConfig struct {
	MaxConcurrent int    `json:"max_concurrent,omitempty"`
	KillGrace     string `json:"kill_grace,omitempty"`

	Reconciliation ReconciliationConfig `json:"reconciliation,omitempty"`
}

// ReconciliationConfig describes the downstream trigger fired after a batch.
//
// Enabled is a pointer so we can distinguish "omitted" (default true when a
// command is set) from an explicit false.
type ReconciliationConfig struct {
	Enabled     *bool    `json:"enabled,omitempty"`
	Command     []string `json:"command,omitempty"`
	PreviewFlag string   `json:"preview_flag,omitempty"` // default "--preview"
}

// ScheduleConfig enables recurring batches (daemon mode).
// Spec accepts 5- or 6-field cron expressions and descriptors like "@hourly".
type ScheduleConfig struct {
	Enabled  bool   `json:"enabled"`
	Spec     string `json:"spec"`
	Timezone string `json:"timezone,omitempty"`
}

type PathsConfig struct {
	TaskQueue     string `json:"task_queue,omitempty"`
	ScraperConfig string `json:"scraper_config,omitempty"`
}

// ReconciliationEnabled reports the effective reconciliation switch.
func (r ReconciliationConfig) ReconciliationEnabled() bool {
	if len(r.Command) == 0 {
		return false
	}
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// BackoffEnabled reports the effective failure-backoff switch.
func (b *FailureBackoffConfig) BackoffEnabled() bool {
	if b == nil {
		return true
	}
	if b.Enabled == nil {
		return true
	}
	return *b.Enabled
}

// Default returns a config with conservative built-in defaults, used when no
// config file is given on the CLI.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		RateLimiting: RateLimitingConfig{
			Enabled:      true,
			GlobalLimits: LimitSpec{RequestsPerMinute: 30, RequestsPerHour: 600},
		},
	}
}
