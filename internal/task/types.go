package task

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the coarse priority bucket assigned by the upstream gap detector.
// Lower numeric value = more important; iteration in tier order relies on it.
type Tier int

const (
	TierCritical Tier = iota
	TierHigh
	TierMedium
	TierLow
)

// Tiers lists all tiers in dispatch order.
var Tiers = []Tier{TierCritical, TierHigh, TierMedium, TierLow}

func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier accepts the priority strings used by the task queue file.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return TierCritical, nil
	case "high":
		return TierHigh, nil
	case "medium":
		return TierMedium, nil
	case "low":
		return TierLow, nil
	default:
		return 0, fmt.Errorf("unknown priority tier %q", s)
	}
}

// Task is one unit of collection work from the externally produced queue file.
// Loaded once per run and never mutated; the orchestrator attaches a derived
// score for scheduling only.
type Task struct {
	ID       string
	Priority Tier
	Scraper  string
	Source   string
	Reason   string

	// DetectedAt is zero when the queue file carried a malformed timestamp;
	// scoring then skips the age bonus rather than failing.
	DetectedAt time.Time

	// GapSize and SuccessRate are optional signals; nil means absent.
	GapSize     *int
	SuccessRate *float64

	EstimatedMinutes float64

	// Params holds every additional key from the task entry (season, ids,
	// date range, ...). Only names the scraper declares are forwarded.
	Params map[string]any
}

// EstimatedTimeout converts the task's estimate into the hard wall-clock
// timeout for its scraper process.
func (t *Task) EstimatedTimeout() time.Duration {
	min := t.EstimatedMinutes
	if min <= 0 {
		min = defaultEstimateMinutes
	}
	return time.Duration(min * float64(time.Minute))
}

// defaultEstimateMinutes backstops queue entries that omit an estimate so a
// runaway scraper can never run unbounded.
const defaultEstimateMinutes = 30

// Queue is the parsed task queue file.
type Queue struct {
	TotalTasks  int
	ByPriority  map[Tier]int
	Tasks       []*Task
	Quarantined int
}

// FilterTier returns the subset of tasks in the given tier.
func (q *Queue) FilterTier(tier Tier) []*Task {
	out := make([]*Task, 0, len(q.Tasks))
	for _, t := range q.Tasks {
		if t.Priority == tier {
			out = append(out, t)
		}
	}
	return out
}
