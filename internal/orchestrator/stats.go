package orchestrator

import (
	"sync"
	"time"

	"harvest/internal/task"
)

// Outcome is the terminal state of one task.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeTimedOut // counted as failed in all aggregates
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Counter is a completed/failed pair used by the per-tier and per-scraper
// breakdowns.
type Counter struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Stats is the shared execution tally for one batch. Created fresh per run,
// mutated under one mutex by any worker, read once after the batch drains.
type Stats struct {
	mu sync.Mutex

	total     int
	completed int
	failed    int
	skipped   int

	byTier    map[task.Tier]*Counter
	byScraper map[string]*Counter

	started time.Time
	ended   time.Time
}

func NewStats() *Stats {
	return &Stats{
		byTier:    make(map[task.Tier]*Counter),
		byScraper: make(map[string]*Counter),
	}
}

// Begin stamps the batch start and the selected task count.
func (s *Stats) Begin(total int, now time.Time) {
	s.mu.Lock()
	s.total = total
	s.started = now
	s.mu.Unlock()
}

// Record tallies one task's terminal state.
func (s *Stats) Record(t *task.Task, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch outcome {
	case OutcomeCompleted:
		s.completed++
		s.tierLocked(t.Priority).Completed++
		s.scraperLocked(t.Scraper).Completed++
	case OutcomeFailed, OutcomeTimedOut:
		s.failed++
		s.tierLocked(t.Priority).Failed++
		s.scraperLocked(t.Scraper).Failed++
	case OutcomeSkipped:
		s.skipped++
	}
}

// Finish stamps the batch end.
func (s *Stats) Finish(now time.Time) {
	s.mu.Lock()
	s.ended = now
	s.mu.Unlock()
}

func (s *Stats) tierLocked(tier task.Tier) *Counter {
	c := s.byTier[tier]
	if c == nil {
		c = &Counter{}
		s.byTier[tier] = c
	}
	return c
}

func (s *Stats) scraperLocked(name string) *Counter {
	c := s.byScraper[name]
	if c == nil {
		c = &Counter{}
		s.byScraper[name] = c
	}
	return c
}

// StatsSnapshot is the read-once view emitted with the batch summary.
type StatsSnapshot struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	ByTier    map[string]Counter `json:"by_tier,omitempty"`
	ByScraper map[string]Counter `json:"by_scraper,omitempty"`

	Started  time.Time     `json:"started"`
	Ended    time.Time     `json:"ended"`
	Duration time.Duration `json:"duration"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Total:     s.total,
		Completed: s.completed,
		Failed:    s.failed,
		Skipped:   s.skipped,
		Started:   s.started,
		Ended:     s.ended,
	}
	if !s.started.IsZero() && !s.ended.IsZero() {
		snap.Duration = s.ended.Sub(s.started)
	}
	if len(s.byTier) > 0 {
		snap.ByTier = make(map[string]Counter, len(s.byTier))
		for tier, c := range s.byTier {
			snap.ByTier[tier.String()] = *c
		}
	}
	if len(s.byScraper) > 0 {
		snap.ByScraper = make(map[string]Counter, len(s.byScraper))
		for name, c := range s.byScraper {
			snap.ByScraper[name] = *c
		}
	}
	return snap
}
