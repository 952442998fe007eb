// Package orchestrator executes a batch of collection tasks against a bounded
// worker pool, honoring the rate limiter and the priority policy.
//
// Dispatch runs on the calling goroutine; task bodies run on pool workers.
// Tiered mode submits tier by tier with a drain barrier between tiers;
// weighted mode submits every task in descending score order. The hand-off
// channel is unbuffered, so "submitted" always means "picked up by a worker":
// after an interrupt there is never a task that was queued but not run.
package orchestrator

import (
	"context"
	"sort"
	"time"

	"harvest/internal/ratelimit"
	"harvest/internal/task"
	logx "harvest/pkg/logx"
)

// Config is the per-run orchestration policy.
type Config struct {
	// MaxConcurrent bounds the worker pool. Default 5.
	MaxConcurrent int

	// KillGrace is how long a timed-out scraper gets between SIGTERM and
	// SIGKILL. Default 10s.
	KillGrace time.Duration

	// DryRun selects every task without executing anything; all are SKIPPED.
	DryRun bool

	// TierFilter, when set, restricts the batch to one priority tier.
	TierFilter *task.Tier

	// Weighted switches from strict tier order to descending-score order.
	Weighted bool
	Policy   task.ScorePolicy

	// SkipSaturated lets the dispatcher probe the limiter without blocking
	// and classify declined tasks as SKIPPED instead of queueing them.
	SkipSaturated bool

	Reconcile ReconcileConfig
}

// Service runs batches. The limiter and registry are shared by reference and
// must outlive every run; Stats is created fresh inside each Run.
type Service struct {
	cfg      Config
	limiter  *ratelimit.Limiter
	registry *task.Registry
	invoker  Invoker
	log      logx.Logger
}

type Option func(*Service)

// WithInvoker replaces the process invoker (tests use a fake).
func WithInvoker(inv Invoker) Option {
	return func(s *Service) { s.invoker = inv }
}

func New(cfg Config, limiter *ratelimit.Limiter, registry *task.Registry, log logx.Logger, opts ...Option) *Service {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 10 * time.Second
	}
	s := &Service{
		cfg:      cfg,
		limiter:  limiter,
		registry: registry,
		log:      log,
	}
	for _, o := range opts {
		o(s)
	}
	if s.invoker == nil {
		s.invoker = NewExecInvoker(cfg.KillGrace)
	}
	return s
}

// Summary is everything Run reports after a batch drains.
type Summary struct {
	Stats       StatsSnapshot      `json:"stats"`
	RateLimiter ratelimit.Snapshot `json:"rate_limiter"`
	Quarantined int                `json:"quarantined,omitempty"`
	Interrupted bool               `json:"interrupted,omitempty"`
	Reconciled  *bool              `json:"reconciled,omitempty"`
}

// Failed reports whether any task failed (drives the process exit code).
func (s Summary) Failed() bool { return s.Stats.Failed > 0 }

// Run executes the batch. ctx cancellation stops further dispatch; tasks
// already picked up by workers run to completion.
func (s *Service) Run(ctx context.Context, queue *task.Queue) Summary {
	tasks := queue.Tasks
	if s.cfg.TierFilter != nil {
		tasks = queue.FilterTier(*s.cfg.TierFilter)
		s.log.Info("tier filter applied",
			logx.String("tier", s.cfg.TierFilter.String()),
			logx.Int("selected", len(tasks)),
		)
	}

	stats := NewStats()
	stats.Begin(len(tasks), time.Now())

	s.log.Info("batch.started",
		logx.Int("tasks", len(tasks)),
		logx.Int("workers", s.cfg.MaxConcurrent),
		logx.Bool("weighted", s.cfg.Weighted),
		logx.Bool("dry_run", s.cfg.DryRun),
	)

	work := make(chan dispatched) // unbuffered by design, see package doc
	for i := 0; i < s.cfg.MaxConcurrent; i++ {
		go s.worker(work, stats, i)
	}

	var interrupted bool
	if s.cfg.Weighted {
		interrupted = s.dispatchWeighted(ctx, tasks, work, stats)
	} else {
		interrupted = s.dispatchTiered(ctx, tasks, work, stats)
	}
	close(work)

	stats.Finish(time.Now())

	summary := Summary{
		Stats:       stats.Snapshot(),
		RateLimiter: s.limiter.Stats(),
		Quarantined: queue.Quarantined,
		Interrupted: interrupted,
	}

	s.logSummary(summary)

	if s.cfg.Reconcile.Enabled && !interrupted {
		ok := s.reconcile(ctx)
		summary.Reconciled = &ok
	}

	return summary
}

// dispatchTiered submits strictly tier by tier: all tasks of one tier are
// handed to the pool and fully drained before the next tier starts. This is a
// dispatch-time barrier, not preemption; completion order within a tier stays
// pool-arbitrary.
func (s *Service) dispatchTiered(ctx context.Context, tasks []*task.Task, work chan dispatched, stats *Stats) bool {
	for _, tier := range task.Tiers {
		group := make([]*task.Task, 0, len(tasks))
		for _, t := range tasks {
			if t.Priority == tier {
				group = append(group, t)
			}
		}
		if len(group) == 0 {
			continue
		}
		s.log.Debug("tier.dispatching", logx.String("tier", tier.String()), logx.Int("tasks", len(group)))

		barrier, stopped := s.submit(ctx, group, work, stats)
		barrier.Wait()
		if stopped {
			return true
		}
	}
	return false
}

// dispatchWeighted scores every task, sorts descending, and submits in that
// order. The whole batch shares one drain barrier.
func (s *Service) dispatchWeighted(ctx context.Context, tasks []*task.Task, work chan dispatched, stats *Stats) bool {
	now := time.Now()
	type scored struct {
		t     *task.Task
		score float64
	}
	ranked := make([]scored, len(tasks))
	for i, t := range tasks {
		ranked[i] = scored{t: t, score: s.cfg.Policy.Score(t, now)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	ordered := make([]*task.Task, len(ranked))
	for i, r := range ranked {
		ordered[i] = r.t
		s.log.Debug("task.scored", logx.String("id", r.t.ID), logx.Float64("score", r.score))
	}

	barrier, stopped := s.submit(ctx, ordered, work, stats)
	barrier.Wait()
	return stopped
}

func (s *Service) logSummary(sum Summary) {
	fields := []logx.Field{
		logx.Int("total", sum.Stats.Total),
		logx.Int("completed", sum.Stats.Completed),
		logx.Int("failed", sum.Stats.Failed),
		logx.Int("skipped", sum.Stats.Skipped),
		logx.Duration("duration", sum.Stats.Duration),
	}
	if sum.Quarantined > 0 {
		fields = append(fields, logx.Int("quarantined", sum.Quarantined))
	}
	if sum.Interrupted {
		fields = append(fields, logx.Bool("interrupted", true))
	}
	s.log.Info("batch.done", fields...)

	for tier, c := range sum.Stats.ByTier {
		s.log.Info("batch.tier",
			logx.String("tier", tier),
			logx.Int("completed", c.Completed),
			logx.Int("failed", c.Failed),
		)
	}
	for name, c := range sum.Stats.ByScraper {
		s.log.Info("batch.scraper",
			logx.String("scraper", name),
			logx.Int("completed", c.Completed),
			logx.Int("failed", c.Failed),
		)
	}
	s.log.Info("batch.rate_limiter", logx.Any("snapshot", sum.RateLimiter))
}
