package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"harvest/internal/task"
	logx "harvest/pkg/logx"
)

// dispatched pairs a task with its drain barrier. The barrier's Add happens
// on the dispatcher before the hand-off, so a worker's Done can never race it.
type dispatched struct {
	t       *task.Task
	barrier *sync.WaitGroup
	ctx     context.Context

	// permitHeld means the dispatcher already consumed the rate-limit permit
	// via a non-blocking probe; the worker must not acquire again.
	permitHeld bool
}

// submit hands each task to the pool in order. It returns the drain barrier
// and whether dispatch stopped early because ctx was canceled. Tasks never
// handed off are deliberately left unrecorded (neither completed, failed, nor
// skipped); the next run re-detects them.
func (s *Service) submit(ctx context.Context, tasks []*task.Task, work chan dispatched, stats *Stats) (*sync.WaitGroup, bool) {
	barrier := &sync.WaitGroup{}
	for i, t := range tasks {
		if ctx.Err() != nil {
			s.log.Warn("dispatch stopped", logx.Int("remaining", len(tasks)-i))
			return barrier, true
		}

		d := dispatched{t: t, barrier: barrier, ctx: ctx}

		// Discretionary pre-submission probe: skip instead of queueing when
		// the source is saturated. A successful probe consumes the permit.
		if s.cfg.SkipSaturated && !s.cfg.DryRun {
			if !s.limiter.TryAcquire(t.Source) {
				stats.Record(t, OutcomeSkipped)
				s.log.Info("task.skipped",
					logx.String("id", t.ID),
					logx.String("source", t.Source),
					logx.Err(ErrRateLimited),
				)
				continue
			}
			d.permitHeld = true
		}

		barrier.Add(1)
		select {
		case work <- d:
		case <-ctx.Done():
			barrier.Done()
			if d.permitHeld {
				s.limiter.Release(t.Source)
			}
			s.log.Warn("dispatch stopped", logx.Int("remaining", len(tasks)-i))
			return barrier, true
		}
	}
	return barrier, false
}

func (s *Service) worker(work chan dispatched, stats *Stats, idx int) {
	log := s.log.With(logx.Int("worker", idx))
	for d := range work {
		s.execOne(d, stats, log)
		d.barrier.Done()
	}
}

// execOne runs a single task to a terminal state. Every failure is contained
// here: nothing that happens inside a task may abort the batch or a sibling.
func (s *Service) execOne(d dispatched, stats *Stats, log logx.Logger) {
	t := d.t
	log = log.With(logx.String("id", t.ID), logx.String("scraper", t.Scraper), logx.String("source", t.Source))

	// Panic guard: convert to a task failure so one bad task can't kill the
	// worker or the batch.
	defer func() {
		if r := recover(); r != nil {
			stats.Record(t, OutcomeFailed)
			log.Error("task.panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	// A permit consumed by the dispatcher's probe must be released on every
	// path out of here, including early failures before the scraper runs.
	if d.permitHeld {
		defer s.limiter.Release(t.Source)
	}

	if s.cfg.DryRun {
		stats.Record(t, OutcomeSkipped)
		log.Info("task.skipped", logx.String("reason", "dry_run"))
		return
	}

	entry, ok := s.registry.Lookup(t.Scraper)
	if !ok {
		stats.Record(t, OutcomeFailed)
		log.Error("task.failed", logx.Err(fmt.Errorf("%w: %s", ErrUnknownScraper, t.Scraper)))
		return
	}

	args, ignored := buildArgs(t, entry)
	if ignored > 0 {
		log.Debug("task params not accepted by scraper", logx.Int("ignored", ignored))
	}

	if !d.permitHeld {
		// Blocked-on-rate-limit state: an interrupt here abandons the task
		// before it was ever dispatched, leaving it uncounted.
		if err := s.limiter.Acquire(d.ctx, t.Source); err != nil {
			log.Warn("task abandoned while waiting for rate limit", logx.Err(err))
			return
		}
		// Exactly one release per acquired permit, regardless of outcome.
		defer s.limiter.Release(t.Source)
	}

	timeout := t.EstimatedTimeout()
	log.Info("task.started", logx.Duration("timeout", timeout))

	// The process context is detached from the run context: an interrupt
	// stops dispatch, it does not cut down in-flight scrapers.
	res := s.invoker.Invoke(context.Background(), entry.Script, args, timeout)

	switch {
	case res.TimedOut:
		stats.Record(t, OutcomeTimedOut)
		s.limiter.RecordFailure(t.Source)
		log.Error("task.timed_out", logx.Err(&TimeoutError{Timeout: timeout}))
	case res.Err != nil:
		stats.Record(t, OutcomeFailed)
		s.limiter.RecordFailure(t.Source)
		log.Error("task.failed", logx.Err(res.Err))
	case res.ExitCode != 0:
		stats.Record(t, OutcomeFailed)
		s.limiter.RecordFailure(t.Source)
		log.Error("task.failed", logx.Err(&ProcessError{ExitCode: res.ExitCode, Stderr: res.Stderr}))
	default:
		stats.Record(t, OutcomeCompleted)
		s.limiter.RecordSuccess(t.Source)
		log.Info("task.completed")
	}
}
