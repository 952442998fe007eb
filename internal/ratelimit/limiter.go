// Package ratelimit gates outbound scraper calls per source so configured
// limits are never exceeded.
//
// Admission is the maximum of independent checks: global sliding windows
// (minute + hour), per-source sliding windows, per-source minimum spacing, a
// per-source failure backoff window, and the per-source token bucket. Sliding
// windows and spacing are hand-maintained; the token bucket is x/time's
// rate.Limiter (capacity burst_size, refilled at requests_per_minute/60
// tokens per second).
//
// One Limiter instance is shared by every worker in a run. The mutex is never
// held across a sleep: blocking Acquire releases it, waits for the computed
// delay, and re-evaluates in a loop.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	windowMinute = time.Minute
	windowHour   = time.Hour

	// inflightPoll is the re-check interval while a window is held shut by
	// permits that are out but not yet released. No recorded timestamp can
	// age such a window below its limit, so there is no exact wait to
	// compute; blocked acquirers poll instead.
	inflightPoll = 100 * time.Millisecond
)

type stamped struct {
	at     time.Time
	source string
}

type sourceState struct {
	limits SourceLimits

	window   []time.Time // ascending, pruned to the trailing hour
	inflight int         // acquired, not yet released
	bucket   *rate.Limiter
	last     time.Time // last recorded request
	backoff  time.Time // backoff window open until
	fails    int       // consecutive failures
}

// Limiter is the two-scope admission controller. Constructed once per run and
// shared by reference with all workers; it must never be rebuilt per task.
type Limiter struct {
	cfg Config

	mu       sync.Mutex
	global   []stamped // ascending, pruned to the trailing hour
	inflight int       // acquired globally, not yet released
	sources  map[string]*sourceState

	// now is swapped in tests to drive window and bucket time directly.
	now func() time.Time
}

func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		sources: make(map[string]*sourceState),
		now:     time.Now,
	}
}

// Acquire blocks until a call to source is admissible, then consumes a permit.
// It returns ctx.Err() if the context is canceled while waiting.
func (l *Limiter) Acquire(ctx context.Context, source string) error {
	if !l.cfg.Enabled {
		return nil
	}
	// Bounded loop, not recursion: sustained contention must not grow the
	// call stack.
	for {
		l.mu.Lock()
		delay := l.requiredDelayLocked(source)
		if delay <= 0 {
			l.consumeLocked(source)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire consumes a permit if a call is admissible right now. A declined
// probe has no side effects.
func (l *Limiter) TryAcquire(source string) bool {
	if !l.cfg.Enabled {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.requiredDelayLocked(source) > 0 {
		return false
	}
	l.consumeLocked(source)
	return true
}

// Release records the completed call into the global and source windows and
// updates the source's last-request time. It must be called exactly once per
// successful Acquire/TryAcquire, regardless of the call's outcome.
func (l *Limiter) Release(source string) {
	if !l.cfg.Enabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	// The permit moves from in-flight to recorded.
	if l.inflight > 0 {
		l.inflight--
	}
	l.global = append(l.global, stamped{at: now, source: source})
	st := l.stateLocked(source)
	if st.inflight > 0 {
		st.inflight--
	}
	st.window = append(st.window, now)
	st.last = now
}

// RecordFailure counts a failed scraper call against the source. Once the
// consecutive-failure threshold trips, a backoff window opens and doubles on
// every further failure, capped at the policy max.
func (l *Limiter) RecordFailure(source string) {
	if !l.cfg.Enabled || !l.cfg.Backoff.Enabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateLocked(source)
	st.fails++
	over := st.fails - l.cfg.Backoff.TripFailures
	if over < 0 {
		return
	}
	d := l.cfg.Backoff.Max
	if over < 16 { // shift guard; 2^16 * base always exceeds any sane max
		d = l.cfg.Backoff.Base << over
		if d > l.cfg.Backoff.Max || d <= 0 {
			d = l.cfg.Backoff.Max
		}
	}
	st.backoff = l.now().Add(d)
}

// RecordSuccess clears the source's failure streak and any open backoff.
func (l *Limiter) RecordSuccess(source string) {
	if !l.cfg.Enabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateLocked(source)
	st.fails = 0
	st.backoff = time.Time{}
}

// requiredDelayLocked computes the wait before a call to source may proceed:
// the maximum of every independent check. Zero means admissible now.
func (l *Limiter) requiredDelayLocked(source string) time.Duration {
	now := l.now()
	l.pruneLocked(now)

	var delay time.Duration

	// Global sliding windows. In-flight permits count against the window so
	// concurrent acquirers cannot all pass before the first one releases.
	g := globalTimes(l.global)
	delay = maxDelay(delay, windowDelay(g, l.inflight, l.cfg.Global.PerMinute, windowMinute, now))
	delay = maxDelay(delay, windowDelay(g, l.inflight, l.cfg.Global.PerHour, windowHour, now))

	st := l.stateLocked(source)

	// Source sliding windows.
	delay = maxDelay(delay, windowDelay(st.window, st.inflight, st.limits.PerMinute, windowMinute, now))
	delay = maxDelay(delay, windowDelay(st.window, st.inflight, st.limits.PerHour, windowHour, now))

	// Minimum spacing.
	if st.limits.MinDelay > 0 && !st.last.IsZero() {
		if elapsed := now.Sub(st.last); elapsed < st.limits.MinDelay {
			delay = maxDelay(delay, st.limits.MinDelay-elapsed)
		}
	}

	// Failure backoff.
	if st.backoff.After(now) {
		delay = maxDelay(delay, st.backoff.Sub(now))
	}

	// Token bucket: a drained bucket forces a wait until one token refills.
	if st.bucket != nil {
		if tokens := st.bucket.TokensAt(now); tokens < 1 {
			per := float64(st.limits.PerMinute) / 60.0
			need := (1 - tokens) / per
			delay = maxDelay(delay, time.Duration(need*float64(time.Second)))
		}
	}

	return delay
}

// consumeLocked takes one token from the source's bucket and marks the permit
// in flight until Release records it. Callers must have verified
// requiredDelayLocked(source) == 0 under the same lock hold.
func (l *Limiter) consumeLocked(source string) {
	st := l.stateLocked(source)
	if st.bucket != nil {
		_ = st.bucket.AllowN(l.now(), 1)
	}
	l.inflight++
	st.inflight++
}

func (l *Limiter) stateLocked(source string) *sourceState {
	st := l.sources[source]
	if st != nil {
		return st
	}
	st = &sourceState{}
	if limits, ok := l.cfg.Sources[source]; ok {
		st.limits = limits
		if limits.PerMinute > 0 {
			burst := limits.Burst
			if burst <= 0 {
				burst = 1
			}
			st.bucket = rate.NewLimiter(rate.Limit(float64(limits.PerMinute)/60.0), burst)
		}
	}
	l.sources[source] = st
	return st
}

// pruneLocked drops window entries older than one hour. Invariant: every
// retained entry is younger than windowHour.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-windowHour)

	i := 0
	for i < len(l.global) && !l.global[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		l.global = append(l.global[:0], l.global[i:]...)
	}

	for _, st := range l.sources {
		j := 0
		for j < len(st.window) && !st.window[j].After(cutoff) {
			j++
		}
		if j > 0 {
			st.window = append(st.window[:0], st.window[j:]...)
		}
	}
}

// windowDelay returns how long until the trailing window drops below limit.
// entries must be ascending and already pruned to the trailing hour; inflight
// permits occupy window slots before their timestamps exist.
func windowDelay(entries []time.Time, inflight, limit int, span time.Duration, now time.Time) time.Duration {
	if limit <= 0 {
		return 0
	}
	if inflight >= limit {
		return inflightPoll
	}
	cutoff := now.Add(-span)
	// Entries within the span are a suffix of the hour-pruned slice.
	n := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].After(cutoff) {
			n++
		} else {
			break
		}
	}
	if n+inflight < limit {
		return 0
	}
	// The (limit-inflight)-th newest entry must age out before the combined
	// count drops below the limit.
	oldest := entries[len(entries)-(limit-inflight)]
	return oldest.Add(span).Sub(now)
}

func globalTimes(entries []stamped) []time.Time {
	out := make([]time.Time, len(entries))
	for i, e := range entries {
		out[i] = e.at
	}
	return out
}

func maxDelay(a, b time.Duration) time.Duration {
	if b > a {
		return b
	}
	return a
}
