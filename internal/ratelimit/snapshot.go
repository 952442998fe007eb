package ratelimit

import "time"

// WindowCounts reports recorded requests against the configured budget.
// Limit 0 means unlimited.
type WindowCounts struct {
	LastMinute  int `json:"last_minute"`
	MinuteLimit int `json:"minute_limit,omitempty"`
	LastHour    int `json:"last_hour"`
	HourLimit   int `json:"hour_limit,omitempty"`

	// InFlight counts permits acquired but not yet released; they hold
	// window slots ahead of their timestamps.
	InFlight int `json:"in_flight,omitempty"`
}

// SourceSnapshot is the point-in-time view of one source's limiter state.
type SourceSnapshot struct {
	WindowCounts
	Tokens         float64       `json:"tokens"`
	Burst          int           `json:"burst,omitempty"`
	MinDelay       time.Duration `json:"min_delay,omitempty"`
	BackoffLeft    time.Duration `json:"backoff_left,omitempty"`
	ConsecFailures int           `json:"consecutive_failures,omitempty"`
}

// Snapshot is a consistent view of current counts vs configured limits,
// globally and per source. Taken under the limiter lock.
type Snapshot struct {
	Enabled bool                      `json:"enabled"`
	Global  WindowCounts              `json:"global"`
	Sources map[string]SourceSnapshot `json:"sources,omitempty"`
}

// Stats snapshots the limiter.
func (l *Limiter) Stats() Snapshot {
	snap := Snapshot{Enabled: l.cfg.Enabled}
	if !l.cfg.Enabled {
		return snap
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	g := globalTimes(l.global)
	snap.Global = WindowCounts{
		LastMinute:  countWithin(g, windowMinute, now),
		MinuteLimit: l.cfg.Global.PerMinute,
		LastHour:    len(g),
		HourLimit:   l.cfg.Global.PerHour,
		InFlight:    l.inflight,
	}

	if len(l.sources) > 0 {
		snap.Sources = make(map[string]SourceSnapshot, len(l.sources))
		for name, st := range l.sources {
			ss := SourceSnapshot{
				WindowCounts: WindowCounts{
					LastMinute:  countWithin(st.window, windowMinute, now),
					MinuteLimit: st.limits.PerMinute,
					LastHour:    len(st.window),
					HourLimit:   st.limits.PerHour,
					InFlight:    st.inflight,
				},
				Burst:          st.limits.Burst,
				MinDelay:       st.limits.MinDelay,
				ConsecFailures: st.fails,
			}
			if st.bucket != nil {
				ss.Tokens = st.bucket.TokensAt(now)
			}
			if st.backoff.After(now) {
				ss.BackoffLeft = st.backoff.Sub(now)
			}
			snap.Sources[name] = ss
		}
	}

	return snap
}

func countWithin(entries []time.Time, span time.Duration, now time.Time) int {
	cutoff := now.Add(-span)
	n := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].After(cutoff) {
			n++
		} else {
			break
		}
	}
	return n
}
