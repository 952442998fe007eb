package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitIdle(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestGoRecordsFirstError(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	first := errors.New("first")

	s.Go("a", func(ctx context.Context) error { return first })
	waitIdle(t, s)
	s.Go("b", func(ctx context.Context) error { return errors.New("second") })
	waitIdle(t, s)

	if got := s.Err(); got != first {
		t.Fatalf("Err = %v, want the first error", got)
	}
}

func TestPanicIsRecoveredAsError(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("boom", func(ctx context.Context) error { panic("kaboom") })
	waitIdle(t, s)

	if err := s.Err(); err == nil {
		t.Fatal("panic was not recorded as an error")
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fail", func(ctx context.Context) error { return errors.New("down") })
	waitIdle(t, s)

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("supervisor context not canceled after error")
	}
}

func TestGoRestartStopsOnNil(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs int32
	s.GoRestart("once", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	waitIdle(t, s)
	if n := atomic.LoadInt32(&runs); n != 1 {
		t.Fatalf("ran %d times, want 1", n)
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	waitIdle(t, s)
	if n := atomic.LoadInt32(&runs); n != 3 {
		t.Fatalf("ran %d times, want 3", n)
	}
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	started := make(chan struct{}, 1)
	s.GoRestart("loop", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	s.Cancel()
	waitIdle(t, s)
	if s.Active() != 0 {
		t.Fatalf("Active = %d after cancel", s.Active())
	}
}
