package orchestrator

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"harvest/internal/task"
)

func TestBuildArgsWhitelistAndOrder(t *testing.T) {
	t.Parallel()
	entry := task.RegistryEntry{
		Script:             "s.py",
		AcceptedParameters: []string{"season", "route_ids", "force"},
	}
	tk := &task.Task{Params: map[string]any{
		"route_ids": []any{float64(101), float64(102)},
		"season":    "2026-spring",
		"verbose":   true, // not declared, must be dropped
	}}

	args, ignored := buildArgs(tk, entry)
	want := []string{"--season", "2026-spring", "--route_ids", "101,102"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args = %v, want %v", args, want)
		}
	}
	if ignored != 1 {
		t.Fatalf("ignored = %d, want 1", ignored)
	}
}

func TestBuildArgsNoParams(t *testing.T) {
	t.Parallel()
	args, ignored := buildArgs(&task.Task{}, task.RegistryEntry{AcceptedParameters: []string{"a"}})
	if len(args) != 0 || ignored != 0 {
		t.Fatalf("args = %v, ignored = %d; want empty", args, ignored)
	}
}

func TestParamValue(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "string", in: "x", want: "x"},
		{name: "bool", in: true, want: "true"},
		{name: "integral float", in: float64(42), want: "42"},
		{name: "fractional float", in: 2.5, want: "2.5"},
		{name: "list", in: []any{"a", float64(1)}, want: "a,1"},
		{name: "map", in: map[string]any{"b": float64(2), "a": "x"}, want: "a=x,b=2"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := paramValue(tt.in); got != tt.want {
				t.Fatalf("paramValue(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBoundedBufferKeepsPrefix(t *testing.T) {
	t.Parallel()
	b := &boundedBuffer{cap: 8}
	if n, _ := b.Write([]byte("hello ")); n != 6 {
		t.Fatalf("Write returned %d", n)
	}
	// Writes past the cap report full length so the producer never errors.
	if n, _ := b.Write([]byte("world and more")); n != 14 {
		t.Fatalf("Write returned %d", n)
	}
	if got := b.String(); got != "hello wo" {
		t.Fatalf("String = %q, want first 8 bytes", got)
	}
}

func TestErrorStrings(t *testing.T) {
	t.Parallel()
	pe := &ProcessError{ExitCode: 3, Stderr: "boom"}
	if !strings.Contains(pe.Error(), "code 3") || !strings.Contains(pe.Error(), "boom") {
		t.Fatalf("ProcessError = %q", pe.Error())
	}
	te := &TimeoutError{Timeout: 90 * time.Second}
	if !strings.Contains(te.Error(), "1m30s") {
		t.Fatalf("TimeoutError = %q", te.Error())
	}
}

func TestExecInvokerClassifiesOutcomes(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("relies on sh")
	}
	inv := NewExecInvoker(time.Second)

	res := inv.Invoke(context.Background(), "sh", []string{"-c", "exit 0"}, 10*time.Second)
	if res.ExitCode != 0 || res.TimedOut || res.Err != nil {
		t.Fatalf("success run = %+v", res)
	}

	res = inv.Invoke(context.Background(), "sh", []string{"-c", "echo oops >&2; exit 3"}, 10*time.Second)
	if res.ExitCode != 3 {
		t.Fatalf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.Stderr != "oops" {
		t.Fatalf("Stderr = %q, want oops", res.Stderr)
	}

	res = inv.Invoke(context.Background(), "/nonexistent/scraper.py", nil, 10*time.Second)
	if res.Err == nil {
		t.Fatal("expected start error for missing script")
	}
}

func TestExecInvokerTimesOut(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("relies on sh")
	}
	inv := NewExecInvoker(time.Second)

	start := time.Now()
	res := inv.Invoke(context.Background(), "sh", []string{"-c", "sleep 10"}, 100*time.Millisecond)
	if !res.TimedOut {
		t.Fatalf("result = %+v, want TimedOut", res)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timed-out run took %v", elapsed)
	}
}
