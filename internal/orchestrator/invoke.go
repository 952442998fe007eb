package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"harvest/internal/task"
)

// stderrCap bounds how much scraper error output is retained per task.
const stderrCap = 2048

// Invoker runs one scraper process to completion. Implementations must honor
// the wall-clock timeout and never outlive it by more than the kill grace.
//
// The orchestrator is tested against a fake Invoker; the real one shells out.
type Invoker interface {
	Invoke(ctx context.Context, script string, args []string, timeout time.Duration) InvokeResult
}

// InvokeResult is the classified outcome of one process run.
type InvokeResult struct {
	ExitCode int
	TimedOut bool
	Stderr   string // bounded prefix of captured stderr
	Err      error  // start/plumbing failure, not a nonzero exit
}

// execInvoker shells out to the scraper script. The timeout context triggers
// cmd.Cancel (SIGTERM); WaitDelay hard-kills after the grace period.
type execInvoker struct {
	grace time.Duration
}

func NewExecInvoker(grace time.Duration) Invoker {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	return &execInvoker{grace: grace}
}

func (e *execInvoker) Invoke(ctx context.Context, script string, args []string, timeout time.Duration) InvokeResult {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, script, args...)
	stderr := &boundedBuffer{cap: stderrCap}
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(termSignal)
	}
	cmd.WaitDelay = e.grace

	err := cmd.Run()

	res := InvokeResult{Stderr: stderr.String()}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		return res
	}
	if err == nil {
		return res
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res
	}
	res.Err = fmt.Errorf("start scraper %s: %w", script, err)
	return res
}

// boundedBuffer keeps only the first cap bytes written.
type boundedBuffer struct {
	cap int
	buf []byte
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if left := b.cap - len(b.buf); left > 0 {
		if len(p) > left {
			b.buf = append(b.buf, p[:left]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}

// buildArgs maps task parameters onto CLI arguments, forwarding only the
// names the scraper declares (a whitelist). Argument order follows the
// registry's accepted_parameters order so invocations are reproducible.
// Returns the args and the count of task params the scraper did not declare.
func buildArgs(t *task.Task, entry task.RegistryEntry) ([]string, int) {
	args := make([]string, 0, 2*len(entry.AcceptedParameters))
	for _, name := range entry.AcceptedParameters {
		v, ok := t.Params[name]
		if !ok || v == nil {
			continue
		}
		args = append(args, "--"+name, paramValue(v))
	}

	ignored := 0
	for name := range t.Params {
		if !entry.Accepts(name) {
			ignored++
		}
	}
	return args, ignored
}

func paramValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		// JSON numbers decode to float64; render integral values as ints.
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = paramValue(item)
		}
		return strings.Join(parts, ",")
	case map[string]any:
		// Rare; render deterministically as k=v pairs.
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + paramValue(x[k])
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(x)
	}
}
