package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownScraper marks a task that references a scraper absent from
	// the registry. It fails only that task.
	ErrUnknownScraper = errors.New("scraper not registered")

	// ErrRateLimited marks a task skipped because a non-blocking admission
	// probe declined before submission. Retryable on the next run.
	ErrRateLimited = errors.New("rate limit saturated")
)

// ProcessError reports a scraper process that exited nonzero. Stderr holds a
// bounded prefix of the captured error output.
type ProcessError struct {
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("scraper exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("scraper exited with code %d: %s", e.ExitCode, e.Stderr)
}

// TimeoutError reports a scraper killed for exceeding its wall-clock budget.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("scraper timed out after %s", e.Timeout)
}
