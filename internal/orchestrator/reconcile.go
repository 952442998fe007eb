package orchestrator

import (
	"context"
	"time"

	logx "harvest/pkg/logx"
)

// ReconcileConfig describes the downstream reconciliation trigger fired after
// a batch drains. The command is opaque to the orchestrator.
type ReconcileConfig struct {
	Enabled bool
	Command []string

	// Preview passes PreviewFlag so the reconciler only reports what it
	// would do, used for dry-run batches.
	Preview     bool
	PreviewFlag string

	// Timeout bounds the trigger itself. Default 5m.
	Timeout time.Duration
}

// reconcile fires the downstream trigger. Its outcome is logged but never
// changes the batch result beyond that log line.
func (s *Service) reconcile(ctx context.Context) bool {
	rc := s.cfg.Reconcile
	if len(rc.Command) == 0 {
		return false
	}

	args := append([]string(nil), rc.Command[1:]...)
	if rc.Preview {
		flag := rc.PreviewFlag
		if flag == "" {
			flag = "--preview"
		}
		args = append(args, flag)
	}
	timeout := rc.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	s.log.Info("reconciliation.started", logx.String("command", rc.Command[0]))
	res := s.invoker.Invoke(ctx, rc.Command[0], args, timeout)
	switch {
	case res.TimedOut:
		s.log.Error("reconciliation.failed", logx.Err(&TimeoutError{Timeout: timeout}))
		return false
	case res.Err != nil:
		s.log.Error("reconciliation.failed", logx.Err(res.Err))
		return false
	case res.ExitCode != 0:
		s.log.Error("reconciliation.failed", logx.Err(&ProcessError{ExitCode: res.ExitCode, Stderr: res.Stderr}))
		return false
	default:
		s.log.Info("reconciliation.done")
		return true
	}
}
