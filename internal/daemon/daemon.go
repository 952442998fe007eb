// Package daemon runs recurring batches on a cron schedule. It exists for
// deployments where the coordinator is a long-lived service rather than a
// cron-invoked CLI: the config file is watched for changes, the rate limiter
// persists across batches, and readiness is announced over sd_notify when
// running under systemd.
package daemon

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"harvest/internal/config"
	"harvest/internal/orchestrator"
	"harvest/internal/ratelimit"
	"harvest/internal/runtime/supervisor"
	"harvest/internal/task"
	logx "harvest/pkg/logx"
)

type Service struct {
	mgr    *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	// parser accepts both 5-field and 6-field (with seconds) cron specs.
	parser cron.Parser

	mu      sync.Mutex
	cron    *cron.Cron
	limiter *ratelimit.Limiter
	running bool // overlap gate: a tick that fires mid-batch is skipped
}

func New(mgr *config.Manager, logSvc *logx.Service, log logx.Logger) *Service {
	return &Service{
		mgr:    mgr,
		logSvc: logSvc,
		log:    log,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Run blocks until ctx is done. It returns an error only for unusable
// configuration; batch failures are logged and retried on the next tick.
func (s *Service) Run(ctx context.Context) error {
	cfg := s.mgr.Get()
	if cfg == nil || cfg.Schedule == nil || !cfg.Schedule.Enabled {
		return fmt.Errorf("daemon mode requires an enabled schedule block")
	}
	if strings.TrimSpace(cfg.Paths.TaskQueue) == "" || strings.TrimSpace(cfg.Paths.ScraperConfig) == "" {
		return fmt.Errorf("daemon mode requires paths.task_queue and paths.scraper_config")
	}

	lim, err := s.buildLimiter(cfg)
	if err != nil {
		return err
	}
	s.setLimiter(lim)

	c, err := s.startCron(ctx, cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	sup := supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("comp", "daemon"))))
	// The watcher can die on fs errors; restart it rather than losing reload.
	sup.GoRestart("config.watch", s.mgr.Watch)

	updates := s.mgr.Subscribe(1)
	defer s.mgr.Unsubscribe(updates)
	sup.Go("config.apply", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case next, ok := <-updates:
				if !ok {
					return nil
				}
				s.applyConfig(ctx, next)
			}
		}
	})

	if sent, err := sd.SdNotify(false, sd.SdNotifyReady); err != nil {
		s.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		s.log.Debug("sd_notify ready sent")
	}
	s.log.Info("daemon started", logx.String("schedule", cfg.Schedule.Spec))

	<-ctx.Done()

	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
	s.mu.Lock()
	cur := s.cron
	s.mu.Unlock()
	stopCtx := cur.Stop() // lets an in-flight batch finish
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		s.log.Warn("daemon stop timed out waiting for in-flight batch")
	}
	sup.Cancel()
	wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = sup.Wait(wctx)

	s.log.Info("daemon stopped")
	return nil
}

func (s *Service) startCron(ctx context.Context, cfg *config.Config) (*cron.Cron, error) {
	sched, err := s.parser.Parse(cfg.Schedule.Spec)
	if err != nil {
		return nil, fmt.Errorf("schedule.spec: %w", err)
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("schedule.timezone: %w", err)
		}
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	c.Schedule(sched, cron.FuncJob(func() { s.tick(ctx) }))
	c.Start()
	return c, nil
}

// applyConfig handles a validated config reload: logging is reswapped, the
// limiter is rebuilt, and the cron is restarted with the new schedule.
func (s *Service) applyConfig(ctx context.Context, next *config.Config) {
	if next == nil {
		return
	}
	s.logSvc.Apply(logx.Config{
		Level:   next.Logging.Level,
		Console: next.Logging.Console,
		File: logx.FileConfig{
			Enabled:    next.Logging.File.Enabled,
			Path:       next.Logging.File.Path,
			MaxSizeMB:  next.Logging.File.MaxSizeMB,
			MaxBackups: next.Logging.File.MaxBackups,
			MaxAgeDays: next.Logging.File.MaxAgeDays,
		},
	})

	lim, err := s.buildLimiter(next)
	if err != nil {
		// Validate() runs before publish, so this should not happen; keep
		// the old limiter if it does.
		s.log.Warn("config reload kept previous rate limits", logx.Err(err))
	} else {
		s.setLimiter(lim)
	}

	if next.Schedule == nil || !next.Schedule.Enabled {
		s.log.Warn("config reload cannot disable the schedule of a running daemon; keeping previous")
		return
	}
	nc, err := s.startCron(ctx, next)
	if err != nil {
		s.log.Warn("config reload kept previous schedule", logx.Err(err))
		return
	}
	s.mu.Lock()
	old := s.cron
	s.cron = nc
	s.mu.Unlock()
	<-old.Stop().Done()
	s.log.Info("schedule applied", logx.String("spec", next.Schedule.Spec))
}

func (s *Service) buildLimiter(cfg *config.Config) (*ratelimit.Limiter, error) {
	rlCfg, err := ratelimit.ConfigFrom(cfg.RateLimiting)
	if err != nil {
		return nil, err
	}
	return ratelimit.New(rlCfg), nil
}

func (s *Service) setLimiter(lim *ratelimit.Limiter) {
	s.mu.Lock()
	s.limiter = lim
	s.mu.Unlock()
}

// tick runs one batch. Ticks that fire while a batch is still in flight are
// skipped, matching the coordinator's single-batch-at-a-time model.
func (s *Service) tick(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("batch tick skipped: previous batch still running")
		return
	}
	s.running = true
	lim := s.limiter
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	cfg := s.mgr.Get()
	if cfg == nil {
		return
	}

	queue, err := task.LoadQueue(cfg.Paths.TaskQueue, s.log)
	if err != nil {
		s.log.Error("batch aborted: task queue unreadable", logx.Err(err))
		return
	}
	registry, err := task.LoadRegistry(cfg.Paths.ScraperConfig)
	if err != nil {
		s.log.Error("batch aborted: scraper registry unreadable", logx.Err(err))
		return
	}

	orc := orchestrator.New(orchestratorConfig(cfg), lim, registry, s.log)
	sum := orc.Run(ctx, queue)
	if sum.Failed() {
		s.log.Warn("batch finished with failures", logx.Int("failed", sum.Stats.Failed))
	}
}

// orchestratorConfig maps the coordinator config onto one batch's policy.
func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	grace, _ := config.ParseDurationOrDefault("execution.kill_grace", cfg.Execution.KillGrace, 10*time.Second)
	oc := orchestrator.Config{
		MaxConcurrent: cfg.Execution.MaxConcurrent,
		KillGrace:     grace,
		Weighted:      cfg.TaskProcessing.PriorityWeighting.Enabled,
		Policy:        task.PolicyFromConfig(cfg.TaskProcessing.PriorityWeighting),
	}
	if rc := cfg.Execution.Reconciliation; rc.ReconciliationEnabled() {
		oc.Reconcile = orchestrator.ReconcileConfig{
			Enabled:     true,
			Command:     rc.Command,
			PreviewFlag: rc.PreviewFlag,
		}
	}
	return oc
}
