package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"harvest/internal/config"
	"harvest/internal/orchestrator"
	"harvest/internal/ratelimit"
	"harvest/internal/task"
)

type runFlags struct {
	configPath       string
	taskQueue        string
	scraperConfig    string
	priority         string
	maxConcurrent    int
	dryRun           bool
	noReconciliation bool
	skipSaturated    bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "execute one batch from the task queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", "", "path to coordinator config (json or yaml); built-in defaults when omitted")
	cmd.Flags().StringVar(&f.taskQueue, "task-queue", "", "path to the task queue file (required)")
	cmd.Flags().StringVar(&f.scraperConfig, "scraper-config", "", "path to the scraper registry (required)")
	cmd.Flags().StringVar(&f.priority, "priority", "", "restrict the batch to one tier (critical|high|medium|low)")
	cmd.Flags().IntVar(&f.maxConcurrent, "max-concurrent", 0, "worker pool size (overrides config; default 5)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "select tasks without executing anything")
	cmd.Flags().BoolVar(&f.noReconciliation, "no-reconciliation", false, "suppress the downstream reconciliation trigger")
	cmd.Flags().BoolVar(&f.skipSaturated, "skip-saturated", false, "skip (instead of queue) tasks whose source is rate-saturated")
	_ = cmd.MarkFlagRequired("task-queue")
	_ = cmd.MarkFlagRequired("scraper-config")
	return cmd
}

func runBatch(cmd *cobra.Command, f runFlags) error {
	cfg := config.Default()
	if f.configPath != "" {
		mgr := config.NewManager(f.configPath)
		loaded, err := mgr.Load()
		if err != nil {
			return fmt.Errorf("load config %s: %w", f.configPath, err)
		}
		cfg = loaded
	}

	logSvc, log := newLogging(cfg)
	defer logSvc.Close()

	// Load-time failures are fatal to the whole run: nothing is dispatched.
	queue, err := task.LoadQueue(f.taskQueue, log)
	if err != nil {
		return err
	}
	registry, err := task.LoadRegistry(f.scraperConfig)
	if err != nil {
		return err
	}

	rlCfg, err := ratelimit.ConfigFrom(cfg.RateLimiting)
	if err != nil {
		return err
	}
	limiter := ratelimit.New(rlCfg)

	oc, err := orchestratorConfig(cfg, f)
	if err != nil {
		return err
	}

	sum := orchestrator.New(oc, limiter, registry, log).Run(cmd.Context(), queue)
	if sum.Failed() {
		return fmt.Errorf("batch finished with %d failed task(s)", sum.Stats.Failed)
	}
	return nil
}

func orchestratorConfig(cfg *config.Config, f runFlags) (orchestrator.Config, error) {
	grace, err := config.ParseDurationOrDefault("execution.kill_grace", cfg.Execution.KillGrace, 10*time.Second)
	if err != nil {
		return orchestrator.Config{}, err
	}

	oc := orchestrator.Config{
		MaxConcurrent: cfg.Execution.MaxConcurrent,
		KillGrace:     grace,
		DryRun:        f.dryRun,
		Weighted:      cfg.TaskProcessing.PriorityWeighting.Enabled,
		Policy:        task.PolicyFromConfig(cfg.TaskProcessing.PriorityWeighting),
		SkipSaturated: f.skipSaturated,
	}
	if f.maxConcurrent > 0 {
		oc.MaxConcurrent = f.maxConcurrent
	}
	if f.priority != "" {
		tier, err := task.ParseTier(f.priority)
		if err != nil {
			return orchestrator.Config{}, err
		}
		oc.TierFilter = &tier
	}
	if rc := cfg.Execution.Reconciliation; rc.ReconciliationEnabled() && !f.noReconciliation {
		oc.Reconcile = orchestrator.ReconcileConfig{
			Enabled:     true,
			Command:     rc.Command,
			Preview:     f.dryRun,
			PreviewFlag: rc.PreviewFlag,
		}
	}
	return oc, nil
}
