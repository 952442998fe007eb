package daemon

import (
	"context"
	"testing"
	"time"

	"harvest/internal/config"
	logx "harvest/pkg/logx"
)

func TestRunRejectsUnusableConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  *config.Config
	}{
		{name: "no schedule", cfg: config.Default()},
		{
			name: "schedule disabled",
			cfg: func() *config.Config {
				c := config.Default()
				c.Schedule = &config.ScheduleConfig{Enabled: false, Spec: "@hourly"}
				return c
			}(),
		},
		{
			name: "missing paths",
			cfg: func() *config.Config {
				c := config.Default()
				c.Schedule = &config.ScheduleConfig{Enabled: true, Spec: "@hourly"}
				return c
			}(),
		},
		{
			name: "bad cron spec",
			cfg: func() *config.Config {
				c := config.Default()
				c.Schedule = &config.ScheduleConfig{Enabled: true, Spec: "every tuesday"}
				c.Paths = config.PathsConfig{TaskQueue: "q.json", ScraperConfig: "s.json"}
				return c
			}(),
		},
		{
			name: "bad timezone",
			cfg: func() *config.Config {
				c := config.Default()
				c.Schedule = &config.ScheduleConfig{Enabled: true, Spec: "@hourly", Timezone: "Mars/Olympus"}
				c.Paths = config.PathsConfig{TaskQueue: "q.json", ScraperConfig: "s.json"}
				return c
			}(),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mgr := config.NewManager("unused.json")
			mgr.Commit(tt.cfg)
			svc := New(mgr, nil, logx.Nop())
			if err := svc.Run(context.Background()); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}

func TestOrchestratorConfigMapping(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Execution.MaxConcurrent = 7
	cfg.Execution.KillGrace = "20s"
	cfg.Execution.Reconciliation = config.ReconciliationConfig{
		Command:     []string{"reconcile.sh", "--fast"},
		PreviewFlag: "--check",
	}
	cfg.TaskProcessing.PriorityWeighting.Enabled = true
	cfg.TaskProcessing.PriorityWeighting.AgeWeight = 2

	oc := orchestratorConfig(cfg)
	if oc.MaxConcurrent != 7 {
		t.Fatalf("MaxConcurrent = %d", oc.MaxConcurrent)
	}
	if oc.KillGrace != 20*time.Second {
		t.Fatalf("KillGrace = %v", oc.KillGrace)
	}
	if !oc.Weighted || oc.Policy.AgeWeight != 2 {
		t.Fatalf("weighting = %v / %+v", oc.Weighted, oc.Policy)
	}
	if !oc.Reconcile.Enabled || oc.Reconcile.PreviewFlag != "--check" {
		t.Fatalf("Reconcile = %+v", oc.Reconcile)
	}
}

func TestOrchestratorConfigZeroValueDefaults(t *testing.T) {
	t.Parallel()
	oc := orchestratorConfig(config.Default())
	if oc.KillGrace != 10*time.Second {
		t.Fatalf("KillGrace = %v, want the 10s default", oc.KillGrace)
	}
	if oc.Reconcile.Enabled {
		t.Fatal("reconciliation enabled without a command")
	}
}
