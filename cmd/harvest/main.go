package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"harvest/internal/config"
	"harvest/internal/daemon"
	logx "harvest/pkg/logx"
)

var (
	// Set via -ldflags at build time.
	Version = "dev"
	GitHash = ""
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := &cobra.Command{
		Use:           "harvest",
		Short:         "coordinates external data-collection scrapers against rate-limited sources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newDaemonCmd(), newVersionCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newDaemonCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "run recurring batches on the configured schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := config.NewManager(cfgPath)
			cfg, err := mgr.Load()
			if err != nil {
				return fmt.Errorf("load config %s: %w", cfgPath, err)
			}

			logSvc, log := newLogging(cfg)
			defer logSvc.Close()
			mgr.SetLogger(log)

			return daemon.New(mgr, logSvc, log).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "./harvest.yaml", "path to coordinator config (json or yaml)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			v := Version
			if h := GitHash; len(h) > 7 {
				v = fmt.Sprintf("%s-%s", v, h[:7])
			}
			fmt.Println("harvest", v)
		},
	}
}

func newLogging(cfg *config.Config) (*logx.Service, logx.Logger) {
	return logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    cfg.Logging.File.Enabled,
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAgeDays: cfg.Logging.File.MaxAgeDays,
		},
	})
}
