package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/signalnine/memtrace/internal/config"
	"github.com/signalnine/memtrace/internal/controller"
	"github.com/signalnine/memtrace/internal/kernel"
	"github.com/signalnine/memtrace/internal/runner"
	"github.com/signalnine/memtrace/internal/sysmem"
)

var (
	flagBasic    bool
	flagExtended bool
	flagCommands []string
	flagPath     string
	flagParallel int
	flagCompress bool
)

func addTraceFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVarP(&flagBasic, "basic", "e", false, "run the basic workload set")
	f.BoolVarP(&flagExtended, "extended", "m", false, "run the extended test suite")
	f.StringArrayVarP(&flagCommands, "cmd", "c", nil, "add a custom workload command (repeatable)")
	f.StringVarP(&flagPath, "path", "p", ".", "output directory for the trace artifact")
	f.IntVar(&flagParallel, "parallel", 0, "max concurrent workloads (0 = all)")
	f.BoolVar(&flagCompress, "compress", false, "zstd-compress the artifact after the run")
}

func runTrace(cmd *cobra.Command, args []string) error {
	modes := config.Modes{Basic: flagBasic, Extended: flagExtended, Commands: flagCommands}
	if modes.Empty() {
		return cmd.Help()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rc, err := cfg.Resolve(flagPath, modes)
	if err != nil {
		return err
	}
	mem, err := sysmem.NewSource(cfg.Monitor.Source)
	if err != nil {
		return err
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := controller.New(controller.Options{
		Run: rc,
		Tracer: kernel.New(kernel.Options{
			Dir:    cfg.Kernel.DebugfsDir,
			Group:  cfg.Permissions.Group,
			Sudo:   cfg.Permissions.UseSudo(),
			Logger: logger,
		}),
		Runner: &runner.Runner{
			Dir:    wd,
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
			Logger: logger,
		},
		Memory:          mem,
		Threshold:       cfg.Monitor.Threshold,
		Interval:        cfg.Monitor.Interval.Std(),
		PermissionPaths: cfg.Permissions.Paths,
		Parallel:        flagParallel,
		Compress:        flagCompress,
		WorkDir:         wd,
		Stats:           cmd.OutOrStdout(),
		Logger:          logger,
	})
	rec, err := c.Run(ctx)
	if rec != nil {
		logger.Debug("run finished", "run_id", rec.RunID, "phase", rec.Phase)
	}
	return err
}
