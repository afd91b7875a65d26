package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/signalnine/memtrace/internal/config"
	"github.com/signalnine/memtrace/internal/logging"
)

var (
	cfgFile  string
	envFile  string
	logLevel string
	noColor  bool

	logger *slog.Logger
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "memtrace [flags]",
		Short: "Run workloads under the memorizer kernel tracer and collect the kmap",
		Long: `memtrace enables memorizer allocation and access tracking, runs the selected
workloads, drains the kernel trace buffer to <path>/test.kmap whenever memory
pressure rises, and restores the tracer to its idle state afterwards.`,
		Example: `  memtrace -e -p /tmp/run1
  memtrace -m
  memtrace -c "stress-ng --vm 2 --timeout 30s" --compress`,
		Args:          noPositionalArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logging.New(cmd.ErrOrStderr(), logLevel, noColor)
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
		RunE: runTrace,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		cmd.PrintErrln(cmd.UsageString())
		return err
	})

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file path (.yaml or .toml)")
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file with MEMTRACE_* overrides")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.BoolVar(&noColor, "no-color", false, "disable colored output")

	addTraceFlags(root)
	root.AddCommand(newListCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newReportCmd())
	return root
}

func noPositionalArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		cmd.PrintErrln(cmd.UsageString())
		return fmt.Errorf("unexpected argument %q", args[0])
	}
	return nil
}

// loadConfig reads --config, then applies the env file. An explicitly passed
// --env-file must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg, envFile, cmd.Flags().Changed("env-file")); err != nil {
		return nil, err
	}
	return cfg, nil
}
