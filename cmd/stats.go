package cmd

import (
	"github.com/spf13/cobra"

	"github.com/signalnine/memtrace/internal/kernel"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the memorizer show_stats summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			k := kernel.New(kernel.Options{Dir: cfg.Kernel.DebugfsDir, Logger: logger})
			return k.DumpStats(cmd.OutOrStdout())
		},
	}
}
