package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/signalnine/memtrace/internal/config"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workload presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printWorkloads(out, "Basic (-e):", cfg.Workloads.Basic)
			fmt.Fprintln(out)
			printWorkloads(out, "Extended (-m):", cfg.Workloads.Extended)
			return nil
		},
	}
}

func printWorkloads(w io.Writer, title string, ws []config.Workload) {
	fmt.Fprintln(w, title)
	for _, wl := range ws {
		line := fmt.Sprintf("  - %s: %s", wl.Name, wl.Command)
		if wl.Image != "" {
			line += fmt.Sprintf(" (image: %s)", wl.Image)
		}
		if wl.Log != "" {
			line += fmt.Sprintf(" [log: %s]", wl.Log)
		}
		fmt.Fprintln(w, line)
	}
}
