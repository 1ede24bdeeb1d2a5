package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "trawl",
		Short: "Run-tracked search extraction",
		Long: `trawl pulls search results for a configured source, normalizes them into rows,
appends them to a sink and records the outcome of every run in a control table.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")

	cmd.AddCommand(
		newRunCmd(opts),
		newRunBatchCmd(opts),
		newRunsCmd(opts),
		newInitDBCmd(opts),
		newParamCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "trawl %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
