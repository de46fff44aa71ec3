package commands

import (
	"github.com/spf13/cobra"
)

var jobsStats bool

func init() {
	jobsCmd.Flags().BoolVar(&jobsStats, "stats", false, "Print totals instead of every job")
	rootCmd.AddCommand(jobsCmd)
}

var jobsCmd = &cobra.Command{
	Use:   "jobs [<job-id>]",
	Short: "Shows stored crawl jobs.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		switch {
		case len(args) == 1:
			job, err := a.jobs.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON("", cmd.OutOrStdout(), job)
		case jobsStats:
			stats, err := a.jobs.Stats(ctx)
			if err != nil {
				return err
			}
			return writeJSON("", cmd.OutOrStdout(), stats)
		default:
			all, err := a.jobs.List(ctx)
			if err != nil {
				return err
			}
			return writeJSON("", cmd.OutOrStdout(), all)
		}
	},
}
