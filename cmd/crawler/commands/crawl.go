package commands

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(crawlCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl <category-url>...",
	Short: "Runs a full job: explores every category, then scrapes the admitted details.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.jobs.Create(ctx, args)
		if err != nil {
			return err
		}

		runErr := a.jobs.Run(ctx, job)
		if err := writeJSON("", cmd.OutOrStdout(), job); err != nil {
			return err
		}
		return runErr
	},
}
