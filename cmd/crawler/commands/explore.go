package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var exploreFlags struct {
	jobID string
	out   string
}

func init() {
	exploreCmd.Flags().StringVar(&exploreFlags.jobID, "job-id", "", "Job the discovered units belong to (default: a new uuid)")
	exploreCmd.Flags().StringVarP(&exploreFlags.out, "out", "o", "", "Write the detail units to this file instead of stdout")
	rootCmd.AddCommand(exploreCmd)
}

var exploreCmd = &cobra.Command{
	Use:   "explore <category-url>",
	Short: "Walks a category listing and prints the admitted detail units.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		jobID := exploreFlags.jobID
		if jobID == "" {
			jobID = uuid.New().String()
		}
		defer a.crawler.FinishJob(ctx, jobID)

		units, err := a.crawler.ExploreCategory(ctx, args[0], jobID, a.options())
		if err != nil {
			return fmt.Errorf("failed to explore %s: %w", args[0], err)
		}
		logger.Info("category explored", "job_id", jobID, "details", len(units))

		return writeJSON(exploreFlags.out, cmd.OutOrStdout(), units)
	},
}

// writeJSON writes v to path, or to w when path is empty.
func writeJSON(path string, w io.Writer, v any) error {
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
