package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/maltedev/shelf-crawler/internal/crawler"
	"github.com/maltedev/shelf-crawler/internal/models"
)

var scrapeFlags struct {
	jobID string
	units string
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeFlags.jobID, "job-id", "", "Job the records are written under (default: a new uuid)")
	scrapeCmd.Flags().StringVar(&scrapeFlags.units, "units", "", "JSON file of detail units written by explore")
	rootCmd.AddCommand(scrapeCmd)
}

type scrapeSummary struct {
	JobID      string            `json:"job_id"`
	Records    int               `json:"records"`
	Failures   []crawler.Failure `json:"failures"`
	Skipped    int               `json:"skipped"`
	Suppressed int               `json:"suppressed"`
	Duplicates int               `json:"duplicates"`
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--units <file>] [<product-url>...]",
	Short: "Fetches product detail pages and writes their records to the sink.",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, override := scrapeFlags.jobID, scrapeFlags.jobID != ""
		if !override {
			jobID = uuid.New().String()
		}

		units, err := loadUnits(scrapeFlags.units, jobID, override, args)
		if err != nil {
			return err
		}
		if len(units) == 0 {
			return fmt.Errorf("no product urls given")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		batch, err := a.crawler.ScrapeDetails(ctx, units, a.options())
		summary := scrapeSummary{JobID: jobID}
		if batch != nil {
			summary.Records = len(batch.Records)
			summary.Failures = batch.Failures
			summary.Skipped = len(batch.Skipped)
			summary.Suppressed = batch.Suppressed
			summary.Duplicates = batch.Duplicates
		}
		if werr := writeJSON("", cmd.OutOrStdout(), summary); werr != nil {
			return werr
		}
		return err
	},
}

// loadUnits reads units from path and appends one fresh detail unit per url.
// Units read from path keep their job id unless override is set.
func loadUnits(path, jobID string, override bool, urls []string) ([]*models.WorkUnit, error) {
	var units []*models.WorkUnit
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read units: %w", err)
		}
		if err := json.Unmarshal(data, &units); err != nil {
			return nil, fmt.Errorf("failed to parse units: %w", err)
		}
		for _, u := range units {
			if override || u.UserData.JobID == "" {
				u.UserData.JobID = jobID
			}
			u.Kind = models.KindDetail
			u.State = models.StatePending
			u.RetryCount = 0
		}
	}
	for _, raw := range urls {
		units = append(units, models.NewDetailUnit(&models.ListingCard{URL: raw}, jobID))
	}
	return units, nil
}
