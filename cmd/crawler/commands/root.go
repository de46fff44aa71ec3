package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/maltedev/shelf-crawler/internal/config"
	"github.com/maltedev/shelf-crawler/internal/logging"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var flags struct {
	maxRetries     int
	concurrency    int
	screenshot     bool
	blockResources bool
	sink           string
	sinkPath       string
	profiles       string
	retailer       string
	logLevel       string
}

var rootCmd = &cobra.Command{
	Use:           "crawler",
	Short:         "crawler explores retail category pages and scrapes product details.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		applyFlags(cmd, loaded)
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		cfg = loaded
		logger = logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.IntVar(&flags.maxRetries, "max-retries", 3, "Attempts per work unit before it fails terminally")
	pf.IntVar(&flags.concurrency, "concurrency", 4, "Detail pages fetched in parallel")
	pf.BoolVar(&flags.screenshot, "screenshot", false, "Upload a screenshot of every failed page")
	pf.BoolVar(&flags.blockResources, "block-resources", false, "Stub images and abort tracker requests in the browser")
	pf.StringVar(&flags.sink, "sink", "memory", "Dataset sink: memory, file, sqlite or postgres")
	pf.StringVar(&flags.sinkPath, "sink-path", "", "Directory or database file for the file and sqlite sinks")
	pf.StringVar(&flags.profiles, "profiles", "", "TOML file with site profiles")
	pf.StringVar(&flags.retailer, "retailer", "", "Site definition to use instead of the url's domain")
	pf.StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	changed := cmd.Flags().Changed
	if changed("max-retries") {
		c.Crawler.MaxRetries = flags.maxRetries
	}
	if changed("concurrency") {
		c.Crawler.Concurrency = flags.concurrency
	}
	if changed("screenshot") {
		c.Crawler.TakeScreenshots = flags.screenshot
	}
	if changed("block-resources") {
		c.Crawler.BlockResources = flags.blockResources
	}
	if changed("sink") {
		c.Sink.Type = flags.sink
	}
	if changed("sink-path") {
		c.Sink.Path = flags.sinkPath
	}
	if changed("profiles") {
		c.Sites.ProfileFile = flags.profiles
	}
	if changed("retailer") {
		c.Crawler.Retailer = flags.retailer
	}
	if changed("log-level") {
		c.Logging.Level = flags.logLevel
	}
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
