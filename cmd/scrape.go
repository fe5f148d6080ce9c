package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/license-watch/internal/scraper"
)

var (
	scrapeLimit        int
	scrapeCreateTables bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape the notification page once and store the results",
	Long: "Fetches the license notification page, geocodes business locations, and upserts every notice. " +
		"Reads GEOCODIO_API_KEY, FAUNADB_SECRET, XATA_API_KEY, and XATA_DB_URL from the environment. " +
		"Exits non-zero on failure.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("scrape"); err != nil {
			return err
		}

		env, err := initScraper(ctx, newMetrics())
		if err != nil {
			return err
		}
		defer env.Close()

		if scrapeCreateTables {
			return env.Scraper.CreateTables(ctx)
		}

		res, err := env.Scraper.Run(ctx, scraper.Options{Limit: scrapeLimit})
		if err != nil {
			zap.L().Error("scrape failed", zap.Error(err))
			return err
		}
		if res.Failed > 0 {
			zap.L().Warn("some licenses were not written", zap.Int("failed", res.Failed))
		}
		return nil
	},
}

func init() {
	scrapeCmd.Flags().IntVar(&scrapeLimit, "limit", 0, "process only the first N notices (0 = all)")
	scrapeCmd.Flags().BoolVar(&scrapeCreateTables, "create-tables", false, "create tables, collections, and indexes, then exit")
	rootCmd.AddCommand(scrapeCmd)
}
