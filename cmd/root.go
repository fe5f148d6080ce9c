package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/license-watch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "license-watch",
	Short: "Scheduled scraper for Washington liquor and cannabis license notices",
	Long: "Fetches the WSLCB statewide license notification page, geocodes each business location, " +
		"and upserts the notices into Xata and FaunaDB. Runs on a cron schedule or on demand.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
