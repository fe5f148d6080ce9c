package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/license-watch/internal/history"
	"github.com/sells-group/license-watch/internal/model"
)

var runNoHistory bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the workflow once (manual trigger)",
	Long:  "Runs every workflow step in order: checkout, runtime check, dependency install, then the scraper. Stops at the first failing step.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		m := newMetrics()
		var hist *history.Store
		if !runNoHistory {
			h, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer h.Close() //nolint:errcheck
			hist = h
		}

		runner, err := initRunner(hist, m)
		if err != nil {
			return err
		}

		run, err := runner.Run(ctx, model.TriggerManual)
		if run != nil {
			formatRun(os.Stdout, run)
		}
		if err != nil {
			return fmt.Errorf("run failed: %w", err)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "do not record the run in the history database")
	rootCmd.AddCommand(runCmd)
}
