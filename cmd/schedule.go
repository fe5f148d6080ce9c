package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/license-watch/internal/trigger"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect the run schedule",
}

var scheduleNextCount int

var scheduleNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Print the next scheduled fire times",
	RunE: func(cmd *cobra.Command, args []string) error {
		sched, err := loadSchedule()
		if err != nil {
			return err
		}
		formatSchedule(os.Stdout, sched, time.Now(), scheduleNextCount)
		return nil
	},
}

func formatSchedule(w io.Writer, sched *trigger.Schedule, now time.Time, count int) {
	if sched == nil {
		_, _ = fmt.Fprintln(w, "Schedule disabled; manual dispatch only.")
		return
	}
	_, _ = fmt.Fprintf(w, "Cron: %s (%s)\n", sched, sched.Location())
	for _, t := range sched.NextN(now, count) {
		_, _ = fmt.Fprintf(w, "  %s  %s\n", t.Format(time.RFC3339), t.Weekday())
	}
}

func init() {
	scheduleNextCmd.Flags().IntVarP(&scheduleNextCount, "count", "n", 5, "number of fire times to print")
	scheduleCmd.AddCommand(scheduleNextCmd)
	rootCmd.AddCommand(scheduleCmd)
}
