package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/license-watch/internal/metrics"
	"github.com/sells-group/license-watch/internal/monitoring"
	"github.com/sells-group/license-watch/internal/server"
	"github.com/sells-group/license-watch/internal/trigger"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the dispatch API",
	Long:  "Fires the workflow on the configured cron schedule, serves /v1/dispatch for manual runs and run history, and watches run health.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		hist, err := openHistory(ctx)
		if err != nil {
			return err
		}
		defer hist.Close() //nolint:errcheck

		m := metrics.New(prometheus.NewRegistry())
		n, err := hist.FailInterrupted(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			zap.L().Warn("marked interrupted runs as failed", zap.Int64("runs", n))
		}

		runner, err := initRunner(hist, m)
		if err != nil {
			return err
		}
		// Dispatched runs must be recorded before the history store closes.
		defer runner.Wait()

		sched, err := loadSchedule()
		if err != nil {
			return err
		}

		scheduler := trigger.NewScheduler(sched, runner, m)
		scheduler.Start(ctx)
		defer scheduler.Stop()

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(hist),
				monitoring.NewAlerter(cfg.Monitoring, m),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		api := server.New(ctx, scheduler, hist, server.Options{
			CORSOrigins: cfg.Server.CORSOrigins,
			Metrics:     m.Handler(),
			Running:     runner.Running,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
