// Package monitoring watches run history for repeated failures and stale data.
package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/license-watch/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates run health on an interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	window    int
	log       *zap.Logger
}

// NewChecker wires a collector and alerter into a checker. A non-positive
// CheckIntervalSecs falls back to five minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		window:    cfg.Window,
		log:       zap.L().With(zap.String("component", "monitoring")),
	}
}

// Run checks once immediately, then every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("run health checks enabled",
		zap.Duration("every", c.interval),
		zap.Int("window", c.window),
	)
	defer c.log.Info("run health checks disabled")

	for {
		c.Check(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.interval):
		}
	}
}

// Check takes one snapshot, logs its counts and reports the alerts it raises.
// It returns nil when the history cannot be read.
func (c *Checker) Check(ctx context.Context) []Alert {
	if ctx.Err() != nil {
		return nil
	}

	snap, err := c.collector.Collect(ctx, c.window)
	if err != nil {
		c.log.Error("monitoring: collect run health", zap.Error(err))
		return nil
	}

	fields := []zap.Field{
		zap.Int("total", snap.Total),
		zap.Int("succeeded", snap.Succeeded),
		zap.Int("failed", snap.Failed),
		zap.Int("running", snap.Running),
		zap.Float64("fail_rate", snap.FailRate),
	}
	if snap.LastSuccess != nil {
		fields = append(fields, zap.Time("last_success", *snap.LastSuccess))
	}

	alerts := c.alerter.Evaluate(snap)
	c.alerter.Report(alerts)

	c.log.Info("run health", append(fields, zap.Int("alerts", len(alerts)))...)
	return alerts
}
