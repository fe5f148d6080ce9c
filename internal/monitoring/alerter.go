package monitoring

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/license-watch/internal/config"
	"github.com/sells-group/license-watch/internal/metrics"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate AlertType = "failure_rate"
	AlertStale       AlertType = "stale"
)

// AlertTypes lists every alert type the alerter can raise.
var AlertTypes = []AlertType{AlertFailureRate, AlertStale}

// Alert represents a single breached threshold.
type Alert struct {
	Type      AlertType      `json:"type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and reports
// breaches to the log and the alerts gauge.
type Alerter struct {
	cfg     config.MonitoringConfig
	metrics *metrics.Metrics
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig, m *metrics.Metrics) *Alerter {
	return &Alerter{cfg: cfg, metrics: m}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt

	// Need a few finished runs before a rate means anything.
	finished := snap.Succeeded + snap.Failed
	if a.cfg.FailureRateThreshold > 0 && finished >= 3 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type: AlertFailureRate,
			Message: fmt.Sprintf(
				"run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100, snap.Failed, finished,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MaxStalenessHours > 0 {
		limit := time.Duration(a.cfg.MaxStalenessHours) * time.Hour
		switch {
		case snap.LastSuccess == nil && snap.Total > 0:
			alerts = append(alerts, Alert{
				Type:      AlertStale,
				Message:   fmt.Sprintf("no successful run among the last %d", snap.Total),
				Timestamp: now,
			})
		case snap.LastSuccess != nil && now.Sub(*snap.LastSuccess) > limit:
			age := now.Sub(*snap.LastSuccess).Truncate(time.Minute)
			alerts = append(alerts, Alert{
				Type:    AlertStale,
				Message: fmt.Sprintf("last successful run was %s ago, limit %s", age, limit),
				Details: map[string]any{
					"last_success": snap.LastSuccess.Format(time.RFC3339),
					"age_hours":    age.Hours(),
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// Report logs each alert and sets the alerts gauge for every known type,
// clearing the ones that did not fire.
func (a *Alerter) Report(alerts []Alert) {
	active := make(map[AlertType]bool, len(alerts))
	for _, alert := range alerts {
		active[alert.Type] = true
		zap.L().Warn("monitoring: alert",
			zap.String("type", string(alert.Type)),
			zap.String("message", alert.Message),
			zap.Any("details", alert.Details),
		)
	}
	for _, t := range AlertTypes {
		a.metrics.SetAlert(string(t), active[t])
	}
}
