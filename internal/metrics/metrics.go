// Package metrics exposes Prometheus collectors for workflow runs and scrapes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	skippedTicks       prometheus.Counter
	stepDuration       *prometheus.HistogramVec
	stepFailures       *prometheus.CounterVec
	noticesParsed      prometheus.Counter
	licensesUpserted   *prometheus.CounterVec
	licenseWriteErrors *prometheus.CounterVec
	geocodeLookups     *prometheus.CounterVec
	lastSuccess        prometheus.Gauge
	alerts             *prometheus.GaugeVec
	gatherer           prometheus.Gatherer
}

// New registers the collectors with reg. Pass a fresh prometheus.NewRegistry()
// in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "license_watch_runs_total",
			Help: "Workflow runs, labeled by trigger and final status.",
		}, []string{"trigger", "status"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "license_watch_run_duration_seconds",
			Help:    "Workflow run duration, labeled by final status.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"status"}),
		skippedTicks: f.NewCounter(prometheus.CounterOpts{
			Name: "license_watch_skipped_ticks_total",
			Help: "Scheduled ticks skipped because a run was already in progress.",
		}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "license_watch_step_duration_seconds",
			Help:    "Workflow step duration, labeled by step name.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"step"}),
		stepFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "license_watch_step_failures_total",
			Help: "Workflow steps that exited non-zero, labeled by step and phase.",
		}, []string{"step", "phase"}),
		noticesParsed: f.NewCounter(prometheus.CounterOpts{
			Name: "license_watch_notices_parsed_total",
			Help: "Notices parsed from the licensing page.",
		}),
		licensesUpserted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "license_watch_licenses_upserted_total",
			Help: "Licenses written, labeled by store.",
		}, []string{"store"}),
		licenseWriteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "license_watch_license_write_errors_total",
			Help: "Licenses that failed to write, labeled by store.",
		}, []string{"store"}),
		geocodeLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "license_watch_geocode_lookups_total",
			Help: "Address lookups, labeled by source: memo, cache, api, unmatched.",
		}, []string{"source"}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "license_watch_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}),
		alerts: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "license_watch_alert_active",
			Help: "1 while a health alert of the labeled type is firing.",
		}, []string{"type"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(trigger, status string, d time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(trigger, status).Inc()
	m.runDuration.WithLabelValues(status).Observe(d.Seconds())
	if status == "succeeded" {
		m.lastSuccess.Set(float64(finished.Unix()))
	}
}

// SkippedTick records a scheduled tick dropped because a run was active.
func (m *Metrics) SkippedTick() {
	if m == nil {
		return
	}
	m.skippedTicks.Inc()
}

// ObserveStep records one workflow step.
func (m *Metrics) ObserveStep(step, phase string, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
	if !ok {
		m.stepFailures.WithLabelValues(step, phase).Inc()
	}
}

// NoticesParsed adds n parsed notices.
func (m *Metrics) NoticesParsed(n int) {
	if m == nil {
		return
	}
	m.noticesParsed.Add(float64(n))
}

// LicensesWritten records per-store upsert outcomes.
func (m *Metrics) LicensesWritten(store string, upserted, failed int) {
	if m == nil {
		return
	}
	m.licensesUpserted.WithLabelValues(store).Add(float64(upserted))
	if failed > 0 {
		m.licenseWriteErrors.WithLabelValues(store).Add(float64(failed))
	}
}

// GeocodeLookups adds n lookups served by source.
func (m *Metrics) GeocodeLookups(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.geocodeLookups.WithLabelValues(source).Add(float64(n))
}

// SetAlert marks the alert of type t as firing or clear.
func (m *Metrics) SetAlert(t string, firing bool) {
	if m == nil {
		return
	}
	v := 0.0
	if firing {
		v = 1
	}
	m.alerts.WithLabelValues(t).Set(v)
}
