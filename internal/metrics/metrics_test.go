package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRun(t *testing.T) {
	m := New(prometheus.NewRegistry())
	finished := time.Unix(1_700_000_000, 0)

	m.ObserveRun("schedule", "succeeded", 30*time.Second, finished)
	m.ObserveRun("manual", "failed", time.Second, finished.Add(time.Hour))

	assert.InDelta(t, 1, testutil.ToFloat64(m.runsTotal.WithLabelValues("schedule", "succeeded")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.runsTotal.WithLabelValues("manual", "failed")), 0)
	// Failed runs do not move the success timestamp.
	assert.InDelta(t, 1_700_000_000, testutil.ToFloat64(m.lastSuccess), 0)
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SkippedTick()
	m.NoticesParsed(42)
	m.LicensesWritten("xata", 40, 2)
	m.LicensesWritten("fauna", 42, 0)
	m.GeocodeLookups("cache", 10)
	m.GeocodeLookups("api", 0)
	m.ObserveStep("install", "setup", time.Second, false)

	assert.InDelta(t, 1, testutil.ToFloat64(m.skippedTicks), 0)
	assert.InDelta(t, 42, testutil.ToFloat64(m.noticesParsed), 0)
	assert.InDelta(t, 40, testutil.ToFloat64(m.licensesUpserted.WithLabelValues("xata")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.licenseWriteErrors.WithLabelValues("xata")), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(m.geocodeLookups.WithLabelValues("cache")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.stepFailures.WithLabelValues("install", "setup")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.geocodeLookups))
}

func TestSetAlert(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetAlert("stale", true)
	assert.InDelta(t, 1, testutil.ToFloat64(m.alerts.WithLabelValues("stale")), 0)

	m.SetAlert("stale", false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.alerts.WithLabelValues("stale")), 0)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun("manual", "succeeded", time.Second, time.Now())
		m.SkippedTick()
		m.ObserveStep("x", "setup", time.Second, true)
		m.NoticesParsed(1)
		m.LicensesWritten("xata", 1, 1)
		m.GeocodeLookups("api", 1)
		m.SetAlert("stale", true)
	})
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SkippedTick()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "license_watch_skipped_ticks_total 1")
}
