package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://licensinginfo.lcb.wa.gov/EntireStateWeb.asp", cfg.Scrape.SourceURL)
	assert.Equal(t, "https://api.geocod.io/v1.7", cfg.Geocodio.BaseURL)
	assert.Equal(t, 10000, cfg.Geocodio.BatchSize)
	assert.Equal(t, []string{"xata", "fauna"}, cfg.Store.Backends)
	assert.Equal(t, "0 14 * * 1-6", cfg.Schedule.Cron)
	assert.Equal(t, "UTC", cfg.Schedule.Timezone)
	assert.True(t, cfg.Schedule.Enabled)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Empty(t, cfg.Workflow.Path)
	assert.Empty(t, cfg.History.Path)
	assert.True(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 10, cfg.Monitoring.Window)
	assert.Equal(t, 72, cfg.Monitoring.MaxStalenessHours)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  backends: [xata]
log:
  level: debug
  format: console
schedule:
  cron: "30 6 * * *"
geocodio:
  batch_size: 500
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"xata"}, cfg.Store.Backends)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "30 6 * * *", cfg.Schedule.Cron)
	assert.Equal(t, 500, cfg.Geocodio.BatchSize)
	// Defaults still apply for unset values
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
schedule:
  timezone: America/Los_Angeles
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("LICENSE_WATCH_LOG_LEVEL", "warn")
	t.Setenv("LICENSE_WATCH_SCHEDULE_TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "UTC", cfg.Schedule.Timezone)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("LICENSE_WATCH_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unterminated"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "loud", Format: "json"}))
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Scrape.SourceURL = "https://example.com/licenses"
	cfg.Geocodio.BatchSize = 10000
	cfg.Geocodio.Concurrency = 2
	cfg.Store.Backends = []string{"xata"}
	cfg.Schedule.Enabled = true
	cfg.Schedule.Cron = "0 14 * * 1-6"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateScrape(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("scrape"))

	cfg.Geocodio.BatchSize = 10001
	cfg.Store.Backends = []string{"mongo"}
	err := cfg.Validate("scrape")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geocodio.batch_size must be between 1 and 10000")
	assert.Contains(t, err.Error(), "unknown backend mongo")
}

func TestValidateScrape_NoBackends(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Backends = nil

	err := cfg.Validate("scrape")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backends")
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Port = 0
	cfg.Schedule.Cron = " "
	cfg.Monitoring.FailureRateThreshold = 1.5
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.Contains(t, err.Error(), "schedule.cron is required")
	assert.Contains(t, err.Error(), "monitoring.failure_rate_threshold")
}

func TestValidateRun_DisabledScheduleSkipsCron(t *testing.T) {
	cfg := validDefaults()
	cfg.Schedule.Enabled = false
	cfg.Schedule.Cron = ""
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("enrich")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
