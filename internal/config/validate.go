package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// maxGeocodioBatch is the largest batch the Geocodio API accepts.
const maxGeocodioBatch = 10000

// Validate checks the settings a command mode depends on. Modes: "scrape",
// "run", "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "scrape":
		errs = append(errs, c.validateScrape()...)
	case "run":
		errs = append(errs, c.validateSchedule()...)
	case "serve":
		errs = append(errs, c.validateSchedule()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateScrape() []string {
	var errs []string
	if c.Scrape.SourceURL == "" {
		errs = append(errs, "scrape.source_url is required")
	}
	if c.Geocodio.BatchSize < 1 || c.Geocodio.BatchSize > maxGeocodioBatch {
		errs = append(errs, "geocodio.batch_size must be between 1 and 10000")
	}
	if c.Geocodio.Concurrency < 1 {
		errs = append(errs, "geocodio.concurrency must be >= 1")
	}
	if len(c.Store.Backends) == 0 {
		errs = append(errs, "store.backends must name at least one backend")
	}
	for _, b := range c.Store.Backends {
		if b != "xata" && b != "fauna" {
			errs = append(errs, "store.backends: unknown backend "+b)
		}
	}
	return errs
}

func (c *Config) validateSchedule() []string {
	if c.Schedule.Enabled && strings.TrimSpace(c.Schedule.Cron) == "" {
		return []string{"schedule.cron is required when schedule.enabled"}
	}
	return nil
}
