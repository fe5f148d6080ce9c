package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/license-watch/internal/credentials"
	"github.com/sells-group/license-watch/internal/fetcher"
	"github.com/sells-group/license-watch/internal/geocode"
	"github.com/sells-group/license-watch/internal/history"
	"github.com/sells-group/license-watch/internal/metrics"
	"github.com/sells-group/license-watch/internal/resilience"
	"github.com/sells-group/license-watch/internal/scraper"
	"github.com/sells-group/license-watch/internal/store"
	"github.com/sells-group/license-watch/internal/trigger"
	"github.com/sells-group/license-watch/internal/workflow"
	"github.com/sells-group/license-watch/pkg/geocodio"
)

func newMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func retryConfig() resilience.RetryConfig {
	return resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)
}

// scrapeEnv holds the components of one scrape.
type scrapeEnv struct {
	Scraper *scraper.Scraper
	Store   *store.Multi
}

func (e *scrapeEnv) Close() {
	_ = e.Store.Close()
}

// loadCredentials reads the four secrets from the environment, after filling
// unset variables from the configured .env file.
func loadCredentials() (*credentials.Credentials, error) {
	if err := credentials.LoadDotenv(cfg.Workflow.EnvFile); err != nil {
		return nil, err
	}
	creds, err := credentials.Load()
	if err != nil {
		return nil, err
	}
	zap.L().Debug("credentials loaded", zap.Stringer("credentials", creds))
	return creds, nil
}

// initScraper builds the scraper from config and the four process secrets.
func initScraper(ctx context.Context, m *metrics.Metrics) (*scrapeEnv, error) {
	creds, err := loadCredentials()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store, creds, m)
	if err != nil {
		return nil, eris.Wrap(err, "open stores")
	}

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:     cfg.Scrape.UserAgent,
		Timeout:       time.Duration(cfg.Scrape.TimeoutSecs) * time.Second,
		RatePerSecond: cfg.Scrape.RateLimit,
		Retry:         retryConfig(),
	})

	gc := geocodio.NewClient(creds.GeocodioAPIKey,
		geocodio.WithBaseURL(cfg.Geocodio.BaseURL),
		geocodio.WithRateLimit(cfg.Geocodio.RateLimit),
		geocodio.WithRetry(retryConfig()),
		geocodio.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Geocodio.TimeoutSecs) * time.Second}),
	)
	svc := geocode.NewService(gc, st, geocode.Options{
		BatchSize:   cfg.Geocodio.BatchSize,
		Concurrency: cfg.Geocodio.Concurrency,
		MemoTTL:     time.Duration(cfg.Geocodio.MemoTTLMinutes) * time.Minute,
		MemoSize:    cfg.Geocodio.MemoCapacity,
		Metrics:     m,
	})

	return &scrapeEnv{
		Scraper: scraper.New(cfg.Scrape.SourceURL, f, svc, st, m),
		Store:   st,
	}, nil
}

func openHistory(ctx context.Context) (*history.Store, error) {
	return history.Open(ctx, cfg.History.Path)
}

// initRunner builds the workflow runner. hist may be nil.
func initRunner(hist *history.Store, m *metrics.Metrics) (*workflow.Runner, error) {
	def, err := workflow.Load(cfg.Workflow.Path)
	if err != nil {
		return nil, err
	}
	opts := workflow.Options{
		WorkDir: cfg.Workflow.WorkDir,
		Secrets: func(names []string) (map[string]string, error) {
			return credentials.Resolve(names, cfg.Workflow.EnvFile)
		},
		Metrics: m,
	}
	if hist != nil {
		opts.History = hist
	}
	return workflow.NewRunner(def, opts), nil
}

// loadSchedule returns the configured schedule, or nil when disabled.
func loadSchedule() (*trigger.Schedule, error) {
	if !cfg.Schedule.Enabled {
		return nil, nil
	}
	return trigger.ParseSchedule(cfg.Schedule.Cron, cfg.Schedule.Timezone)
}
