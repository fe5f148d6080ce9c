// Package scraper runs one pass over the licensing notification page: fetch,
// parse, geocode, and upsert into every configured store.
package scraper

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/license-watch/internal/fetcher"
	"github.com/sells-group/license-watch/internal/geocode"
	"github.com/sells-group/license-watch/internal/lcb"
	"github.com/sells-group/license-watch/internal/metrics"
	"github.com/sells-group/license-watch/internal/model"
	"github.com/sells-group/license-watch/internal/store"
)

// Options tunes a single scrape.
type Options struct {
	// Limit keeps only the first Limit notices. Zero processes all of them.
	Limit int
}

// Result summarizes a scrape.
type Result struct {
	Parsed    int
	Processed int
	Geocoded  int
	CacheHits int
	Upserted  int
	Failed    int
	Duration  time.Duration
}

// Scraper wires the page fetcher, the geocoder, and the stores.
type Scraper struct {
	sourceURL string
	fetcher   fetcher.Fetcher
	geocoder  *geocode.Service
	store     store.Store
	metrics   *metrics.Metrics
}

// New creates a Scraper.
func New(sourceURL string, f fetcher.Fetcher, g *geocode.Service, st store.Store, m *metrics.Metrics) *Scraper {
	if sourceURL == "" {
		sourceURL = lcb.DefaultURL
	}
	return &Scraper{
		sourceURL: sourceURL,
		fetcher:   f,
		geocoder:  g,
		store:     st,
		metrics:   m,
	}
}

// Run fetches the page and writes every notice. Per-record write failures are
// counted in Result.Failed; fetch, parse, geocode, and store-level failures
// return an error.
func (s *Scraper) Run(ctx context.Context, opts Options) (*Result, error) {
	log := zap.L().With(zap.String("component", "scraper"))
	start := time.Now()
	res := &Result{}

	notices, err := s.fetch(ctx)
	if err != nil {
		return res, err
	}
	res.Parsed = len(notices)
	s.metrics.NoticesParsed(len(notices))
	log.Info("notices parsed", zap.Int("count", len(notices)), zap.String("url", s.sourceURL))

	if opts.Limit > 0 && opts.Limit < len(notices) {
		log.Debug("limiting notices", zap.Int("limit", opts.Limit))
		notices = notices[:opts.Limit]
	}
	res.Processed = len(notices)
	if len(notices) == 0 {
		res.Duration = time.Since(start)
		return res, nil
	}

	licenses := make([]model.License, 0, len(notices))
	addresses := make([]string, 0, len(notices))
	for _, n := range notices {
		licenses = append(licenses, n.License())
		addresses = append(addresses, n.Address())
	}

	locs, stats, err := s.geocoder.Resolve(ctx, addresses)
	if err != nil {
		return res, eris.Wrap(err, "scraper: geocode")
	}
	res.Geocoded = stats.Geocoded
	res.CacheHits = stats.CacheHits + stats.MemoHits

	for i := range licenses {
		if loc, ok := locs[licenses[i].BusinessLocation]; ok {
			licenses[i].Location = &loc
		}
	}

	wr, err := s.store.UpsertLicenses(ctx, licenses)
	res.Upserted = wr.Upserted
	res.Failed = wr.Failed
	res.Duration = time.Since(start)
	if err != nil {
		return res, eris.Wrap(err, "scraper: upsert")
	}

	log.Info("scrape complete",
		zap.Int("parsed", res.Parsed),
		zap.Int("processed", res.Processed),
		zap.Int("geocoded", res.Geocoded),
		zap.Int("cache_hits", res.CacheHits),
		zap.Int("upserted", res.Upserted),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// CreateTables creates the collections, tables, and indexes in every store.
func (s *Scraper) CreateTables(ctx context.Context) error {
	return s.store.Migrate(ctx)
}

func (s *Scraper) fetch(ctx context.Context) ([]lcb.Notice, error) {
	body, err := s.fetcher.Download(ctx, s.sourceURL)
	if err != nil {
		return nil, eris.Wrap(err, "scraper: fetch page")
	}
	defer body.Close() //nolint:errcheck

	notices, err := lcb.Parse(body)
	if err != nil {
		return nil, eris.Wrap(err, "scraper: parse page")
	}
	return notices, nil
}
