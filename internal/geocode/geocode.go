// Package geocode resolves business addresses to coordinates. Lookups go through
// an in-process memo, then the persistent cache, then Geocodio batches.
package geocode

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/mmcloughlin/geohash"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/license-watch/internal/metrics"
	"github.com/sells-group/license-watch/internal/model"
	"github.com/sells-group/license-watch/pkg/geocodio"
)

// GeohashPrecision is the number of geohash characters stored per location.
const GeohashPrecision = 12

// Cache is the persistent geocode cache, keyed by the raw address string.
type Cache interface {
	LookupGeocodes(ctx context.Context, addresses []string) (map[string]model.Location, error)
	SaveGeocodes(ctx context.Context, locs map[string]model.Location) error
}

// Stats counts where each distinct address was resolved.
type Stats struct {
	Requested int
	MemoHits  int
	CacheHits int
	Geocoded  int
	Unmatched int
}

// Options tunes a Service.
type Options struct {
	BatchSize   int
	Concurrency int
	MemoTTL     time.Duration
	MemoSize    uint64
	Metrics     *metrics.Metrics
}

// Service resolves addresses with caching.
type Service struct {
	client  geocodio.Client
	cache   Cache
	memo    *ttlcache.Cache[string, model.Location]
	opts    Options
	metrics *metrics.Metrics
}

// NewService creates a Service. cache may be nil.
func NewService(client geocodio.Client, cache Cache, opts Options) *Service {
	if opts.BatchSize <= 0 || opts.BatchSize > geocodio.MaxBatchSize {
		opts.BatchSize = geocodio.MaxBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MemoTTL <= 0 {
		opts.MemoTTL = time.Hour
	}
	memoOpts := []ttlcache.Option[string, model.Location]{
		ttlcache.WithTTL[string, model.Location](opts.MemoTTL),
	}
	if opts.MemoSize > 0 {
		memoOpts = append(memoOpts, ttlcache.WithCapacity[string, model.Location](opts.MemoSize))
	}
	return &Service{
		client:  client,
		cache:   cache,
		memo:    ttlcache.New(memoOpts...),
		opts:    opts,
		metrics: opts.Metrics,
	}
}

// Resolve returns a location for every address that geocodes. Empty addresses
// are ignored and duplicates are looked up once. Cache read errors are treated
// as misses and cache write errors are logged; a failed Geocodio batch fails
// the call.
func (s *Service) Resolve(ctx context.Context, addresses []string) (map[string]model.Location, Stats, error) {
	log := zap.L().With(zap.String("component", "geocode"))
	pending := unique(addresses)
	stats := Stats{Requested: len(pending)}
	out := make(map[string]model.Location, len(pending))

	pending = s.fromMemo(pending, out)
	stats.MemoHits = len(out)

	if s.cache != nil && len(pending) > 0 {
		cached, err := s.cache.LookupGeocodes(ctx, pending)
		if err != nil {
			log.Warn("geocode cache lookup failed, treating as misses", zap.Error(err))
		}
		var misses []string
		for _, a := range pending {
			if loc, ok := cached[a]; ok {
				out[a] = loc
				s.memo.Set(a, loc, ttlcache.DefaultTTL)
				stats.CacheHits++
				continue
			}
			misses = append(misses, a)
		}
		pending = misses
	}

	if len(pending) == 0 {
		log.Debug("all addresses resolved without the api", zap.Int("addresses", stats.Requested))
		s.record(stats)
		return out, stats, nil
	}

	log.Info("geocoding addresses", zap.Int("addresses", len(pending)), zap.Int("batch_size", s.opts.BatchSize))
	fresh, err := s.batch(ctx, pending)
	if err != nil {
		return nil, stats, err
	}
	for a, loc := range fresh {
		out[a] = loc
		s.memo.Set(a, loc, ttlcache.DefaultTTL)
	}
	stats.Geocoded = len(fresh)
	stats.Unmatched = len(pending) - len(fresh)

	if s.cache != nil && len(fresh) > 0 {
		if err := s.cache.SaveGeocodes(ctx, fresh); err != nil {
			log.Error("geocode cache write failed", zap.Int("addresses", len(fresh)), zap.Error(err))
		}
	}

	s.record(stats)
	return out, stats, nil
}

func (s *Service) fromMemo(addresses []string, out map[string]model.Location) []string {
	var misses []string
	for _, a := range addresses {
		if item := s.memo.Get(a); item != nil {
			out[a] = item.Value()
			continue
		}
		misses = append(misses, a)
	}
	return misses
}

// batch geocodes addresses in chunks, running up to Concurrency chunks at once.
func (s *Service) batch(ctx context.Context, addresses []string) (map[string]model.Location, error) {
	var mu sync.Mutex
	out := make(map[string]model.Location, len(addresses))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for start := 0; start < len(addresses); start += s.opts.BatchSize {
		chunk := addresses[start:min(start+s.opts.BatchSize, len(addresses))]
		g.Go(func() error {
			results, err := s.client.BatchGeocode(gctx, chunk)
			if err != nil {
				return eris.Wrapf(err, "geocode: batch of %d", len(chunk))
			}
			mu.Lock()
			defer mu.Unlock()
			for i, r := range results {
				if !r.Matched {
					continue
				}
				out[chunk[i]] = ToLocation(r)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) record(st Stats) {
	s.metrics.GeocodeLookups("memo", st.MemoHits)
	s.metrics.GeocodeLookups("cache", st.CacheHits)
	s.metrics.GeocodeLookups("api", st.Geocoded)
	s.metrics.GeocodeLookups("unmatched", st.Unmatched)
}

// ToLocation converts a matched Geocodio result and computes its geohash.
func ToLocation(r geocodio.Result) model.Location {
	return model.Location{
		Latitude:         r.Latitude,
		Longitude:        r.Longitude,
		Geohash:          geohash.EncodeWithPrecision(r.Latitude, r.Longitude, GeohashPrecision),
		Zipcode:          r.Zipcode,
		FormattedAddress: r.FormattedAddress,
	}
}

func unique(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if strings.TrimSpace(a) == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
