package store

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/license-watch/internal/metrics"
	"github.com/sells-group/license-watch/internal/model"
)

// Multi fans writes out to several stores. Geocode cache reads are served by
// the first store.
type Multi struct {
	stores  []Store
	metrics *metrics.Metrics
}

// NewMulti combines stores. At least one store is required.
func NewMulti(m *metrics.Metrics, stores ...Store) (*Multi, error) {
	if len(stores) == 0 {
		return nil, eris.New("store: no backends configured")
	}
	return &Multi{stores: stores, metrics: m}, nil
}

// Name implements Store.
func (m *Multi) Name() string { return "multi" }

// Stores returns the underlying backends in order.
func (m *Multi) Stores() []Store { return m.stores }

// Migrate implements Store.
func (m *Multi) Migrate(ctx context.Context) error {
	for _, s := range m.stores {
		if err := s.Migrate(ctx); err != nil {
			return eris.Wrapf(err, "store: migrate %s", s.Name())
		}
		zap.L().Info("schema ready", zap.String("store", s.Name()))
	}
	return nil
}

// LookupGeocodes implements Store.
func (m *Multi) LookupGeocodes(ctx context.Context, addresses []string) (map[string]model.Location, error) {
	return m.stores[0].LookupGeocodes(ctx, addresses)
}

// SaveGeocodes writes to every store. All stores are attempted.
func (m *Multi) SaveGeocodes(ctx context.Context, locs map[string]model.Location) error {
	var errs []error
	for _, s := range m.stores {
		if err := s.SaveGeocodes(ctx, locs); err != nil {
			errs = append(errs, eris.Wrapf(err, "store: save geocodes to %s", s.Name()))
		}
	}
	return errors.Join(errs...)
}

// UpsertLicenses writes to every store concurrently. Upserted and Failed are
// summed across stores.
func (m *Multi) UpsertLicenses(ctx context.Context, licenses []model.License) (WriteResult, error) {
	var mu sync.Mutex
	var total WriteResult

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.stores {
		g.Go(func() error {
			res, err := s.UpsertLicenses(gctx, licenses)
			m.metrics.LicensesWritten(s.Name(), res.Upserted, res.Failed)
			if err != nil {
				return eris.Wrapf(err, "store: upsert licenses to %s", s.Name())
			}
			zap.L().Info("licenses written",
				zap.String("store", s.Name()),
				zap.Int("upserted", res.Upserted),
				zap.Int("failed", res.Failed),
			)
			mu.Lock()
			total.Upserted += res.Upserted
			total.Failed += res.Failed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, nil
}

// ListLicenses reads from the first store that can list.
func (m *Multi) ListLicenses(ctx context.Context, filter LicenseFilter) ([]model.License, error) {
	for _, s := range m.stores {
		if l, ok := s.(LicenseLister); ok {
			return l.ListLicenses(ctx, filter)
		}
	}
	return nil, eris.New("store: no configured backend can list licenses")
}

// Close implements Store.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
