// Package store persists licenses and the geocode cache to Xata (Postgres wire)
// and FaunaDB.
package store

import (
	"context"
	"time"

	"github.com/sells-group/license-watch/internal/model"
)

// WriteResult counts the outcome of an UpsertLicenses call.
type WriteResult struct {
	Upserted int
	Failed   int
}

// Store defines the persistence interface for a scrape.
type Store interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Migrate creates tables, collections, and indexes. It is idempotent.
	Migrate(ctx context.Context) error

	// Geocode cache
	LookupGeocodes(ctx context.Context, addresses []string) (map[string]model.Location, error)
	SaveGeocodes(ctx context.Context, locs map[string]model.Location) error

	// UpsertLicenses inserts new notices and updates existing ones by key.
	// Existing records keep their creation date. Failures of individual records
	// are counted in the result; a returned error means the store itself failed.
	UpsertLicenses(ctx context.Context, licenses []model.License) (WriteResult, error)

	Close() error
}

// LicenseFilter narrows ListLicenses.
type LicenseFilter struct {
	Since        time.Time // notification date on or after, zero for all
	GeocodedOnly bool
	Limit        int
}

// LicenseLister reads stored licenses back, for export.
type LicenseLister interface {
	ListLicenses(ctx context.Context, filter LicenseFilter) ([]model.License, error)
}
