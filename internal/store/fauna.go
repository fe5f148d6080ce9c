package store

import (
	"context"
	"errors"
	"net/http"
	"strings"

	f "github.com/fauna/faunadb-go/v4/faunadb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/license-watch/internal/model"
)

// Fauna collection and index names.
const (
	faunaLicenses           = "licenses"
	faunaGeocodeCache       = "geocode_cache"
	faunaGeocodeByAddress   = "geocode_cache_by_address"
	faunaLicensesByKey      = "licenses_by_license_number_notification_date_license_type"
	faunaLicensesByCreation = "licenses_by_creation_date"
)

// faunaQuerier is the subset of *faunadb.FaunaClient the store uses.
type faunaQuerier interface {
	Query(expr f.Expr) (f.Value, error)
	BatchQuery(exprs []f.Expr) ([]f.Value, error)
}

type faunaClient struct {
	c *f.FaunaClient
}

func (a faunaClient) Query(expr f.Expr) (f.Value, error) { return a.c.Query(expr) }

func (a faunaClient) BatchQuery(exprs []f.Expr) ([]f.Value, error) { return a.c.BatchQuery(exprs) }

// FaunaOptions configures the Fauna store.
type FaunaOptions struct {
	Endpoint   string
	BatchSize  int
	HTTPClient *http.Client
}

// FaunaStore implements Store on FaunaDB collections.
type FaunaStore struct {
	client    faunaQuerier
	batchSize int
}

// NewFauna creates a FaunaStore authenticated with secret.
func NewFauna(secret string, opts FaunaOptions) *FaunaStore {
	var configs []f.ClientConfig
	if opts.Endpoint != "" {
		configs = append(configs, f.Endpoint(opts.Endpoint))
	}
	if opts.HTTPClient != nil {
		configs = append(configs, f.HTTP(opts.HTTPClient))
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &FaunaStore{
		client:    faunaClient{c: f.NewFaunaClient(secret, configs...)},
		batchSize: opts.BatchSize,
	}
}

type faunaGeocode struct {
	Address          string  `fauna:"address"`
	Latitude         float64 `fauna:"latitude"`
	Longitude        float64 `fauna:"longitude"`
	Geohash          string  `fauna:"geohash"`
	Zipcode          string  `fauna:"zipcode"`
	FormattedAddress string  `fauna:"formatted_address"`
}

// Name implements Store.
func (s *FaunaStore) Name() string { return "fauna" }

// Close implements Store.
func (s *FaunaStore) Close() error { return nil }

// Migrate creates the collections and indexes, skipping any that exist.
func (s *FaunaStore) Migrate(_ context.Context) error {
	steps := []struct {
		name string
		expr f.Expr
	}{
		{faunaLicenses, f.CreateCollection(f.Obj{"name": faunaLicenses})},
		{faunaGeocodeCache, f.CreateCollection(f.Obj{"name": faunaGeocodeCache})},
		{faunaGeocodeByAddress, f.CreateIndex(f.Obj{
			"name":   faunaGeocodeByAddress,
			"source": f.Collection(faunaGeocodeCache),
			"terms":  f.Arr{f.Obj{"field": f.Arr{"data", "address"}}},
			"unique": true,
		})},
		{faunaLicensesByKey, f.CreateIndex(f.Obj{
			"name":   faunaLicensesByKey,
			"source": f.Collection(faunaLicenses),
			"terms": f.Arr{
				f.Obj{"field": f.Arr{"data", "license_number"}},
				f.Obj{"field": f.Arr{"data", "notification_date"}},
				f.Obj{"field": f.Arr{"data", "license_type"}},
			},
			"unique": true,
		})},
		{faunaLicensesByCreation, f.CreateIndex(f.Obj{
			"name":   faunaLicensesByCreation,
			"source": f.Collection(faunaLicenses),
			"values": f.Arr{
				f.Obj{"field": f.Arr{"ref"}},
				f.Obj{"field": f.Arr{"data", "creation_date"}},
			},
		})},
	}

	for _, step := range steps {
		if _, err := s.client.Query(step.expr); err != nil {
			if isAlreadyExists(err) {
				zap.L().Debug("fauna: schema object exists", zap.String("name", step.name))
				continue
			}
			return eris.Wrapf(err, "fauna: create %s", step.name)
		}
	}
	return nil
}

// LookupGeocodes implements Store.
func (s *FaunaStore) LookupGeocodes(_ context.Context, addresses []string) (map[string]model.Location, error) {
	out := make(map[string]model.Location, len(addresses))
	for start := 0; start < len(addresses); start += s.batchSize {
		chunk := addresses[start:min(start+s.batchSize, len(addresses))]

		lookups := make(f.Arr, 0, len(chunk))
		for _, a := range chunk {
			match := f.MatchTerm(f.Index(faunaGeocodeByAddress), a)
			lookups = append(lookups, f.If(f.Exists(match), f.Select("data", f.Get(match)), f.Null()))
		}

		v, err := s.client.Query(lookups)
		if err != nil {
			return nil, eris.Wrap(err, "fauna: lookup geocodes")
		}
		arr, ok := v.(f.ArrayV)
		if !ok || len(arr) != len(chunk) {
			return nil, eris.New("fauna: lookup geocodes: unexpected response shape")
		}

		for i, elem := range arr {
			if _, isNull := elem.(f.NullV); isNull {
				continue
			}
			var doc faunaGeocode
			if err := elem.Get(&doc); err != nil {
				return nil, eris.Wrapf(err, "fauna: decode geocode for %q", chunk[i])
			}
			out[chunk[i]] = model.Location{
				Latitude:         doc.Latitude,
				Longitude:        doc.Longitude,
				Geohash:          doc.Geohash,
				Zipcode:          doc.Zipcode,
				FormattedAddress: doc.FormattedAddress,
			}
		}
	}
	return out, nil
}

// SaveGeocodes implements Store.
func (s *FaunaStore) SaveGeocodes(_ context.Context, locs map[string]model.Location) error {
	exprs := make([]f.Expr, 0, len(locs))
	for addr, l := range locs {
		match := f.MatchTerm(f.Index(faunaGeocodeByAddress), addr)
		data := f.Obj{
			"address":           addr,
			"latitude":          l.Latitude,
			"longitude":         l.Longitude,
			"geohash":           l.Geohash,
			"zipcode":           nullIfEmpty(l.Zipcode),
			"formatted_address": nullIfEmpty(l.FormattedAddress),
		}
		created := f.Obj{}
		for k, v := range data {
			created[k] = v
		}
		created["creation_date"] = f.Now()

		exprs = append(exprs, f.If(f.Exists(match),
			f.Update(f.Select("ref", f.Get(match)), f.Obj{"data": data}),
			f.Create(f.Collection(faunaGeocodeCache), f.Obj{"data": created}),
		))
	}

	for start := 0; start < len(exprs); start += s.batchSize {
		if _, err := s.client.BatchQuery(exprs[start:min(start+s.batchSize, len(exprs))]); err != nil {
			return eris.Wrap(err, "fauna: save geocodes")
		}
	}
	return nil
}

// UpsertLicenses implements Store. Each batch runs as one transaction; when a
// batch fails the records are retried one by one so a bad record only fails
// itself. Authentication or availability errors abort the call.
func (s *FaunaStore) UpsertLicenses(_ context.Context, licenses []model.License) (WriteResult, error) {
	licenses = model.DedupeLicenses(licenses)
	log := zap.L().With(zap.String("component", "store.fauna"))

	var res WriteResult
	for start := 0; start < len(licenses); start += s.batchSize {
		chunk := licenses[start:min(start+s.batchSize, len(licenses))]
		exprs := make([]f.Expr, len(chunk))
		for i, l := range chunk {
			exprs[i] = upsertLicenseExpr(l)
		}

		_, err := s.client.BatchQuery(exprs)
		if err == nil {
			res.Upserted += len(chunk)
			continue
		}
		if isStoreLevel(err) {
			return res, eris.Wrap(err, "fauna: upsert licenses")
		}

		log.Warn("fauna: batch upsert failed, retrying records individually",
			zap.Int("records", len(chunk)), zap.Error(err))
		for i, l := range chunk {
			if _, err := s.client.Query(exprs[i]); err != nil {
				if isStoreLevel(err) {
					return res, eris.Wrap(err, "fauna: upsert licenses")
				}
				res.Failed++
				log.Error("fauna: upsert license failed",
					zap.String("license_number", l.LicenseNumber),
					zap.String("notification_date", l.NotificationDate),
					zap.String("license_type", l.LicenseType),
					zap.Error(err),
				)
				continue
			}
			res.Upserted++
		}
	}
	return res, nil
}

func upsertLicenseExpr(l model.License) f.Expr {
	match := f.MatchTerm(f.Index(faunaLicensesByKey), f.Arr{
		nullIfEmpty(l.LicenseNumber), nullIfEmpty(l.NotificationDate), nullIfEmpty(l.LicenseType),
	})

	data := licenseData(l)
	data["last_updated_date"] = f.Now()

	created := licenseData(l)
	created["last_updated_date"] = f.Now()
	created["creation_date"] = f.Now()

	return f.If(f.Exists(match),
		f.Update(f.Select("ref", f.Get(match)), f.Obj{"data": data}),
		f.Create(f.Collection(faunaLicenses), f.Obj{"data": created}),
	)
}

func licenseData(l model.License) f.Obj {
	data := f.Obj{
		"notification_date":     nullIfEmpty(l.NotificationDate),
		"current_business_name": nullIfEmpty(l.CurrentBusinessName),
		"new_business_name":     nullIfEmpty(l.NewBusinessName),
		"business_location":     nullIfEmpty(l.BusinessLocation),
		"current_applicants":    nullIfEmpty(l.CurrentApplicants),
		"new_applicants":        nullIfEmpty(l.NewApplicants),
		"license_type":          nullIfEmpty(l.LicenseType),
		"application_type":      nullIfEmpty(l.ApplicationType),
		"license_number":        nullIfEmpty(l.LicenseNumber),
		"contact_phone":         nullIfEmpty(l.ContactPhone),
		"business_name":         nullIfEmpty(l.BusinessName),
		"applicants":            nullIfEmpty(l.Applicants),
		"latitude":              f.Null(),
		"longitude":             f.Null(),
		"geohash":               f.Null(),
		"zipcode":               f.Null(),
		"formatted_address":     f.Null(),
	}
	if loc := l.Location; loc != nil {
		data["latitude"] = loc.Latitude
		data["longitude"] = loc.Longitude
		data["geohash"] = nullIfEmpty(loc.Geohash)
		data["zipcode"] = nullIfEmpty(loc.Zipcode)
		data["formatted_address"] = nullIfEmpty(loc.FormattedAddress)
	}
	return data
}

func nullIfEmpty(s string) any {
	if s == "" {
		return f.Null()
	}
	return s
}

func isAlreadyExists(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// isStoreLevel reports whether err means Fauna as a whole is unusable rather
// than one record being rejected.
func isStoreLevel(err error) bool {
	var fe f.FaunaError
	if errors.As(err, &fe) {
		switch fe.Status() {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict:
			return false
		}
	}
	return true
}
