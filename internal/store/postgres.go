package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/license-watch/internal/db"
	"github.com/sells-group/license-watch/internal/model"
)

// PostgresStore implements Store on a Postgres wire connection, such as the Xata
// SQL endpoint.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS licenses (
	license_number        TEXT,
	notification_date     DATE,
	license_type          TEXT,
	current_business_name TEXT,
	new_business_name     TEXT,
	business_name         TEXT,
	business_location     TEXT,
	current_applicants    TEXT,
	new_applicants        TEXT,
	applicants            TEXT,
	application_type      TEXT,
	contact_phone         TEXT,
	latitude              DOUBLE PRECISION,
	longitude             DOUBLE PRECISION,
	geohash               TEXT,
	zipcode               TEXT,
	formatted_address     TEXT,
	creation_date         TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_updated_date     TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT licenses_key UNIQUE NULLS NOT DISTINCT (license_number, notification_date, license_type)
);

CREATE INDEX IF NOT EXISTS idx_licenses_creation_date ON licenses(creation_date);
CREATE INDEX IF NOT EXISTS idx_licenses_geohash ON licenses(geohash);

CREATE TABLE IF NOT EXISTS geocode_cache (
	address           TEXT PRIMARY KEY,
	latitude          DOUBLE PRECISION NOT NULL,
	longitude         DOUBLE PRECISION NOT NULL,
	geohash           TEXT NOT NULL,
	zipcode           TEXT,
	formatted_address TEXT,
	creation_date     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Name implements Store.
func (s *PostgresStore) Name() string { return "xata" }

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate implements Store.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// LookupGeocodes implements Store.
func (s *PostgresStore) LookupGeocodes(ctx context.Context, addresses []string) (map[string]model.Location, error) {
	out := make(map[string]model.Location, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT address, latitude, longitude, geohash, zipcode, formatted_address
		 FROM geocode_cache WHERE address = ANY($1)`,
		addresses,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lookup geocodes")
	}
	defer rows.Close()

	for rows.Next() {
		var addr string
		var loc model.Location
		var zip, formatted *string
		if err := rows.Scan(&addr, &loc.Latitude, &loc.Longitude, &loc.Geohash, &zip, &formatted); err != nil {
			return nil, eris.Wrap(err, "postgres: scan geocode")
		}
		loc.Zipcode = deref(zip)
		loc.FormattedAddress = deref(formatted)
		out[addr] = loc
	}
	return out, eris.Wrap(rows.Err(), "postgres: lookup geocodes iterate")
}

var geocodeUpsert = db.UpsertConfig{
	Table:        "geocode_cache",
	Columns:      []string{"address", "latitude", "longitude", "geohash", "zipcode", "formatted_address"},
	ConflictKeys: []string{"address"},
}

// SaveGeocodes implements Store.
func (s *PostgresStore) SaveGeocodes(ctx context.Context, locs map[string]model.Location) error {
	rows := make([][]any, 0, len(locs))
	for addr, l := range locs {
		rows = append(rows, []any{addr, l.Latitude, l.Longitude, l.Geohash, nilIfEmpty(l.Zipcode), nilIfEmpty(l.FormattedAddress)})
	}
	_, err := db.BulkUpsert(ctx, s.pool, geocodeUpsert, rows)
	return eris.Wrap(err, "postgres: save geocodes")
}

var licenseColumns = []string{
	"license_number", "notification_date", "license_type",
	"current_business_name", "new_business_name", "business_name", "business_location",
	"current_applicants", "new_applicants", "applicants",
	"application_type", "contact_phone",
	"latitude", "longitude", "geohash", "zipcode", "formatted_address",
}

var licenseUpsert = db.UpsertConfig{
	Table:        "licenses",
	Columns:      licenseColumns,
	ConflictKeys: []string{"license_number", "notification_date", "license_type"},
	Touch:        []string{"last_updated_date"},
}

// UpsertLicenses implements Store. The batch is written in one transaction, so
// a failure is a store-level error.
func (s *PostgresStore) UpsertLicenses(ctx context.Context, licenses []model.License) (WriteResult, error) {
	licenses = model.DedupeLicenses(licenses)
	rows := make([][]any, 0, len(licenses))
	for _, l := range licenses {
		row, err := licenseRow(l)
		if err != nil {
			return WriteResult{}, err
		}
		rows = append(rows, row)
	}

	n, err := db.BulkUpsert(ctx, s.pool, licenseUpsert, rows)
	if err != nil {
		return WriteResult{}, eris.Wrap(err, "postgres: upsert licenses")
	}
	return WriteResult{Upserted: int(n)}, nil
}

func licenseRow(l model.License) ([]any, error) {
	var date any
	if l.NotificationDate != "" {
		t, err := time.Parse(model.DateLayout, l.NotificationDate)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: license %s notification date", l.LicenseNumber)
		}
		date = t
	}

	var lat, lng, gh, zip, formatted any
	if l.Location != nil {
		lat, lng = l.Location.Latitude, l.Location.Longitude
		gh = nilIfEmpty(l.Location.Geohash)
		zip = nilIfEmpty(l.Location.Zipcode)
		formatted = nilIfEmpty(l.Location.FormattedAddress)
	}

	return []any{
		nilIfEmpty(l.LicenseNumber), date, nilIfEmpty(l.LicenseType),
		nilIfEmpty(l.CurrentBusinessName), nilIfEmpty(l.NewBusinessName), nilIfEmpty(l.BusinessName), nilIfEmpty(l.BusinessLocation),
		nilIfEmpty(l.CurrentApplicants), nilIfEmpty(l.NewApplicants), nilIfEmpty(l.Applicants),
		nilIfEmpty(l.ApplicationType), nilIfEmpty(l.ContactPhone),
		lat, lng, gh, zip, formatted,
	}, nil
}

// ListLicenses implements LicenseLister, newest notices first.
func (s *PostgresStore) ListLicenses(ctx context.Context, filter LicenseFilter) ([]model.License, error) {
	query := `SELECT license_number, notification_date, license_type,
		current_business_name, new_business_name, business_name, business_location,
		current_applicants, new_applicants, applicants, application_type, contact_phone,
		latitude, longitude, geohash, zipcode, formatted_address
		FROM licenses WHERE true`
	args := []any{}
	argIdx := 1

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND notification_date >= $%d`, argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	if filter.GeocodedOnly {
		query += ` AND latitude IS NOT NULL AND longitude IS NOT NULL`
	}
	query += ` ORDER BY notification_date DESC NULLS LAST, license_number`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list licenses")
	}
	defer rows.Close()

	var out []model.License
	for rows.Next() {
		var (
			number, ltype, curName, newName, name, loc *string
			curApp, newApp, app, appType, phone        *string
			gh, zip, formatted                         *string
			date                                       *time.Time
			lat, lng                                   *float64
		)
		if err := rows.Scan(&number, &date, &ltype, &curName, &newName, &name, &loc,
			&curApp, &newApp, &app, &appType, &phone, &lat, &lng, &gh, &zip, &formatted); err != nil {
			return nil, eris.Wrap(err, "postgres: scan license")
		}
		l := model.License{
			LicenseNumber:       deref(number),
			LicenseType:         deref(ltype),
			CurrentBusinessName: deref(curName),
			NewBusinessName:     deref(newName),
			BusinessName:        deref(name),
			BusinessLocation:    deref(loc),
			CurrentApplicants:   deref(curApp),
			NewApplicants:       deref(newApp),
			Applicants:          deref(app),
			ApplicationType:     deref(appType),
			ContactPhone:        deref(phone),
		}
		if date != nil {
			l.NotificationDate = date.Format(model.DateLayout)
		}
		if lat != nil && lng != nil {
			l.Location = &model.Location{
				Latitude:         *lat,
				Longitude:        *lng,
				Geohash:          deref(gh),
				Zipcode:          deref(zip),
				FormattedAddress: deref(formatted),
			}
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list licenses iterate")
}

// nilIfEmpty returns nil for empty strings, allowing NULL storage in Postgres.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
