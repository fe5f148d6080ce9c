// Package credentials holds the four secrets the scrape step receives through its
// process environment, and nothing else.
package credentials

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
)

// Environment variable names of the scrape step contract.
const (
	GeocodioAPIKey = "GEOCODIO_API_KEY"
	FaunaSecret    = "FAUNADB_SECRET"
	XataAPIKey     = "XATA_API_KEY"
	XataDBURL      = "XATA_DB_URL"
)

// Credentials are the secrets required by a scrape.
type Credentials struct {
	GeocodioAPIKey string `env:"GEOCODIO_API_KEY,required,notEmpty"`
	FaunaSecret    string `env:"FAUNADB_SECRET,required,notEmpty"`
	XataAPIKey     string `env:"XATA_API_KEY,required,notEmpty"`
	XataDBURL      string `env:"XATA_DB_URL,required,notEmpty"`
}

// Names returns the contract's variable names in a stable order.
func Names() []string {
	return []string{GeocodioAPIKey, FaunaSecret, XataAPIKey, XataDBURL}
}

// Load parses the credentials from the process environment.
func Load() (*Credentials, error) {
	var c Credentials
	if err := env.Parse(&c); err != nil {
		return nil, eris.Wrap(err, "credentials: parse environment")
	}
	return &c, nil
}

// FromMap parses the credentials from an explicit environment map. The process
// environment is not consulted.
func FromMap(m map[string]string) (*Credentials, error) {
	var c Credentials
	if err := env.ParseWithOptions(&c, env.Options{Environment: m}); err != nil {
		return nil, eris.Wrap(err, "credentials: parse map")
	}
	return &c, nil
}

// Environ returns exactly the four KEY=value pairs, sorted by key.
func (c *Credentials) Environ() []string {
	m := c.Map()
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Map returns the credentials keyed by variable name.
func (c *Credentials) Map() map[string]string {
	return map[string]string{
		GeocodioAPIKey: c.GeocodioAPIKey,
		FaunaSecret:    c.FaunaSecret,
		XataAPIKey:     c.XataAPIKey,
		XataDBURL:      c.XataDBURL,
	}
}

// String masks every value so credentials can be logged safely.
func (c *Credentials) String() string {
	parts := make([]string, 0, 4)
	for _, name := range Names() {
		parts = append(parts, name+"="+Redact(c.Map()[name]))
	}
	return strings.Join(parts, " ")
}

// Redact keeps the last four characters of long secrets and hides the rest.
func Redact(v string) string {
	if len(v) <= 8 {
		return strings.Repeat("*", len(v))
	}
	return strings.Repeat("*", len(v)-4) + v[len(v)-4:]
}

// LoadDotenv populates unset process variables from a .env file. A missing file is
// not an error.
func LoadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return eris.Wrapf(err, "credentials: load %s", path)
	}
	return nil
}

// Resolve looks up each named secret, first in the process environment and then
// in the optional .env file. Every name must resolve to a non-empty value.
func Resolve(names []string, dotenvPath string) (map[string]string, error) {
	file := map[string]string{}
	if dotenvPath != "" {
		m, err := godotenv.Read(dotenvPath)
		switch {
		case err == nil:
			file = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, eris.Wrapf(err, "credentials: read %s", dotenvPath)
		}
	}

	out := make(map[string]string, len(names))
	var missing []string
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			out[name] = v
			continue
		}
		if v := file[name]; v != "" {
			out[name] = v
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("credentials: missing %s", strings.Join(missing, ", "))
	}
	return out, nil
}
