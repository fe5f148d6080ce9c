package store

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// XataConnString derives a Postgres connection string from XATA_DB_URL and
// XATA_API_KEY.
//
// An HTTPS database URL such as
//
//	https://my-ws-abc123.us-east-1.xata.sh/db/licenses:main
//
// becomes
//
//	postgresql://my-ws-abc123:<key>@us-east-1.sql.xata.sh:5432/licenses:main?sslmode=require
//
// A postgres:// or postgresql:// URL is used as is, with the API key filled in as
// the password when none is set.
func XataConnString(dbURL, apiKey string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(dbURL))
	if err != nil {
		return "", eris.Wrap(err, "xata: parse database url")
	}

	switch u.Scheme {
	case "postgres", "postgresql":
		if u.User == nil {
			return "", eris.New("xata: postgres url has no user")
		}
		if _, ok := u.User.Password(); !ok {
			u.User = url.UserPassword(u.User.Username(), apiKey)
		}
		return u.String(), nil
	case "https":
	default:
		return "", eris.Errorf("xata: unsupported url scheme %q", u.Scheme)
	}

	// host: {workspace}.{region}.xata.sh
	hostParts := strings.Split(u.Hostname(), ".")
	if len(hostParts) < 4 || !strings.HasSuffix(u.Hostname(), ".xata.sh") {
		return "", eris.Errorf("xata: unexpected host %q", u.Hostname())
	}
	workspace, region := hostParts[0], hostParts[1]

	// path: /db/{database}[:{branch}]
	dbPath := strings.TrimPrefix(u.Path, "/db/")
	if dbPath == u.Path || dbPath == "" || strings.Contains(dbPath, "/") {
		return "", eris.Errorf("xata: unexpected path %q", u.Path)
	}
	if !strings.Contains(dbPath, ":") {
		dbPath += ":main"
	}

	pg := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(workspace, apiKey),
		Host:     region + ".sql.xata.sh:5432",
		Path:     "/" + dbPath,
		RawQuery: "sslmode=require",
	}
	return pg.String(), nil
}
