package credentials

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullMap() map[string]string {
	return map[string]string{
		GeocodioAPIKey: "geo-key-123456",
		FaunaSecret:    "fnAE-secret",
		XataAPIKey:     "xau_abcdef",
		XataDBURL:      "https://ws-1234.us-east-1.xata.sh/db/licenses:main",
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"GEOCODIO_API_KEY", "FAUNADB_SECRET", "XATA_API_KEY", "XATA_DB_URL"}, Names())
}

func TestFromMap(t *testing.T) {
	c, err := FromMap(fullMap())
	require.NoError(t, err)
	assert.Equal(t, "geo-key-123456", c.GeocodioAPIKey)
	assert.Equal(t, "fnAE-secret", c.FaunaSecret)
	assert.Equal(t, "xau_abcdef", c.XataAPIKey)
	assert.Equal(t, "https://ws-1234.us-east-1.xata.sh/db/licenses:main", c.XataDBURL)
}

func TestFromMap_MissingOrEmpty(t *testing.T) {
	m := fullMap()
	delete(m, FaunaSecret)
	_, err := FromMap(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FAUNADB_SECRET")

	m = fullMap()
	m[XataDBURL] = ""
	_, err = FromMap(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XATA_DB_URL")
}

func TestFromMap_IgnoresExtraVariables(t *testing.T) {
	m := fullMap()
	m["AWS_SECRET_ACCESS_KEY"] = "nope"

	c, err := FromMap(m)
	require.NoError(t, err)
	assert.Len(t, c.Environ(), 4)
}

func TestLoad(t *testing.T) {
	for k, v := range fullMap() {
		t.Setenv(k, v)
	}
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "xau_abcdef", c.XataAPIKey)
}

func TestEnviron_ExactlyFourPairs(t *testing.T) {
	c, err := FromMap(fullMap())
	require.NoError(t, err)

	env := c.Environ()
	require.Len(t, env, 4)

	var names []string
	for _, kv := range env {
		name, _, ok := strings.Cut(kv, "=")
		require.True(t, ok)
		names = append(names, name)
	}
	assert.ElementsMatch(t, Names(), names)
	assert.Contains(t, env, "FAUNADB_SECRET=fnAE-secret")
}

func TestString_Redacts(t *testing.T) {
	c, err := FromMap(fullMap())
	require.NoError(t, err)

	s := c.String()
	assert.NotContains(t, s, "geo-key-123456")
	assert.Contains(t, s, "GEOCODIO_API_KEY=**********3456")
	assert.Contains(t, s, "FAUNADB_SECRET=*******cret")
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", Redact(""))
	assert.Equal(t, "****", Redact("abcd"))
	assert.Equal(t, "*****6789", Redact("123456789"))
}

func TestResolve_EnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("XATA_API_KEY=from-file\nGEOCODIO_API_KEY=geo-file\n"), 0o600))
	t.Setenv(XataAPIKey, "from-env")

	got, err := Resolve([]string{XataAPIKey, GeocodioAPIKey}, path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{XataAPIKey: "from-env", GeocodioAPIKey: "geo-file"}, got)
}

func TestResolve_Missing(t *testing.T) {
	t.Setenv(FaunaSecret, "")
	_, err := Resolve([]string{FaunaSecret}, filepath.Join(t.TempDir(), "absent.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing FAUNADB_SECRET")
}

func TestLoadDotenv(t *testing.T) {
	assert.NoError(t, LoadDotenv(""))
	assert.NoError(t, LoadDotenv(filepath.Join(t.TempDir(), "nope.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("XATA_DB_URL=postgresql://example/db\n"), 0o600))
	t.Setenv(XataDBURL, "")
	require.NoError(t, os.Unsetenv(XataDBURL))

	require.NoError(t, LoadDotenv(path))
	assert.Equal(t, "postgresql://example/db", os.Getenv(XataDBURL))
}
