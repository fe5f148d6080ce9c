package provision

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestKindOf(t *testing.T) {
	k, err := KindOf("/src/go.mod")
	require.NoError(t, err)
	assert.Equal(t, KindGoMod, k)

	k, err = KindOf("requirements-dev.txt")
	require.NoError(t, err)
	assert.Equal(t, KindRequirements, k)

	_, err = KindOf("Pipfile")
	assert.Error(t, err)
}

func TestLoadManifest_GoMod(t *testing.T) {
	p := writeFile(t, "go.mod", `module github.com/sells-group/license-watch

go 1.25.6

require (
	github.com/PuerkitoBio/goquery v1.10.2
	go.uber.org/zap v1.27.1
)
`)
	m, err := LoadManifest(p)
	require.NoError(t, err)
	assert.Equal(t, KindGoMod, m.Kind)
	assert.Equal(t, "1.25.6", m.Runtime)
	assert.Equal(t, []Requirement{
		{Name: "github.com/PuerkitoBio/goquery", Version: "v1.10.2"},
		{Name: "go.uber.org/zap", Version: "v1.27.1"},
	}, m.Requirements)
}

func TestLoadManifest_GoModInvalid(t *testing.T) {
	p := writeFile(t, "go.mod", "module x\nrequire (\n")
	_, err := LoadManifest(p)
	assert.Error(t, err)
}

func TestLoadManifest_GoModNoModule(t *testing.T) {
	p := writeFile(t, "go.mod", "go 1.25\n")
	_, err := LoadManifest(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no module directive")
}

func TestLoadManifest_Requirements(t *testing.T) {
	p := writeFile(t, "requirements.txt", `# scraper deps
requests==2.31.0
beautifulsoup4>=4.12
pygeocodio
faunadb[async]==4.5.1 ; python_version >= "3.8"
-r base.txt
geohash2==1.1  # pinned
`)
	m, err := LoadManifest(p)
	require.NoError(t, err)
	assert.Equal(t, KindRequirements, m.Kind)
	assert.Equal(t, []Requirement{
		{Name: "requests", Version: "2.31.0"},
		{Name: "beautifulsoup4", Version: "4.12"},
		{Name: "pygeocodio"},
		{Name: "faunadb", Version: "4.5.1"},
		{Name: "geohash2", Version: "1.1"},
	}, m.Requirements)
}

func TestLoadManifest_RequirementsSpecifierList(t *testing.T) {
	p := writeFile(t, "requirements.txt", "requests>=2.31,<3\ngeohash2==1.1\nurllib3 >= 1.26 , != 2.0.0 , < 3\n")
	m, err := LoadManifest(p)
	require.NoError(t, err)
	assert.Equal(t, []Requirement{
		{Name: "requests", Version: "2.31"},
		{Name: "geohash2", Version: "1.1"},
		{Name: "urllib3", Version: "1.26"},
	}, m.Requirements)
}

func TestLoadManifest_RequirementsTrailingComma(t *testing.T) {
	p := writeFile(t, "requirements.txt", "requests>=2.31,\n")
	_, err := LoadManifest(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid requirement")
}

func TestLoadManifest_RequirementsInvalid(t *testing.T) {
	p := writeFile(t, "requirements.txt", "requests==2.31.0\n<<garbage>>\n")
	_, err := LoadManifest(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":2:")
}

func TestLoadManifest_Missing(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "go.mod"))
	assert.Error(t, err)
}

func TestCheckRuntime(t *testing.T) {
	tests := []struct {
		output  string
		pinned  string
		wantErr bool
	}{
		{"go version go1.25.6 linux/amd64", "1.25", false},
		{"go version go1.25.6 linux/amd64", "go1.25.6", false},
		{"go version go1.24.2 linux/amd64", "1.25", true},
		{"Python 3.9.18", "3.9", false},
		{"Python 3.10.1", "3.1", true},
		{"anything", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.output+"/"+tt.pinned, func(t *testing.T) {
			err := CheckRuntime(tt.output, tt.pinned)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
