// Package provision validates dependency manifests and runtime versions
// before a workflow installs anything.
package provision

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/mod/modfile"
)

// ManifestKind identifies a manifest format.
type ManifestKind string

const (
	KindGoMod        ManifestKind = "go.mod"
	KindRequirements ManifestKind = "requirements.txt"
)

// Requirement is one declared dependency.
type Requirement struct {
	Name    string
	Version string
}

// Manifest is a parsed dependency manifest.
type Manifest struct {
	Path         string
	Kind         ManifestKind
	Runtime      string
	Requirements []Requirement
}

// KindOf infers the manifest format from its file name.
func KindOf(path string) (ManifestKind, error) {
	base := filepath.Base(path)
	switch {
	case base == "go.mod":
		return KindGoMod, nil
	case strings.HasPrefix(base, "requirements") && strings.HasSuffix(base, ".txt"):
		return KindRequirements, nil
	default:
		return "", eris.Errorf("provision: unsupported manifest %s", base)
	}
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	kind, err := KindOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "provision: read manifest %s", path)
	}

	m := &Manifest{Path: path, Kind: kind}
	switch kind {
	case KindGoMod:
		err = parseGoMod(m, data)
	case KindRequirements:
		err = parseRequirements(m, data)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func parseGoMod(m *Manifest, data []byte) error {
	f, err := modfile.Parse(m.Path, data, nil)
	if err != nil {
		return eris.Wrapf(err, "provision: parse %s", m.Path)
	}
	if f.Module == nil {
		return eris.Errorf("provision: %s has no module directive", m.Path)
	}
	if f.Go != nil {
		m.Runtime = f.Go.Version
	}
	if f.Toolchain != nil {
		m.Runtime = strings.TrimPrefix(f.Toolchain.Name, "go")
	}
	for _, r := range f.Require {
		m.Requirements = append(m.Requirements, Requirement{Name: r.Mod.Path, Version: r.Mod.Version})
	}
	return nil
}

// specifier is one pip version clause, e.g. ">=2.31".
const specifier = `(?:===|==|~=|!=|>=|<=|>|<)\s*[A-Za-z0-9.*+!_-]+`

var (
	requirementLine = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)(\[[A-Za-z0-9,._ -]+\])?\s*(` + specifier + `(?:\s*,\s*` + specifier + `)*)?\s*(?:;.*)?$`)
	firstVersion    = regexp.MustCompile(`^(?:===|==|~=|!=|>=|<=|>|<)\s*([A-Za-z0-9.*+!_-]+)`)
)

// parseRequirements accepts the pip requirements subset of name, optional
// extras, and a comma-separated specifier list. The first specifier's version
// is kept. Option lines such as -r and --hash are skipped.
func parseRequirements(m *Manifest, data []byte) error {
	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.Index(line, " #"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		match := requirementLine.FindStringSubmatch(line)
		if match == nil {
			return eris.Errorf("provision: %s:%d: invalid requirement %q", m.Path, lineNo, line)
		}
		req := Requirement{Name: match[1]}
		if v := firstVersion.FindStringSubmatch(match[3]); v != nil {
			req.Version = v[1]
		}
		m.Requirements = append(m.Requirements, req)
	}
	return eris.Wrapf(sc.Err(), "provision: read %s", m.Path)
}
