// Package workflow runs the ordered steps that take a source tree to a
// finished scrape: checkout, runtime check, dependency install, and the
// scraper itself.
package workflow

import (
	_ "embed"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/license-watch/internal/model"
)

//go:embed default.yaml
var defaultYAML []byte

// DefaultInheritEnv is the environment allowlist used when a definition does
// not set inherit_env.
var DefaultInheritEnv = []string{"PATH", "HOME", "LANG", "TZ", "TMPDIR"}

// Definition is an ordered list of steps.
type Definition struct {
	Name       string   `yaml:"name"`
	InheritEnv []string `yaml:"inherit_env"`
	Steps      []Step   `yaml:"steps"`
}

// Step is one command in the workflow.
type Step struct {
	Name  string      `yaml:"name"`
	Phase model.Phase `yaml:"phase"`
	Run   []string    `yaml:"run"`
	// Dir is relative to the runner's work dir.
	Dir string `yaml:"dir,omitempty"`
	// Manifest is validated before the command runs.
	Manifest string `yaml:"manifest,omitempty"`
	// RuntimeVersion must appear in the command's output.
	RuntimeVersion string `yaml:"runtime_version,omitempty"`
	// Secrets are resolved by name and added to the step environment.
	Secrets []string `yaml:"secrets,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// Duration is a time.Duration that unmarshals from strings like "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return eris.Wrapf(err, "workflow: invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the built-in workflow.
func Default() *Definition {
	def, err := Parse(defaultYAML)
	if err != nil {
		panic(err)
	}
	return def
}

// Load reads a workflow definition from path. An empty path returns Default.
func Load(path string) (*Definition, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, eris.Wrap(err, "workflow: parse")
	}
	if def.InheritEnv == nil {
		def.InheritEnv = DefaultInheritEnv
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks step names, phases, and ordering. Setup steps must all come
// before the execute step, and there must be exactly one execute step.
func (d *Definition) Validate() error {
	if len(d.Steps) == 0 {
		return eris.New("workflow: no steps")
	}
	seen := make(map[string]bool, len(d.Steps))
	executes := 0
	for i, s := range d.Steps {
		if s.Name == "" {
			return eris.Errorf("workflow: step %d has no name", i)
		}
		if seen[s.Name] {
			return eris.Errorf("workflow: duplicate step %q", s.Name)
		}
		seen[s.Name] = true
		if len(s.Run) == 0 || s.Run[0] == "" {
			return eris.Errorf("workflow: step %q has no command", s.Name)
		}
		switch s.Phase {
		case model.PhaseSetup:
			if executes > 0 {
				return eris.Errorf("workflow: setup step %q follows the execute step", s.Name)
			}
		case model.PhaseExecute:
			executes++
		default:
			return eris.Errorf("workflow: step %q has unknown phase %q", s.Name, s.Phase)
		}
		if s.Timeout < 0 {
			return eris.Errorf("workflow: step %q has a negative timeout", s.Name)
		}
	}
	if executes != 1 {
		return eris.Errorf("workflow: want exactly one execute step, got %d", executes)
	}
	return nil
}

// Secrets returns every secret name declared by any step, in order.
func (d *Definition) Secrets() []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range d.Steps {
		for _, name := range s.Secrets {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// YAML renders the definition.
func (d *Definition) YAML() ([]byte, error) {
	out, err := yaml.Marshal(d)
	return out, eris.Wrap(err, "workflow: marshal")
}
