package workflow

import (
	"sort"
)

// LookupFunc reads one variable from the parent environment.
type LookupFunc func(key string) (string, bool)

// BuildEnv returns the environment for a step: inherited variables that are
// set in the parent, plus the step's secrets. Nothing else is passed.
func BuildEnv(inherit []string, lookup LookupFunc, secrets map[string]string, names []string) []string {
	vars := make(map[string]string, len(inherit)+len(names))
	for _, k := range inherit {
		if v, ok := lookup(k); ok {
			vars[k] = v
		}
	}
	for _, k := range names {
		if v, ok := secrets[k]; ok {
			vars[k] = v
		}
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}
