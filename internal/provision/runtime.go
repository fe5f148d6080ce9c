package provision

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var versionToken = regexp.MustCompile(`\d+(?:\.\d+)+`)

// CheckRuntime verifies that the output of a runtime version command reports
// the pinned version. A pin of "1.25" matches "go1.25.6" and "Python 1.25.0"
// but not "1.250".
func CheckRuntime(output, pinned string) error {
	pinned = strings.TrimPrefix(strings.TrimSpace(pinned), "go")
	if pinned == "" {
		return nil
	}
	for _, v := range versionToken.FindAllString(output, -1) {
		if v == pinned || strings.HasPrefix(v, pinned+".") {
			return nil
		}
	}
	return eris.Errorf("provision: runtime mismatch: want %s, got %q", pinned, strings.TrimSpace(output))
}
