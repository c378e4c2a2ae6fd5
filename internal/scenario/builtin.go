package scenario

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/hpungsan/compass/internal/errors"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Builtin returns an embedded scenario by name.
func Builtin(name string) (*Scenario, error) {
	data, err := builtinFS.ReadFile("builtin/" + name + ".yaml")
	if err != nil {
		return nil, errors.NewNotFound("scenario", fmt.Sprintf("%s (available: %s)", name, strings.Join(ListBuiltin(), ", ")))
	}
	return Parse(data)
}

// ListBuiltin returns the names of all embedded scenarios, sorted.
func ListBuiltin() []string {
	entries, _ := builtinFS.ReadDir("builtin")
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
		}
	}
	sort.Strings(names)
	return names
}
