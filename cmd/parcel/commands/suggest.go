package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/meigma/parcel"
	"github.com/meigma/parcel/core"
)

const maxSuggestions = 3

// suggest prints the package names closest to the name in query when err
// reports an unknown package.
func suggest(w io.Writer, err error, query string, entries []parcel.Entry) {
	if !errors.Is(err, parcel.ErrPackageNotFound) {
		return
	}
	name, _ := core.SplitPackageString(query)
	if out := suggestions(name, entries); len(out) > 0 {
		_, _ = fmt.Fprintf(w, "Did you mean: %s?\n", strings.Join(out, ", "))
	}
}

func suggestions(name string, entries []parcel.Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	var names []string
	for _, e := range entries {
		n := e.Descriptor().Name
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}

	matches := fuzzy.Find(name, names)
	out := make([]string, 0, maxSuggestions)
	for _, m := range matches {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, m.Str)
	}
	return out
}
