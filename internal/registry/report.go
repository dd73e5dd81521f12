package registry

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Report renders the registry contents for diagnostics, one source per
// block, sorted so two participants' reports can be compared line by line.
func (r *Registry) Report() string {
	groups := r.Groups()
	slices.SortFunc(groups, func(a, b SourceGroup) int {
		return cmp.Compare(a.Source.ID, b.Source.ID)
	})

	var b strings.Builder
	for _, g := range groups {
		fmt.Fprintf(&b, "%s (%d)\n", g.Source.ID, len(g.Templates))
		names := make([]string, 0, len(g.Templates))
		for _, t := range g.Templates {
			names = append(names, fmt.Sprintf("  %s %s", t.Name, t.NetworkID))
		}
		slices.Sort(names)
		for _, n := range names {
			b.WriteString(n)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// DiffReports returns a line diff of two reports. Lines only in want are
// prefixed "-", lines only in got "+". An empty string means they match.
func DiffReports(want, got string) string {
	if want == got {
		return ""
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(want, got)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out.WriteString(prefix)
			out.WriteString(strings.TrimSuffix(line, "\n"))
			out.WriteByte('\n')
		}
	}
	return out.String()
}
