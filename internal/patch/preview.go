package patch

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Preview renders the change from original to merged as an ANSI-colored inline diff.
func Preview(original, merged string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(original, merged, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return dmp.DiffPrettyText(diffs)
}

// Summary counts inserted and deleted characters between original and merged.
func Summary(original, merged string) string {
	dmp := diffmatchpatch.New()
	var added, removed int
	for _, d := range dmp.DiffMain(original, merged, false) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += len(d.Text)
		}
	}
	return fmt.Sprintf("+%d/-%d chars", added, removed)
}

// Describe lists hunks one per line with their id, range and reason.
func Describe(hunks []Hunk) string {
	var b strings.Builder
	for _, h := range hunks {
		fmt.Fprintf(&b, "#%d [%d,%d) %s\n", h.ID, h.Start, h.End, h.Reason)
	}
	return b.String()
}
