package patch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformedHunk reports a hunk whose range does not fit the original text.
var ErrMalformedHunk = errors.New("malformed hunk")

// Hunk is a replacement of the half-open range [Start, End) of an original text.
// Offsets are byte offsets into the exact original the hunk was produced against.
type Hunk struct {
	ID     int
	Start  int
	End    int
	Before string
	After  string
	Reason string
}

// Selection decides whether a hunk's replacement is applied.
type Selection func(h Hunk) bool

// SelectAll applies every hunk.
func SelectAll(Hunk) bool { return true }

// SelectNone keeps the original text under every hunk.
func SelectNone(Hunk) bool { return false }

// Rejecting selects every hunk except the given IDs.
func Rejecting(ids ...int) Selection {
	rejected := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		rejected[id] = struct{}{}
	}
	return func(h Hunk) bool {
		_, ok := rejected[h.ID]
		return !ok
	}
}

// Validate checks that every hunk range lies inside original.
func Validate(original string, hunks []Hunk) error {
	for _, h := range hunks {
		if h.Start < 0 || h.End < h.Start || h.End > len(original) {
			return fmt.Errorf("%w: hunk %d range [%d,%d) outside text of length %d", ErrMalformedHunk, h.ID, h.Start, h.End, len(original))
		}
	}
	return nil
}

// Plan orders hunks by start offset and splits them into the ones a merge applies
// and the ones it drops because they overlap an earlier-starting hunk.
func Plan(original string, hunks []Hunk) (applied, dropped []Hunk, err error) {
	if err := Validate(original, hunks); err != nil {
		return nil, nil, err
	}
	ordered := append([]Hunk(nil), hunks...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	cursor := 0
	for _, h := range ordered {
		if h.Start < cursor {
			dropped = append(dropped, h)
			continue
		}
		applied = append(applied, h)
		cursor = h.End
	}
	return applied, dropped, nil
}

// Merge rebuilds original with the selected hunks applied. Unselected hunks keep
// the original slice. Hunks overlapping an earlier-starting hunk are skipped.
// The result depends only on the inputs; original is never modified.
func Merge(original string, hunks []Hunk, selected Selection) (string, error) {
	applied, _, err := Plan(original, hunks)
	if err != nil {
		return "", err
	}
	if selected == nil {
		selected = SelectAll
	}

	var b strings.Builder
	b.Grow(len(original))
	cursor := 0
	for _, h := range applied {
		b.WriteString(original[cursor:h.Start])
		if selected(h) {
			b.WriteString(h.After)
		} else {
			b.WriteString(original[h.Start:h.End])
		}
		cursor = h.End
	}
	b.WriteString(original[cursor:])
	return b.String(), nil
}
