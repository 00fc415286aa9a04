package patch

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// ErrMalformedDiff reports a unified diff that cannot be mapped onto the original text.
var ErrMalformedDiff = errors.New("malformed diff")

const noNewlineMarker = `\ No newline at end of file`

// ParseUnifiedDiff converts a single-file unified diff into offset hunks against original.
// File headers (---/+++) are optional. Hunks whose line numbers drift from the
// original are relocated to the nearest exact match of their original lines.
func ParseUnifiedDiff(original, unified string) ([]Hunk, error) {
	unified = strings.TrimLeft(unified, "\n")
	if strings.TrimSpace(unified) == "" {
		return nil, nil
	}
	if !strings.HasSuffix(unified, "\n") {
		unified += "\n"
	}

	var raw []*diff.Hunk
	if strings.HasPrefix(unified, "--- ") || strings.HasPrefix(unified, "diff ") {
		fd, err := diff.ParseFileDiff([]byte(unified))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDiff, err)
		}
		raw = fd.Hunks
	} else {
		hunks, err := diff.ParseHunks([]byte(unified))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDiff, err)
		}
		raw = hunks
	}

	starts := lineStarts(original)
	// An original without a final newline is matched as if it had one unless
	// the diff marks the missing newline itself.
	openEnded := original != "" && !strings.HasSuffix(original, "\n")
	out := make([]Hunk, 0, len(raw))
	for i, rh := range raw {
		before, after := splitBody(rh.Body)
		if rh.OrigNoNewlineAt > 0 && openEnded {
			before = strings.TrimSuffix(before, "\n")
		}
		looseEOF := openEnded && rh.OrigNoNewlineAt == 0
		var start, end int
		err := ErrMalformedDiff
		if looseEOF && rh.OrigLines > 0 && int(rh.OrigStartLine-1+rh.OrigLines) == len(starts)-1 {
			start, end, err = locateAtEOF(original, rh, before)
		}
		if err != nil {
			start, end, err = locate(original, starts, rh, before)
			if err != nil && looseEOF {
				start, end, err = locateAtEOF(original, rh, before)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("hunk %d: %w", i+1, err)
		}
		if openEnded && end == len(original) {
			if start == end {
				after = "\n" + after
			} else if trimmed := strings.TrimSuffix(before, "\n"); len(trimmed) == end-start {
				before = trimmed
			}
		}
		reason := strings.TrimSpace(rh.Section)
		if reason == "" {
			reason = fmt.Sprintf("lines %d-%d", rh.OrigStartLine, rh.OrigStartLine+rh.OrigLines)
		}
		out = append(out, Hunk{
			ID:     i + 1,
			Start:  start,
			End:    end,
			Before: before,
			After:  after,
			Reason: reason,
		})
	}
	return out, nil
}

// lineStarts returns the byte offset of every line start plus len(text).
func lineStarts(text string) []int {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' && i+1 < len(text) {
			starts = append(starts, i+1)
		}
	}
	if len(text) > 0 {
		starts = append(starts, len(text))
	}
	return starts
}

// splitBody rebuilds the original and replacement texts covered by a hunk body.
func splitBody(body []byte) (string, string) {
	var before, after strings.Builder
	var last byte
	for _, line := range bytes.SplitAfter(body, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		text := string(line)
		if strings.HasPrefix(text, noNewlineMarker) {
			switch last {
			case '-':
				trimTrailingNewline(&before)
			case '+':
				trimTrailingNewline(&after)
			default:
				trimTrailingNewline(&before)
				trimTrailingNewline(&after)
			}
			continue
		}
		prefix, content := text[0], text[1:]
		if text == "\n" {
			prefix, content = ' ', "\n"
		}
		switch prefix {
		case '-':
			before.WriteString(content)
		case '+':
			after.WriteString(content)
		default:
			before.WriteString(content)
			after.WriteString(content)
		}
		last = prefix
	}
	return before.String(), after.String()
}

func trimTrailingNewline(b *strings.Builder) {
	s := b.String()
	if strings.HasSuffix(s, "\n") {
		b.Reset()
		b.WriteString(s[:len(s)-1])
	}
}

func locate(original string, starts []int, h *diff.Hunk, before string) (int, int, error) {
	lines := len(starts) - 1
	first := int(h.OrigStartLine)
	count := int(h.OrigLines)

	var start, end int
	switch {
	case count == 0:
		if first < 0 || first > lines {
			return 0, 0, fmt.Errorf("%w: insertion after line %d of %d", ErrMalformedDiff, first, lines)
		}
		start = starts[first]
		return start, start, nil
	case first < 1 || first-1+count > lines:
		start, end = -1, -1
	default:
		start, end = starts[first-1], starts[first-1+count]
		if original[start:end] == before {
			return start, end, nil
		}
	}

	if before == "" {
		return 0, 0, fmt.Errorf("%w: empty original side at line %d", ErrMalformedDiff, first)
	}
	expected := start
	if expected < 0 {
		expected = len(original)
	}
	best := -1
	for from := 0; from <= len(original); {
		idx := strings.Index(original[from:], before)
		if idx < 0 {
			break
		}
		pos := from + idx
		if best < 0 || abs(pos-expected) < abs(best-expected) {
			best = pos
		}
		from = pos + 1
	}
	if best < 0 {
		return 0, 0, fmt.Errorf("%w: original lines at %d not found", ErrMalformedDiff, first)
	}
	return best, best + len(before), nil
}

// locateAtEOF matches a hunk whose original side ends in a newline the
// original text lacks. Only a match ending at len(original) is accepted.
func locateAtEOF(original string, h *diff.Hunk, before string) (int, int, error) {
	trimmed := strings.TrimSuffix(before, "\n")
	if trimmed == before || trimmed == "" || !strings.HasSuffix(original, trimmed) {
		return 0, 0, fmt.Errorf("%w: original lines at %d not found", ErrMalformedDiff, h.OrigStartLine)
	}
	return len(original) - len(trimmed), len(original), nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
