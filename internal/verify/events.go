package verify

import (
	"bufio"
	"encoding/json"
	"regexp"
	"strings"
)

// EventKind classifies a test runner event.
type EventKind string

const (
	EventStarted EventKind = "started"
	EventFailed  EventKind = "failed"
	EventIgnored EventKind = "ignored"
	EventExit    EventKind = "exit"
)

// TestEvent is one item of the structured test stream. The stream ends with EventExit.
type TestEvent struct {
	Kind     EventKind
	Name     string
	Output   string
	ExitCode int
}

// goTestEvent mirrors the JSON lines emitted by `go test -json`.
type goTestEvent struct {
	Action  string `json:"Action"`
	Package string `json:"Package"`
	Test    string `json:"Test"`
	Output  string `json:"Output"`
}

// decodeGoTestJSON converts `go test -json` output into test events. Lines that
// are not JSON (build noise) are ignored.
func decodeGoTestJSON(stdout string, exitCode int) []TestEvent {
	var (
		events []TestEvent
		output = make(map[string]*strings.Builder)
		parsed bool
	)
	sc := bufio.NewScanner(strings.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var ev goTestEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		parsed = true
		if ev.Test == "" {
			continue
		}
		switch ev.Action {
		case "run":
			output[ev.Test] = &strings.Builder{}
			events = append(events, TestEvent{Kind: EventStarted, Name: ev.Test})
		case "output":
			if b, ok := output[ev.Test]; ok {
				b.WriteString(ev.Output)
			}
		case "fail":
			text := ""
			if b, ok := output[ev.Test]; ok {
				text = b.String()
			}
			events = append(events, TestEvent{Kind: EventFailed, Name: ev.Test, Output: text})
		case "skip":
			events = append(events, TestEvent{Kind: EventIgnored, Name: ev.Test})
		}
	}
	if !parsed && exitCode != 0 {
		events = append(events, parsePlainOutput(stdout)...)
	}
	return append(events, TestEvent{Kind: EventExit, ExitCode: exitCode})
}

var failRe = regexp.MustCompile(`(?i)^\s*--- (FAIL|SKIP):?\s+([A-Za-z0-9_./-]+)`)

// parsePlainOutput extracts failed and skipped tests from non-JSON runner output.
func parsePlainOutput(output string) []TestEvent {
	lines := strings.Split(output, "\n")
	failed := make([]string, 0, 8)
	skipped := make([]string, 0, 4)
	for _, line := range lines {
		m := failRe.FindStringSubmatch(line)
		if len(m) < 3 {
			continue
		}
		name := strings.TrimSpace(m[2])
		if strings.EqualFold(m[1], "SKIP") {
			skipped = append(skipped, name)
			continue
		}
		failed = append(failed, name)
	}
	events := make([]TestEvent, 0, len(failed)+len(skipped))
	for _, name := range unique(failed) {
		events = append(events, TestEvent{Kind: EventFailed, Name: name, Output: "--- FAIL: " + name})
	}
	for _, name := range unique(skipped) {
		events = append(events, TestEvent{Kind: EventIgnored, Name: name})
	}
	return events
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
