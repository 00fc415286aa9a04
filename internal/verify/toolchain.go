package verify

import (
	"context"
	"fmt"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/animus-coder/testpilot/internal/artifact"
)

// CompileResult is what the build collaborator reports for one artifact.
type CompileResult struct {
	Aborted     bool
	ErrorCount  int
	Diagnostics []Diagnostic
}

// Toolchain is the external build/test collaborator.
type Toolchain interface {
	Compile(ctx context.Context, art artifact.Artifact) (CompileResult, error)
	// Test runs the artifact's tests and streams events; the stream ends with EventExit.
	Test(ctx context.Context, art artifact.Artifact) (<-chan TestEvent, error)
}

const maxRawOutput = 4 * 1024

var diagRe = regexp.MustCompile(`^(.+?\.go):(\d+):(?:(\d+):)?\s*(.+)$`)

// GoToolchain compiles with `go test -c` and runs with `go test -json`.
type GoToolchain struct {
	Exec    *Executor
	Command string
}

// NewGoToolchain builds a toolchain running command (default "go") through exec.
func NewGoToolchain(exec *Executor, command string) *GoToolchain {
	if command == "" {
		command = "go"
	}
	return &GoToolchain{Exec: exec, Command: command}
}

func (g *GoToolchain) Compile(ctx context.Context, art artifact.Artifact) (CompileResult, error) {
	res, err := g.Exec.Exec(ctx, 0, g.Command, "test", "-c", "-o", os.DevNull, packageArg(art.Path))
	if err != nil {
		return CompileResult{}, err
	}
	if res.Signaled {
		return CompileResult{Aborted: true}, nil
	}
	if res.ExitCode == 0 {
		return CompileResult{}, nil
	}
	return parseDiagnostics(res.Combined(), art), nil
}

func (g *GoToolchain) Test(ctx context.Context, art artifact.Artifact) (<-chan TestEvent, error) {
	res, err := g.Exec.Exec(ctx, 0, g.Command, "test", "-json", "-count=1", packageArg(art.Path))
	if err != nil {
		return nil, err
	}
	events := decodeGoTestJSON(res.Stdout, res.ExitCode)
	if n := len(events); n > 0 && res.ExitCode != 0 {
		events[n-1].Output = truncate(strings.TrimSpace(res.Stderr), maxRawOutput)
	}
	out := make(chan TestEvent, len(events))
	for _, ev := range events {
		out <- ev
	}
	close(out)
	return out, nil
}

func packageArg(artifactPath string) string {
	dir := path.Dir(artifactPath)
	if dir == "." || dir == "" {
		return "."
	}
	return "./" + strings.TrimPrefix(dir, "./")
}

// parseDiagnostics keeps compiler messages located in the artifact and reads the
// offending source line from the in-memory artifact text. Messages for other
// files are kept without a line so the failure is never silent.
func parseDiagnostics(output string, art artifact.Artifact) CompileResult {
	lines := strings.Split(art.Text, "\n")
	var (
		own, other []Diagnostic
		count      int
	)
	for _, raw := range strings.Split(output, "\n") {
		m := diagRe.FindStringSubmatch(strings.TrimSpace(raw))
		if m == nil {
			continue
		}
		count++
		lineNo, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if !sameFile(m[1], art.Path) {
			other = append(other, Diagnostic{Message: fmt.Sprintf("%s:%d: %s", m[1], lineNo, m[4])})
			continue
		}
		d := Diagnostic{Line: lineNo, Message: m[4]}
		if lineNo >= 1 && lineNo <= len(lines) {
			d.SourceLine = lines[lineNo-1]
		}
		own = append(own, d)
	}
	diags := append(own, other...)
	if len(diags) == 0 {
		diags = []Diagnostic{{Message: truncate(strings.TrimSpace(output), maxRawOutput)}}
		count = 1
	}
	return CompileResult{ErrorCount: count, Diagnostics: diags}
}

func sameFile(reported, artifactPath string) bool {
	reported = path.Clean(strings.ReplaceAll(reported, "\\", "/"))
	artifactPath = path.Clean(artifactPath)
	if reported == artifactPath || strings.HasSuffix(reported, "/"+artifactPath) {
		return true
	}
	return !strings.Contains(reported, "/") && reported == path.Base(artifactPath)
}

func truncate(s string, limit int) string {
	if limit > 0 && len(s) > limit {
		for limit > 0 && !utf8.RuneStart(s[limit]) {
			limit--
		}
		return s[:limit] + "\n[truncated]"
	}
	return s
}
