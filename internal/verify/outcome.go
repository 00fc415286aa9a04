package verify

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the normalized result of verifying an artifact. Exactly one of
// Success, CompileFailure, TestFailure or Timeout.
type Outcome interface {
	// Kind names the variant for logs and metrics.
	Kind() string
	// Feedback renders the error context for the next generation attempt; empty on success.
	Feedback() string
	isOutcome()
}

// Diagnostic is one compiler message located in the artifact.
type Diagnostic struct {
	Line       int // 1-based; 0 when the compiler gave no usable location
	SourceLine string
	Message    string
}

type Success struct{}

type CompileFailure struct {
	Diagnostics []Diagnostic
}

type TestFailure struct {
	Failed  []string // raw result lines per failed test
	Ignored []string // test names
}

type Timeout struct {
	Phase string // "compile" or "test"
	Limit time.Duration
}

func (Success) isOutcome()        {}
func (CompileFailure) isOutcome() {}
func (TestFailure) isOutcome()    {}
func (Timeout) isOutcome()        {}

func (Success) Kind() string        { return "success" }
func (CompileFailure) Kind() string { return "compile_failure" }
func (TestFailure) Kind() string    { return "test_failure" }
func (Timeout) Kind() string        { return "timeout" }

func (Success) Feedback() string { return "" }

func (c CompileFailure) Feedback() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Compilation failed with %d error(s):\n", len(c.Diagnostics))
	for _, d := range c.Diagnostics {
		if d.Line > 0 {
			fmt.Fprintf(&b, "Line %d: %s\n", d.Line, strings.TrimSpace(d.SourceLine))
		}
		fmt.Fprintf(&b, "  %s\n", d.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (t TestFailure) Feedback() string {
	var b strings.Builder
	if len(t.Failed) > 0 {
		b.WriteString("Failed tests:\n")
		for _, f := range t.Failed {
			b.WriteString(strings.TrimRight(f, "\n"))
			b.WriteString("\n")
		}
	}
	if len(t.Ignored) > 0 {
		b.WriteString("Ignored tests: ")
		b.WriteString(strings.Join(t.Ignored, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (t Timeout) Feedback() string {
	return fmt.Sprintf("verification timed out during %s after %s", t.Phase, t.Limit)
}
