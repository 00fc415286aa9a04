package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/animus-coder/testpilot/internal/artifact"
)

type fakeToolchain struct {
	compileFn func(ctx context.Context, art artifact.Artifact) (CompileResult, error)
	testFn    func(ctx context.Context, art artifact.Artifact) (<-chan TestEvent, error)
	testRuns  int
}

func (f *fakeToolchain) Compile(ctx context.Context, art artifact.Artifact) (CompileResult, error) {
	if f.compileFn == nil {
		return CompileResult{}, nil
	}
	return f.compileFn(ctx, art)
}

func (f *fakeToolchain) Test(ctx context.Context, art artifact.Artifact) (<-chan TestEvent, error) {
	f.testRuns++
	return f.testFn(ctx, art)
}

func stream(events ...TestEvent) func(context.Context, artifact.Artifact) (<-chan TestEvent, error) {
	return func(context.Context, artifact.Artifact) (<-chan TestEvent, error) {
		ch := make(chan TestEvent, len(events))
		for _, ev := range events {
			ch <- ev
		}
		close(ch)
		return ch, nil
	}
}

var testArtifact = artifact.Artifact{Path: "calc/calc_test.go", Text: "package calc\n\nfunc TestAdd(t *testing.T) {\n\tAdd(1)\n}\n", Exists: true}

func TestRunnerSuccess(t *testing.T) {
	tc := &fakeToolchain{testFn: stream(
		TestEvent{Kind: EventStarted, Name: "TestAdd"},
		TestEvent{Kind: EventExit},
	)}
	out, err := NewRunner(tc, 0, 0, nil).Verify(context.Background(), testArtifact)
	require.NoError(t, err)
	require.Equal(t, Success{}, out)
	require.Empty(t, out.Feedback())
}

func TestRunnerCompileFailureSkipsTests(t *testing.T) {
	tc := &fakeToolchain{
		compileFn: func(context.Context, artifact.Artifact) (CompileResult, error) {
			return CompileResult{ErrorCount: 1, Diagnostics: []Diagnostic{{Line: 4, SourceLine: "\tAdd(1)", Message: "not enough arguments in call to Add"}}}, nil
		},
	}
	out, err := NewRunner(tc, 0, 0, nil).Verify(context.Background(), testArtifact)
	require.NoError(t, err)
	require.IsType(t, CompileFailure{}, out)
	require.Zero(t, tc.testRuns)
	require.Contains(t, out.Feedback(), "Line 4: Add(1)")
	require.Contains(t, out.Feedback(), "not enough arguments")
}

func TestRunnerTestFailureCollectsFailedAndIgnored(t *testing.T) {
	tc := &fakeToolchain{testFn: stream(
		TestEvent{Kind: EventStarted, Name: "TestAdd"},
		TestEvent{Kind: EventFailed, Name: "TestAdd", Output: "calc_test.go:4: want 2"},
		TestEvent{Kind: EventIgnored, Name: "TestSlow"},
		TestEvent{Kind: EventExit, ExitCode: 1},
	)}
	out, err := NewRunner(tc, 0, 0, nil).Verify(context.Background(), testArtifact)
	require.NoError(t, err)
	tf, ok := out.(TestFailure)
	require.True(t, ok)
	require.Equal(t, []string{"TestAdd: calc_test.go:4: want 2"}, tf.Failed)
	require.Equal(t, []string{"TestSlow"}, tf.Ignored)
	require.Contains(t, tf.Feedback(), "Ignored tests: TestSlow")
}

func TestRunnerIgnoredOnlyIsSuccess(t *testing.T) {
	tc := &fakeToolchain{testFn: stream(TestEvent{Kind: EventIgnored, Name: "TestSlow"}, TestEvent{Kind: EventExit})}
	out, err := NewRunner(tc, 0, 0, nil).Verify(context.Background(), testArtifact)
	require.NoError(t, err)
	require.Equal(t, Success{}, out)
}

func TestRunnerNonZeroExitWithoutFailures(t *testing.T) {
	tc := &fakeToolchain{testFn: stream(TestEvent{Kind: EventExit, ExitCode: 2, Output: "panic: boom"})}
	out, err := NewRunner(tc, 0, 0, nil).Verify(context.Background(), testArtifact)
	require.NoError(t, err)
	require.Equal(t, TestFailure{Failed: []string{"test run exited with status 2: panic: boom"}}, out)
}

func TestRunnerCompileTimeout(t *testing.T) {
	tc := &fakeToolchain{
		compileFn: func(ctx context.Context, _ artifact.Artifact) (CompileResult, error) {
			<-ctx.Done()
			return CompileResult{}, ctx.Err()
		},
	}
	out, err := NewRunner(tc, 20*time.Millisecond, 0, nil).Verify(context.Background(), testArtifact)
	require.NoError(t, err)
	require.Equal(t, Timeout{Phase: PhaseCompile, Limit: 20 * time.Millisecond}, out)
}

func TestRunnerHungTestStreamTimesOut(t *testing.T) {
	tc := &fakeToolchain{testFn: func(context.Context, artifact.Artifact) (<-chan TestEvent, error) {
		return make(chan TestEvent), nil
	}}
	out, err := NewRunner(tc, 0, 20*time.Millisecond, nil).Verify(context.Background(), testArtifact)
	require.NoError(t, err)
	require.Equal(t, Timeout{Phase: PhaseTest, Limit: 20 * time.Millisecond}, out)
}

func TestRunnerCancellationIsAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tc := &fakeToolchain{
		compileFn: func(context.Context, artifact.Artifact) (CompileResult, error) {
			cancel()
			return CompileResult{}, context.Canceled
		},
	}
	_, err := NewRunner(tc, 0, 0, nil).Verify(ctx, testArtifact)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunnerAbortedCompile(t *testing.T) {
	tc := &fakeToolchain{compileFn: func(context.Context, artifact.Artifact) (CompileResult, error) {
		return CompileResult{Aborted: true}, nil
	}}
	_, err := NewRunner(tc, 0, 0, nil).Verify(context.Background(), testArtifact)
	require.ErrorIs(t, err, ErrCompileAborted)
}

func TestRunnerCollaboratorError(t *testing.T) {
	tc := &fakeToolchain{compileFn: func(context.Context, artifact.Artifact) (CompileResult, error) {
		return CompileResult{}, errors.New(`command "go" is denied`)
	}}
	_, err := NewRunner(tc, 0, 0, nil).Verify(context.Background(), testArtifact)
	require.ErrorContains(t, err, "compile: command")
}

func TestParseDiagnosticsReadsInMemoryLines(t *testing.T) {
	output := "# example.com/calc [example.com/calc.test]\n" +
		"calc/calc_test.go:4:2: not enough arguments in call to Add\n" +
		"calc/calc.go:9:1: missing return\n"
	res := parseDiagnostics(output, testArtifact)
	require.Equal(t, 2, res.ErrorCount)
	require.Len(t, res.Diagnostics, 2)
	require.Equal(t, Diagnostic{Line: 4, SourceLine: "\tAdd(1)", Message: "not enough arguments in call to Add"}, res.Diagnostics[0])
	require.Equal(t, 0, res.Diagnostics[1].Line)
	require.Contains(t, res.Diagnostics[1].Message, "calc/calc.go:9: missing return")
}

func TestParseDiagnosticsWithoutLocation(t *testing.T) {
	res := parseDiagnostics("go: cannot find main module\n", testArtifact)
	require.Equal(t, 1, res.ErrorCount)
	require.Equal(t, "go: cannot find main module", res.Diagnostics[0].Message)
}

func TestPackageArg(t *testing.T) {
	require.Equal(t, ".", packageArg("calc_test.go"))
	require.Equal(t, "./internal/calc", packageArg("internal/calc/calc_test.go"))
}
