package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/animus-coder/testpilot/internal/artifact"
)

const (
	PhaseCompile = "compile"
	PhaseTest    = "test"

	DefaultCompileTimeout = 60 * time.Second
	DefaultTestTimeout    = 200 * time.Second
)

// ErrCompileAborted is returned when the build collaborator aborts without a result.
var ErrCompileAborted = errors.New("compilation aborted")

// Runner compiles an artifact and, when it compiles, runs it.
type Runner struct {
	Toolchain      Toolchain
	CompileTimeout time.Duration
	TestTimeout    time.Duration
	Logger         *zap.Logger
}

// NewRunner wires a runner; zero timeouts fall back to the defaults.
func NewRunner(tc Toolchain, compileTimeout, testTimeout time.Duration, logger *zap.Logger) *Runner {
	if compileTimeout <= 0 {
		compileTimeout = DefaultCompileTimeout
	}
	if testTimeout <= 0 {
		testTimeout = DefaultTestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Toolchain: tc, CompileTimeout: compileTimeout, TestTimeout: testTimeout, Logger: logger}
}

// Verify returns the normalized outcome for art. Errors are reserved for
// cancellation and collaborator failures; compile/test failures and timeouts are outcomes.
func (r *Runner) Verify(ctx context.Context, art artifact.Artifact) (Outcome, error) {
	start := time.Now()
	outcome, err := r.verify(ctx, art)
	if err != nil {
		r.Logger.Debug("verification failed", zap.String("artifact", art.Path), zap.Error(err))
		return nil, err
	}
	r.Logger.Debug("verification finished",
		zap.String("artifact", art.Path),
		zap.String("outcome", outcome.Kind()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return outcome, nil
}

func (r *Runner) verify(ctx context.Context, art artifact.Artifact) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, r.CompileTimeout)
	res, err := r.Toolchain.Compile(cctx, art)
	cancel()
	if err != nil {
		return r.classify(ctx, err, PhaseCompile, r.CompileTimeout)
	}
	if res.Aborted {
		return nil, fmt.Errorf("%s: %w", art.Path, ErrCompileAborted)
	}
	if res.ErrorCount > 0 || len(res.Diagnostics) > 0 {
		diags := res.Diagnostics
		if len(diags) == 0 {
			diags = []Diagnostic{{Message: fmt.Sprintf("%d compile error(s) reported without location", res.ErrorCount)}}
		}
		return CompileFailure{Diagnostics: diags}, nil
	}

	tctx, cancel := context.WithTimeout(ctx, r.TestTimeout)
	defer cancel()
	events, err := r.Toolchain.Test(tctx, art)
	if err != nil {
		return r.classify(ctx, err, PhaseTest, r.TestTimeout)
	}

	var (
		failed  []string
		ignored []string
		exit    *TestEvent
	)
collect:
	for {
		select {
		case <-tctx.Done():
			return r.classify(ctx, tctx.Err(), PhaseTest, r.TestTimeout)
		case ev, ok := <-events:
			if !ok {
				break collect
			}
			switch ev.Kind {
			case EventFailed:
				failed = append(failed, failureLine(ev))
			case EventIgnored:
				ignored = append(ignored, ev.Name)
			case EventExit:
				exit = &ev
				break collect
			}
		}
	}

	if exit == nil {
		failed = append(failed, "test run ended without an exit status")
	} else if exit.ExitCode != 0 && len(failed) == 0 {
		line := fmt.Sprintf("test run exited with status %d", exit.ExitCode)
		if out := strings.TrimSpace(exit.Output); out != "" {
			line += ": " + out
		}
		failed = append(failed, line)
	}
	if len(failed) == 0 {
		return Success{}, nil
	}
	return TestFailure{Failed: failed, Ignored: ignored}, nil
}

// classify maps a collaborator error to a Timeout outcome when the phase
// deadline expired, and to an error otherwise (including parent cancellation).
func (r *Runner) classify(parent context.Context, err error, phase string, limit time.Duration) (Outcome, error) {
	if parentErr := parent.Err(); parentErr != nil {
		return nil, parentErr
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		r.Logger.Warn("verification timed out", zap.String("phase", phase), zap.Duration("limit", limit))
		return Timeout{Phase: phase, Limit: limit}, nil
	}
	return nil, fmt.Errorf("%s: %w", phase, err)
}

func failureLine(ev TestEvent) string {
	out := strings.TrimSpace(ev.Output)
	if out == "" {
		return ev.Name
	}
	return ev.Name + ": " + truncate(out, maxRawOutput)
}
