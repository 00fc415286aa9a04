package agent

import (
	"context"
	"time"

	"github.com/animus-coder/testpilot/internal/artifact"
	"github.com/animus-coder/testpilot/internal/generation"
	"github.com/animus-coder/testpilot/internal/verify"
)

// Generator produces a full test file or a diff for one attempt.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (generation.Result, error)
}

// Verifier compiles and runs a candidate artifact.
type Verifier interface {
	Verify(ctx context.Context, art artifact.Artifact) (verify.Outcome, error)
}

// Store is the backing store for artifacts.
type Store interface {
	Read(u artifact.SourceUnit) (artifact.Artifact, error)
	Write(u artifact.SourceUnit, text string) (artifact.Artifact, error)
}

// ContextResolver maps requested references to source text.
type ContextResolver interface {
	Normalize(refs []string) []string
	Resolve(refs []string) []artifact.ContextFile
}

// Status is the terminal state of a run.
type Status string

const (
	StatusConverged Status = "converged"
	StatusAborted   Status = "aborted"
)

// Abort reasons.
const (
	ReasonAttemptsExhausted = "attempts-exhausted"
	ReasonCancelled         = "cancelled"
	ReasonClientError       = "client-error"
	ReasonVerifyTimeout     = "verification-timeout"
	ReasonFatal             = "fatal"
)

// Phase names a state transition reported to observers.
type Phase string

const (
	PhaseVerify    Phase = "verify"
	PhaseGenerate  Phase = "generate"
	PhaseApply     Phase = "apply"
	PhaseConverged Phase = "converged"
	PhaseAborted   Phase = "aborted"
)

// AttemptState is threaded through one unit's run and discarded afterwards.
type AttemptState struct {
	Attempt              int
	Mode                 generation.Mode
	LastErrorOutput      string
	ContextRefs          []string
	GeneratedAtLeastOnce bool
	Generations          int
	Model                string

	// patchNote carries a rejected diff or request into the next attempt's error output.
	patchNote string
}

// Progress is emitted at every state transition.
type Progress struct {
	Unit    string
	Attempt int
	Phase   Phase
	Mode    string
	Outcome string
	Message string
}

// Observer receives progress; it must not block.
type Observer func(Progress)

// Result summarizes a finished run.
type Result struct {
	Unit            string
	Artifact        string
	Status          Status
	Reason          string
	Attempts        int
	Generations     int
	LastErrorOutput string
	Err             error
	Duration        time.Duration
}

// Converged reports whether the run ended in success.
func (r Result) Converged() bool {
	return r.Status == StatusConverged
}
