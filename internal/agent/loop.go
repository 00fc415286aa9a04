package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/animus-coder/testpilot/internal/artifact"
	"github.com/animus-coder/testpilot/internal/generation"
	"github.com/animus-coder/testpilot/internal/patch"
	"github.com/animus-coder/testpilot/internal/verify"
)

// Options tunes the convergence loop.
type Options struct {
	MaxAttempts           int
	ContinueOnClientError bool
	Models                ModelStrategy
}

// Loop drives generate, apply and verify cycles for one source unit at a time.
type Loop struct {
	gen      Generator
	verifier Verifier
	store    Store
	resolver ContextResolver
	opts     Options
	logger   *zap.Logger

	Metrics interface {
		RecordRun(status, reason string, duration time.Duration, attempts int)
		RecordGeneration(mode, result string)
		RecordVerification(kind string)
	}
}

// NewLoop wires a loop. resolver may be nil, in which case requested context is ignored.
func NewLoop(gen Generator, verifier Verifier, store Store, resolver ContextResolver, opts Options, logger *zap.Logger) *Loop {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{gen: gen, verifier: verifier, store: store, resolver: resolver, opts: opts, logger: logger}
}

// MaxAttempts returns the generation budget per unit.
func (l *Loop) MaxAttempts() int {
	return l.opts.MaxAttempts
}

// Run converges unit's artifact or aborts. It always returns a terminal Result;
// the last written artifact stays in the store on abort.
func (l *Loop) Run(ctx context.Context, unit artifact.SourceUnit, observe Observer) Result {
	start := time.Now()
	if observe == nil {
		observe = func(Progress) {}
	}
	log := l.logger.With(zap.String("unit", unit.ID))
	st := &AttemptState{}
	res := Result{Unit: unit.ID}

	emit := func(phase Phase, msg string, outcome string) {
		observe(Progress{
			Unit:    unit.ID,
			Attempt: st.Attempt,
			Phase:   phase,
			Mode:    st.Mode.String(),
			Outcome: outcome,
			Message: msg,
		})
	}
	finish := func(status Status, reason string, err error) Result {
		res.Status, res.Reason, res.Err = status, reason, err
		res.Attempts = st.Attempt
		res.Generations = st.Generations
		res.LastErrorOutput = st.LastErrorOutput
		res.Duration = time.Since(start)
		if l.Metrics != nil {
			l.Metrics.RecordRun(string(status), reason, res.Duration, res.Attempts)
		}
		if status == StatusConverged {
			log.Info("unit converged", zap.Int("attempts", res.Attempts), zap.Int("generations", res.Generations), zap.Duration("elapsed", res.Duration))
			emit(PhaseConverged, fmt.Sprintf("converged after %d generation(s)", res.Generations), "")
		} else {
			log.Warn("unit aborted", zap.String("reason", reason), zap.Int("attempts", res.Attempts), zap.Error(err))
			msg := reason
			if err != nil {
				msg = fmt.Sprintf("%s: %v", reason, err)
			}
			emit(PhaseAborted, msg, "")
		}
		return res
	}

	for st.Attempt = 1; ; st.Attempt++ {
		if err := ctx.Err(); err != nil {
			return finish(StatusAborted, ReasonCancelled, err)
		}

		art, err := l.store.Read(unit)
		if err != nil {
			return finish(StatusAborted, ReasonFatal, fmt.Errorf("read artifact: %w", err))
		}
		res.Artifact = art.Path

		if !art.Empty() {
			emit(PhaseVerify, "verifying "+art.Path, "")
			outcome, err := l.verifier.Verify(ctx, art)
			if err != nil {
				if ctx.Err() != nil {
					return finish(StatusAborted, ReasonCancelled, ctx.Err())
				}
				return finish(StatusAborted, ReasonFatal, fmt.Errorf("verify: %w", err))
			}
			if l.Metrics != nil {
				l.Metrics.RecordVerification(outcome.Kind())
			}
			emit(PhaseVerify, "verification finished", outcome.Kind())

			switch o := outcome.(type) {
			case verify.Success:
				if st.GeneratedAtLeastOnce {
					st.LastErrorOutput = ""
					return finish(StatusConverged, "", nil)
				}
				st.LastErrorOutput = errorOutput("", st.patchNote)
			case verify.Timeout:
				st.LastErrorOutput = o.Feedback()
				return finish(StatusAborted, ReasonVerifyTimeout, nil)
			default:
				st.LastErrorOutput = errorOutput(outcome.Feedback(), st.patchNote)
			}
		} else {
			st.LastErrorOutput = errorOutput("", st.patchNote)
		}
		st.patchNote = ""

		if st.Attempt > l.opts.MaxAttempts {
			return finish(StatusAborted, ReasonAttemptsExhausted, nil)
		}

		st.Mode = generation.ModeInitial
		if !art.Empty() {
			st.Mode = generation.ModeIncremental
		}

		gen, err := l.generate(ctx, log, unit, art, st, emit)
		if err != nil {
			if ctx.Err() != nil {
				return finish(StatusAborted, ReasonCancelled, ctx.Err())
			}
			if ce, ok := generation.AsClientError(err); ok {
				st.LastErrorOutput = clientErrorOutput(ce)
				if l.opts.ContinueOnClientError {
					log.Warn("generation rejected, continuing", zap.Int("status", ce.Status))
					st.patchNote = st.LastErrorOutput
					continue
				}
				return finish(StatusAborted, ReasonClientError, err)
			}
			return finish(StatusAborted, ReasonFatal, fmt.Errorf("generate: %w", err))
		}

		if l.resolver != nil {
			st.ContextRefs = l.resolver.Normalize(gen.ContextRefs)
		} else {
			st.ContextRefs = nil
		}

		candidate, err := l.candidate(log, art, st.Mode, gen)
		if err != nil {
			st.patchNote = patchRejected(err)
			emit(PhaseApply, "diff rejected: "+err.Error(), "")
			continue
		}

		written, err := l.store.Write(unit, candidate)
		if err != nil {
			return finish(StatusAborted, ReasonFatal, fmt.Errorf("write artifact: %w", err))
		}
		res.Artifact = written.Path
		st.GeneratedAtLeastOnce = true
		emit(PhaseApply, fmt.Sprintf("wrote %s (%s)", written.Path, patch.Summary(art.Text, candidate)), "")
	}
}

// generate calls the generator with the state's mode, switching to fallback
// models when a non-terminal failure exhausts the client's retries.
func (l *Loop) generate(ctx context.Context, log *zap.Logger, unit artifact.SourceUnit, art artifact.Artifact, st *AttemptState, emit func(Phase, string, string)) (generation.Result, error) {
	req := generation.Request{
		Mode:            st.Mode,
		SourceName:      unit.ID,
		SourceText:      unit.Text,
		LastErrorOutput: st.LastErrorOutput,
		Model:           l.opts.Models.ForMode(st.Mode),
	}
	if st.Mode == generation.ModeIncremental {
		req.ArtifactText = art.Text
	}
	if l.resolver != nil && len(st.ContextRefs) > 0 {
		req.Context = l.resolver.Resolve(st.ContextRefs)
	}

	tried := map[string]struct{}{req.Model: {}}
	for {
		st.Model = req.Model
		emit(PhaseGenerate, fmt.Sprintf("requesting %s generation", st.Mode), "")
		log.Debug("generation requested",
			zap.Int("attempt", st.Attempt),
			zap.Stringer("mode", st.Mode),
			zap.String("model", req.Model),
			zap.Int("context_files", len(req.Context)),
		)
		res, err := l.gen.Generate(ctx, req)
		if err == nil {
			st.Generations++
			l.recordGeneration(st.Mode, "ok")
			return res, nil
		}
		l.recordGeneration(st.Mode, generationFailure(err))
		if ctx.Err() != nil || !generation.IsRetryable(err) {
			return generation.Result{}, err
		}
		fb := l.opts.Models.NextFallback(tried)
		if fb == "" {
			return generation.Result{}, err
		}
		log.Warn("generation failed, trying fallback model", zap.String("model", req.Model), zap.String("fallback", fb), zap.Error(err))
		tried[fb] = struct{}{}
		req.Model = fb
	}
}

// candidate builds the next artifact text: the full body in Initial mode, or
// the existing text with every diff hunk applied in Incremental mode.
func (l *Loop) candidate(log *zap.Logger, art artifact.Artifact, mode generation.Mode, gen generation.Result) (string, error) {
	if mode == generation.ModeInitial {
		if gen.Text != "" && !strings.HasSuffix(gen.Text, "\n") {
			return gen.Text + "\n", nil
		}
		return gen.Text, nil
	}
	hunks, err := patch.ParseUnifiedDiff(art.Text, gen.Diff)
	if err != nil {
		return "", err
	}
	_, dropped, err := patch.Plan(art.Text, hunks)
	if err != nil {
		return "", err
	}
	if len(dropped) > 0 {
		log.Warn("overlapping hunks dropped", zap.Int("dropped", len(dropped)), zap.String("hunks", patch.Describe(dropped)))
	}
	return patch.Merge(art.Text, hunks, patch.SelectAll)
}

func (l *Loop) recordGeneration(mode generation.Mode, result string) {
	if l.Metrics != nil {
		l.Metrics.RecordGeneration(mode.String(), result)
	}
}

func generationFailure(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case generation.IsTerminal(err):
		return "client_error"
	case errors.Is(err, generation.ErrRetriesExhausted):
		return "retries_exhausted"
	default:
		return "error"
	}
}
