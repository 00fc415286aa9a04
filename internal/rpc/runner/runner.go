package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/animus-coder/testpilot/internal/agent"
	"github.com/animus-coder/testpilot/internal/artifact"
	"github.com/animus-coder/testpilot/internal/rpc"
)

// Runner executes a generation request and yields streamed events.
type Runner interface {
	Run(ctx context.Context, req rpc.GenerateRequest) (<-chan rpc.Event, error)
}

// UnitLoader turns request paths into source units.
type UnitLoader interface {
	LoadUnit(path string) (artifact.SourceUnit, error)
}

// LoopFactory builds the per-request unit runner, applying request overrides.
type LoopFactory func(req rpc.GenerateRequest) agent.UnitRunner

// BulkRunner bridges the bulk driver to RPC events.
type BulkRunner struct {
	Units   UnitLoader
	NewLoop LoopFactory
	Logger  *zap.Logger
}

// ErrNoPaths rejects a request without source files.
var ErrNoPaths = errors.New("request carries no source paths")

// Run validates the request and starts the batch in the background. The
// channel is closed after the summary event.
func (r *BulkRunner) Run(ctx context.Context, req rpc.GenerateRequest) (<-chan rpc.Event, error) {
	if r.NewLoop == nil || r.Units == nil {
		return nil, errors.New("runner unavailable")
	}
	EnsureIDs(&req)

	paths := dedupPaths(req.Paths)
	if len(paths) == 0 {
		return nil, ErrNoPaths
	}
	units := make([]artifact.SourceUnit, 0, len(paths))
	for _, p := range paths {
		u, err := r.Units.LoadUnit(p)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", p, err)
		}
		units = append(units, u)
	}

	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("run_id", req.RunID), zap.String("correlation_id", req.CorrelationID))

	out := make(chan rpc.Event, 32)
	go func() {
		defer close(out)
		emit := func(ev rpc.Event) {
			ev.RunID = req.RunID
			ev.CorrelationID = req.CorrelationID
			// The batch never blocks on a departed client; it only stops between units.
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}

		emit(rpc.Event{Type: rpc.EventStart, Total: len(units), Message: fmt.Sprintf("%d unit(s) queued", len(units))})

		bulk := &agent.Bulk{Runner: r.NewLoop(req), Logger: logger}
		sum := bulk.Run(ctx, units, func(p agent.BulkProgress) {
			emit(progressEvent(p))
		})

		emit(rpc.Event{
			Type:    rpc.EventSummary,
			Total:   sum.Total,
			Message: sum.Line(),
			Done:    true,
			Summary: &rpc.Tally{
				Total:     sum.Total,
				Succeeded: sum.Succeeded,
				Failed:    sum.Failed,
				Skipped:   sum.Skipped,
				Cancelled: sum.Cancelled,
			},
		})
	}()
	return out, nil
}

// EnsureIDs fills missing run and correlation identifiers.
func EnsureIDs(req *rpc.GenerateRequest) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.CorrelationID == "" {
		req.CorrelationID = req.RunID + "-corr"
	}
}

func progressEvent(p agent.BulkProgress) rpc.Event {
	ev := rpc.Event{
		Type:      rpc.EventProgress,
		Unit:      p.Unit,
		Completed: p.Completed,
		Total:     p.Total,
		Fraction:  p.Fraction,
	}
	switch {
	case p.Step != nil:
		ev.Attempt = p.Step.Attempt
		ev.Phase = string(p.Step.Phase)
		ev.Mode = p.Step.Mode
		ev.Outcome = p.Step.Outcome
		ev.Message = p.Step.Message
	case p.Result != nil:
		res := p.Result
		ev.Type = rpc.EventUnit
		ev.Status = string(res.Status)
		ev.Reason = res.Reason
		ev.Attempts = res.Attempts
		ev.Artifact = res.Artifact
		if res.Err != nil {
			ev.Error = res.Err.Error()
		}
	}
	return ev
}

func dedupPaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
