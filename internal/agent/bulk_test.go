package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/animus-coder/testpilot/internal/artifact"
)

type unitRunnerFunc func(ctx context.Context, unit artifact.SourceUnit, observe Observer) Result

func (f unitRunnerFunc) Run(ctx context.Context, unit artifact.SourceUnit, observe Observer) Result {
	return f(ctx, unit, observe)
}

func units(ids ...string) []artifact.SourceUnit {
	out := make([]artifact.SourceUnit, 0, len(ids))
	for _, id := range ids {
		out = append(out, artifact.SourceUnit{ID: id, Name: id})
	}
	return out
}

func TestBulkContinuesPastFailures(t *testing.T) {
	var ran []string
	b := &Bulk{Runner: unitRunnerFunc(func(_ context.Context, unit artifact.SourceUnit, observe Observer) Result {
		ran = append(ran, unit.ID)
		observe(Progress{Unit: unit.ID, Phase: PhaseGenerate})
		switch unit.ID {
		case "b":
			return Result{Unit: unit.ID, Status: StatusAborted, Reason: ReasonAttemptsExhausted}
		case "c":
			panic("boom")
		}
		return Result{Unit: unit.ID, Status: StatusConverged}
	})}

	var fractions []float64
	var steps int
	sum := b.Run(context.Background(), units("a", "b", "c", "d"), func(p BulkProgress) {
		if p.Step != nil {
			steps++
			return
		}
		if p.Result == nil {
			fractions = append(fractions, p.Fraction)
		}
	})

	require.Equal(t, []string{"a", "b", "c", "d"}, ran)
	require.Equal(t, 4, sum.Total)
	require.Equal(t, 2, sum.Succeeded)
	require.Equal(t, 2, sum.Failed)
	require.False(t, sum.Cancelled)
	require.Equal(t, []float64{0, 0.25, 0.5, 0.75}, fractions)
	require.Equal(t, 4, steps)
	require.Equal(t, ReasonFatal, sum.Results[2].Reason)
	require.ErrorContains(t, sum.Results[2].Err, "panic: boom")
	require.Equal(t, "2/4 converged, 2 failed", sum.Line())
}

func TestBulkChecksCancellationOnlyBetweenUnits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ran []string
	b := &Bulk{Runner: unitRunnerFunc(func(ctx context.Context, unit artifact.SourceUnit, _ Observer) Result {
		ran = append(ran, unit.ID)
		if unit.ID == "b" {
			cancel()
		}
		return Result{Unit: unit.ID, Status: StatusConverged}
	})}

	sum := b.Run(ctx, units("a", "b", "c", "d"), nil)

	require.Equal(t, []string{"a", "b"}, ran, "a started unit runs to completion")
	require.True(t, sum.Cancelled)
	require.Equal(t, 2, sum.Succeeded)
	require.Equal(t, 2, sum.Skipped)
	require.Contains(t, sum.Line(), "2 skipped (cancelled)")
}

func TestBulkEmptyBatch(t *testing.T) {
	sum := (&Bulk{}).Run(context.Background(), nil, nil)
	require.Equal(t, BulkSummary{}, sum)
}
