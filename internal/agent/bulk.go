package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/animus-coder/testpilot/internal/artifact"
)

// UnitRunner is the per-unit convergence step used by Bulk.
type UnitRunner interface {
	Run(ctx context.Context, unit artifact.SourceUnit, observe Observer) Result
}

// BulkProgress reports batch progress before each unit and after the last one.
type BulkProgress struct {
	Completed int
	Total     int
	Fraction  float64
	Unit      string
	Result    *Result // set once a unit finished
	Step      *Progress
}

// BulkSummary is the batch tally.
type BulkSummary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Cancelled bool
	Results   []Result
}

// Bulk runs units sequentially. Cancellation is checked before each unit,
// never inside one; a unit failure does not stop the batch.
type Bulk struct {
	Runner UnitRunner
	Logger *zap.Logger
}

// Run processes units in order and returns the tally.
func (b *Bulk) Run(ctx context.Context, units []artifact.SourceUnit, report func(BulkProgress)) BulkSummary {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if report == nil {
		report = func(BulkProgress) {}
	}
	sum := BulkSummary{Total: len(units)}

	for i, unit := range units {
		if ctx.Err() != nil {
			sum.Cancelled = true
			sum.Skipped = len(units) - i
			logger.Info("bulk run cancelled", zap.Int("completed", i), zap.Int("skipped", sum.Skipped))
			break
		}
		report(BulkProgress{Completed: i, Total: len(units), Fraction: fraction(i, len(units)), Unit: unit.ID})

		res := b.runUnit(ctx, unit, i, len(units), report)
		sum.Results = append(sum.Results, res)
		if res.Converged() {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
		report(BulkProgress{Completed: i + 1, Total: len(units), Fraction: fraction(i+1, len(units)), Unit: unit.ID, Result: &res})
	}

	logger.Info("bulk run finished",
		zap.Int("total", sum.Total),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
	)
	return sum
}

// runUnit shields the batch from a panicking unit.
func (b *Bulk) runUnit(ctx context.Context, unit artifact.SourceUnit, i, total int, report func(BulkProgress)) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Unit: unit.ID, Status: StatusAborted, Reason: ReasonFatal, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return b.Runner.Run(ctx, unit, func(p Progress) {
		step := p
		report(BulkProgress{Completed: i, Total: total, Fraction: fraction(i, total), Unit: unit.ID, Step: &step})
	})
}

// Line renders a one-line summary.
func (s BulkSummary) Line() string {
	line := fmt.Sprintf("%d/%d converged, %d failed", s.Succeeded, s.Total, s.Failed)
	if s.Cancelled {
		line += fmt.Sprintf(", %d skipped (cancelled)", s.Skipped)
	}
	return line
}

func fraction(done, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(done) / float64(total)
}
