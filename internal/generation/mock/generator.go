package mock

import (
	"context"
	"sync"

	"github.com/animus-coder/testpilot/internal/generation"
)

// Generator is a test double for the generation client.
type Generator struct {
	GenerateFn func(ctx context.Context, req generation.Request) (generation.Result, error)

	mu    sync.Mutex
	calls []generation.Request
}

// Generate records req and delegates to GenerateFn.
func (g *Generator) Generate(ctx context.Context, req generation.Request) (generation.Result, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()
	if g.GenerateFn != nil {
		return g.GenerateFn(ctx, req)
	}
	return generation.Result{Text: "package mock\n"}, nil
}

// Calls returns the recorded requests in order.
func (g *Generator) Calls() []generation.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]generation.Request(nil), g.calls...)
}

// Sequence returns a GenerateFn answering with results in order; the last one repeats.
func Sequence(results ...Response) func(ctx context.Context, req generation.Request) (generation.Result, error) {
	var (
		mu sync.Mutex
		i  int
	)
	return func(ctx context.Context, req generation.Request) (generation.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(results) == 0 {
			return generation.Result{}, nil
		}
		r := results[i]
		if i < len(results)-1 {
			i++
		}
		return r.Result, r.Err
	}
}

// Response pairs a result with an error for Sequence.
type Response struct {
	Result generation.Result
	Err    error
}
