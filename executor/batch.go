package executor

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/caffeineduck/guardsim/budget"
	"github.com/caffeineduck/guardsim/outcome"
)

// RunAll evaluates reqs in parallel under b. Every concurrent run gets its own
// Simulator, so runs never share a ledger. Outcomes are returned in request
// order. The error reports an invalid budget or option, never a failed run.
func RunAll(ctx context.Context, b budget.Budget, reqs []Request, opts ...Option) ([]outcome.Outcome, error) {
	if _, err := New(b, opts...); err != nil {
		return nil, err
	}

	outcomes := make([]outcome.Outcome, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, req := range reqs {
		g.Go(func() error {
			sim, err := New(b, opts...)
			if err != nil {
				return err
			}
			outcomes[i] = sim.Run(ctx, req)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
