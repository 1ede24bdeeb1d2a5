package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/FranksOps/trawl/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
)

// ErrDuplicateSource is returned when a batch names the same source twice.
var ErrDuplicateSource = errors.New("duplicate source in batch")

// BatchOptions controls RunBatch.
type BatchOptions struct {
	// Concurrency caps the runs in flight (default 2).
	Concurrency int
	// RequestsPerSecond paces run starts (0 = unpaced).
	RequestsPerSecond float64
	// Jitter applies randomness to the pacing (0.0 to 1.0).
	Jitter float64
}

// RunBatch runs independent invocations concurrently. Each source runs at most
// once per batch and a failure in one run never affects another. Outcomes are
// returned in input order; the error joins the errors Run returned.
func (o *Orchestrator) RunBatch(ctx context.Context, invs []Invocation, opts BatchOptions) ([]Outcome, error) {
	seen := make(map[string]struct{}, len(invs))
	for _, inv := range invs {
		if _, ok := seen[inv.SourceID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSource, inv.SourceID)
		}
		seen[inv.SourceID] = struct{}{}
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	limiter := ratelimit.NewLimiter(opts.RequestsPerSecond, opts.Jitter)

	outcomes := make([]Outcome, len(invs))
	errs := make([]error, len(invs))

	// Workers never return an error so one failing source does not cancel the rest.
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)

	for i, inv := range invs {
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				outcomes[i] = Outcome{SourceID: inv.SourceID, State: StateInit, Cause: err}
				errs[i] = fmt.Errorf("source %s: %w", inv.SourceID, err)
				return nil
			}
			out, err := o.Run(ctx, inv)
			outcomes[i] = out
			if err != nil {
				errs[i] = fmt.Errorf("source %s: %w", inv.SourceID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Info("batch finished", "runs", len(invs))
	return outcomes, errors.Join(errs...)
}
