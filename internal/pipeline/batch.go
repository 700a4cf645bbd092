package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/bookalign/internal/align"
)

// Outcome is the result of one chapter in a batch. Exactly one of Result
// and Err is set, unless the batch stopped before the chapter ran, in which
// case both are nil.
type Outcome struct {
	Chapter string
	Result  *Result
	Err     error
}

// RunBatch aligns chapters with at most concurrency chapters in flight.
// Outcomes are returned in input order.
//
// A chapter failing on malformed input or a store conflict is recorded in
// its outcome and the batch continues. An invariant violation or a canceled
// context stops the batch: chapters not yet started are skipped and the
// error is returned.
func (r *Runner) RunBatch(ctx context.Context, chapters []Chapter, concurrency int) ([]Outcome, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	slog.Info("starting batch", "chapters", len(chapters), "concurrency", concurrency)

	outcomes := make([]Outcome, len(chapters))
	for i, ch := range chapters {
		outcomes[i].Chapter = ch.Name
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, ch := range chapters {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := r.Run(gctx, ch)
			outcomes[i].Result, outcomes[i].Err = res, err
			if err != nil && (errors.Is(err, align.ErrInvariant) || gctx.Err() != nil) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, fmt.Errorf("pipeline: batch stopped: %w", err)
	}

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	slog.Info("batch finished", "chapters", len(chapters), "failed", failed)
	return outcomes, nil
}
