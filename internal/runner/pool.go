package runner

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type Job func(ctx context.Context) error

// RunPool executes jobs with at most maxWorkers concurrently; maxWorkers < 1
// means no limit. The first failure cancels the context passed to every job
// and no further jobs start. RunPool returns once every started job has
// returned, with the first error, or ctx.Err() if ctx was cancelled.
func RunPool(ctx context.Context, maxWorkers int, jobs []Job) error {
	g, gctx := errgroup.WithContext(ctx)
	if maxWorkers > 0 {
		g.SetLimit(maxWorkers)
	}
	for _, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			return job(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
