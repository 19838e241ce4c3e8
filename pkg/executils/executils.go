package executils

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ForEachAsync runs fn for every value with at most limit calls in flight. Unlike a
// plain errgroup, one failing call does not cancel the others: every value is
// visited and the failures are joined.
func ForEachAsync[T any](ctx context.Context, vals []T, limit int, fn func(context.Context, T) error) error {
	if len(vals) == 0 {
		return nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, v := range vals {
		v := v
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := fn(ctx, v); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
