package arbor

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// initLayers runs each dependency wave's resources concurrently, bounded by
// maxConcurrency, waiting for the whole wave to finish before starting the
// next one — the wave boundary is the only ordering guarantee Initialize
// needs, since within a wave no resource depends on another (spec.md §4.1,
// "independent resources initialize in parallel"). Every resource in a wave
// is attempted even if a sibling fails; their errors are joined into a
// single error bag with per-resource causes rather than losing all but the
// first (spec.md §4.1.6).
func initLayers(ctx context.Context, rt *Runtime, layers [][]*registration, maxConcurrency int) error {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	sem := semaphore.NewWeighted(int64(maxConcurrency))

	for _, layer := range layers {
		g, gctx := errgroup.WithContext(ctx)
		var mu sync.Mutex
		var errs []error
		for _, reg := range layer {
			res := reg.unit.(*Resource)
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					return nil
				}
				defer sem.Release(1)
				if err := rt.initResource(gctx, res); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
		if err := errors.Join(errs...); err != nil {
			return err
		}
	}
	return nil
}
