package batch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Failure records one item whose transform failed.
// Failed items are excluded from the result set; the batch continues.
type Failure[T any] struct {
	Item T
	Err  error
}

// ParallelMap applies fn to every item with at most workers concurrent calls.
// ⭐ SSOT: "parallel compute, sequential bulk write" 패턴의 compute 단계
//
// Results keep input order. Per-item errors are collected into failures and never
// abort the batch; only context cancellation does.
func ParallelMap[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) (R, error)) ([]R, []Failure[T], error) {
	if workers < 1 {
		workers = 1
	}

	out := make([]R, len(items))
	ok := make([]bool, len(items))

	var (
		mu       sync.Mutex
		failures []Failure[T]
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range items {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			r, err := fn(gctx, items[i])
			if err != nil {
				mu.Lock()
				failures = append(failures, Failure[T]{Item: items[i], Err: err})
				mu.Unlock()
				return nil
			}

			out[i] = r
			ok[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, failures, err
	}
	if err := ctx.Err(); err != nil {
		return nil, failures, err
	}

	results := make([]R, 0, len(items))
	for i, r := range out {
		if ok[i] {
			results = append(results, r)
		}
	}
	return results, failures, nil
}

// Flatten concatenates per-item result slices
func Flatten[R any](groups [][]R) []R {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	flat := make([]R, 0, n)
	for _, g := range groups {
		flat = append(flat, g...)
	}
	return flat
}
