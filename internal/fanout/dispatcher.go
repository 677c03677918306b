// Package fanout runs one call per worker concurrently under a shared,
// process-wide cap on in-flight calls.
package fanout

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Dispatcher caps the number of concurrent outbound calls across all requests.
// Admission is FIFO: a call waiting for a slot is never overtaken by a later one.
type Dispatcher struct {
	sem   *semaphore.Weighted
	limit int
}

// NewDispatcher sizes the limiter; values below one are raised to one.
func NewDispatcher(limit int) *Dispatcher {
	if limit < 1 {
		limit = 1
	}
	return &Dispatcher{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: limit,
	}
}

func (d *Dispatcher) Limit() int {
	return d.limit
}

// Gather invokes call once for every index in [0, n) and waits for all of
// them. Result i always holds the value produced by call(ctx, i), so callers
// can merge in dispatch order. A failing call never stops the others.
//
// If ctx ends while a call is waiting for a slot, the call still runs with the
// finished context so that it records its own failure.
func Gather[T any](ctx context.Context, d *Dispatcher, n int, call func(ctx context.Context, i int) T) []T {
	out := make([]T, n)
	var g errgroup.Group
	for i := range n {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			out[i] = call(ctx, i)
			continue
		}
		g.Go(func() error {
			defer d.sem.Release(1)
			out[i] = call(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
