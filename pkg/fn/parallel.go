package fn

import (
	"context"
	"sync"
)

// Gather runs f over items on at most limit workers and returns the
// outputs in input order. limit <= 0 gives every item its own worker.
// Items are handed out in order; f is expected to observe ctx itself.
func Gather[T, U any](ctx context.Context, items []T, limit int, f func(context.Context, T) U) []U {
	out := make([]U, len(items))
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}
	if limit <= 1 {
		for i := range items {
			out[i] = f(ctx, items[i])
		}
		return out
	}

	next := make(chan int)
	var wg sync.WaitGroup
	wg.Add(limit)
	for range limit {
		go func() {
			defer wg.Done()
			for i := range next {
				out[i] = f(ctx, items[i])
			}
		}()
	}
	for i := range items {
		next <- i
	}
	close(next)
	wg.Wait()
	return out
}
