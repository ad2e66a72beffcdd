package util

import (
	"context"
)

// SelValue runs f and waits for it or for ctx, whichever finishes first. f
// keeps running in the background when ctx wins, its result is dropped.
func SelValue[T any](ctx context.Context, f func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	// buffered so that an abandoned f can still finish
	d := make(chan result, 1)
	go func() {
		v, err := f()
		d <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-d:
		return r.v, r.err
	}
}
