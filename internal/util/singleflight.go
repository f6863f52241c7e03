// Package util carries small shared helpers.
package util

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Group deduplicates concurrent work by key. It wraps singleflight with
// context and timeout plumbing so callers can stop waiting without killing
// the shared call.
type Group struct {
	sf singleflight.Group
}

// Do executes fn, collapsing concurrent calls for the same key into one
// execution. The shared flag reports whether the result was handed to more
// than one caller.
func (g *Group) Do(key string, fn func() (interface{}, error)) (interface{}, error, bool) {
	return g.sf.Do(key, fn)
}

// DoWithContext is Do, except this caller abandons the wait when its context
// ends. The underlying call keeps running for the remaining waiters.
func (g *Group) DoWithContext(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error, bool) {
	type result struct {
		val    interface{}
		err    error
		shared bool
	}

	ch := make(chan result, 1)
	go func() {
		val, err, shared := g.sf.Do(key, func() (interface{}, error) {
			return fn(ctx)
		})
		ch <- result{val, err, shared}
	}()

	select {
	case r := <-ch:
		return r.val, r.err, r.shared
	case <-ctx.Done():
		return nil, ctx.Err(), false
	}
}

// DoWithTimeout bounds the wait with a fresh timeout.
func (g *Group) DoWithTimeout(key string, timeout time.Duration, fn func() (interface{}, error)) (interface{}, error, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return g.DoWithContext(ctx, key, func(context.Context) (interface{}, error) {
		return fn()
	})
}

// Forget drops the in-flight entry for key so the next Do starts fresh.
func (g *Group) Forget(key string) {
	g.sf.Forget(key)
}
