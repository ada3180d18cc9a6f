package engine

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Coordinator collapses concurrent identical fetches into one shared call.
// The in-flight entry is removed once the call settles, success or failure,
// so a failed fetch never pins its key.
type Coordinator struct {
	g singleflight.Group
}

func NewCoordinator() *Coordinator { return &Coordinator{} }

// Do runs fn for key unless a call for the same key is already in flight, in
// which case the caller attaches to it. The shared flag reports whether the
// result was produced by another caller's invocation.
func (c *Coordinator) Do(ctx context.Context, key string, fn func() (*FetchResult, error)) (*FetchResult, bool, error) {
	ch := c.g.DoChan(key, func() (any, error) {
		return fn()
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*FetchResult), res.Shared, nil
	}
}

// Forget drops any in-flight entry for key; the next Do issues a fresh call.
func (c *Coordinator) Forget(key string) { c.g.Forget(key) }
