package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestCoordinatorCollapsesConcurrentCalls(t *testing.T) {
	c := NewCoordinator()
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func() (*FetchResult, error) {
		calls.Add(1)
		<-release
		return &FetchResult{Source: "prov"}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]*FetchResult, n)
	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			res, _, err := c.Do(context.Background(), "k", fn)
			if err != nil {
				t.Errorf("do: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	for i := 0; i < n; i++ {
		<-started
	}
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("fn ran %d times, want 1", got)
	}
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("all callers must share one result")
		}
	}
}

func TestCoordinatorErrorNotCached(t *testing.T) {
	c := NewCoordinator()
	calls := 0
	fn := func() (*FetchResult, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boom")
		}
		return &FetchResult{Source: "prov"}, nil
	}

	if _, _, err := c.Do(context.Background(), "k", fn); err == nil {
		t.Fatalf("expected first call to fail")
	}
	res, _, err := c.Do(context.Background(), "k", fn)
	if err != nil {
		t.Fatalf("second call must run fresh: %v", err)
	}
	if res.Source != "prov" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCoordinatorContextCancel(t *testing.T) {
	c := NewCoordinator()
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Do(ctx, "k", func() (*FetchResult, error) {
		<-release
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestCoordinatorDistinctKeys(t *testing.T) {
	c := NewCoordinator()
	var calls atomic.Int32
	fn := func() (*FetchResult, error) {
		calls.Add(1)
		return &FetchResult{}, nil
	}

	if _, _, err := c.Do(context.Background(), "a", fn); err != nil {
		t.Fatalf("do a: %v", err)
	}
	if _, _, err := c.Do(context.Background(), "b", fn); err != nil {
		t.Fatalf("do b: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("distinct keys must not share calls, got %d", got)
	}
}
