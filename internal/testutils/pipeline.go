package testutils

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/github/stagepipe/pipeline"
)

// Source returns a source function that yields `vs` followed by
// `Stop` on its first call.
func Source[T any](vs ...T) pipeline.SourceFunc[T] {
	return func(context.Context) iter.Seq[pipeline.Message[T]] {
		return pipeline.EmitThenStop(vs...)
	}
}

// Map returns a stage function that yields `f(item)` for every item.
func Map[T any](f func(T) T) pipeline.Func[T] {
	return func(_ context.Context, v T) iter.Seq[pipeline.Message[T]] {
		return pipeline.Emit(f(v))
	}
}

// Collector records every item that reaches it. It is meant to be the
// function of a terminal stage, and may be used by several workers.
type Collector[T any] struct {
	mu    sync.Mutex
	items []T
}

func (c *Collector[T]) Func() pipeline.Func[T] {
	return func(_ context.Context, v T) iter.Seq[pipeline.Message[T]] {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.items = append(c.items, v)
		return pipeline.None[T]()
	}
}

// Items returns a copy of the items collected so far.
func (c *Collector[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

// Run runs `p` to completion, failing the test if that takes longer
// than `timeout`.
func Run[T any](t *testing.T, p *pipeline.Pipeline[T], timeout time.Duration) error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Run(context.Background())
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(timeout):
		t.Fatalf("pipeline did not finish within %s", timeout)
		return nil
	}
}

// Join joins `p`, failing the test if that takes longer than
// `timeout`.
func Join[T any](t *testing.T, p *pipeline.Pipeline[T], timeout time.Duration) error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Join()
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(timeout):
		t.Fatalf("pipeline did not finish within %s", timeout)
		return nil
	}
}
