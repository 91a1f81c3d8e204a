package pipeline

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestWorker(rank int, in, out Queue[int]) *worker[int] {
	return &worker[int]{
		stage:   "test",
		rank:    rank,
		in:      in,
		out:     out,
		logger:  zap.NewNop(),
		metrics: NoopMetrics{},
	}
}

func TestWorkerInitialRankRestriction(t *testing.T) {
	t.Parallel()

	called := false
	w := newTestWorker(1, nil, nil)
	w.source = func(context.Context) iter.Seq[Message[int]] {
		called = true
		return EmitThenStop(1)
	}
	assert.ErrorIs(t, w.run(context.Background()), ErrInitialStageWorkers)
	assert.False(t, called)
}

func TestWorkerStopFromNonInitial(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	in, out := newMemQueue[int](0), newMemQueue[int](0)
	require.NoError(t, in.Push(ctx, Item(1)))

	w := newTestWorker(0, in, out)
	w.fn = func(_ context.Context, v int) iter.Seq[Message[int]] {
		return EmitThenStop(v)
	}
	assert.ErrorIs(t, w.run(ctx), ErrStopFromNonInitial)
	assert.Equal(t, 1, out.Len(), "items ahead of the stop are still pushed")
}

func TestWorkerRelay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, rank := range []int{0, 1} {
		in, out := newMemQueue[int](0), newMemQueue[int](0)
		require.NoError(t, in.Push(ctx, Item(7)))
		require.NoError(t, in.Push(ctx, StopMessage[int]()))

		w := newTestWorker(rank, in, out)
		w.downstream = 3
		w.fn = func(_ context.Context, v int) iter.Seq[Message[int]] {
			return Emit(v, v)
		}
		require.NoError(t, w.run(ctx))

		var stops int
		for out.Len() > 0 {
			m, err := out.Pop(ctx)
			require.NoError(t, err)
			if m.IsStop() {
				stops++
			}
		}
		if rank == 0 {
			assert.Equal(t, 3, stops)
		} else {
			assert.Equal(t, 0, stops)
		}
	}
}

func TestWorkerWaitsForSiblingsBeforeRelay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	in, out := newMemQueue[int](0), newMemQueue[int](0)
	require.NoError(t, in.Push(ctx, StopMessage[int]()))

	siblingsDone := make(chan struct{})
	w := newTestWorker(0, in, out)
	w.downstream = 2
	w.fn = func(_ context.Context, v int) iter.Seq[Message[int]] {
		return Emit(v)
	}
	w.waitSiblings = func(ctx context.Context) error {
		select {
		case <-siblingsDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, out.Len(), "stop relayed while a sibling was still running")

	// A sibling's last output lands ahead of the relayed stops:
	require.NoError(t, out.Push(ctx, Item(42)))
	close(siblingsDone)
	require.NoError(t, <-errCh)

	m, err := out.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, Item(42), m)
	for i := 0; i < 2; i++ {
		m, err := out.Pop(ctx)
		require.NoError(t, err)
		assert.True(t, m.IsStop())
	}
}

func TestWorkerSiblingWaitCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	in, out := newMemQueue[int](0), newMemQueue[int](0)
	require.NoError(t, in.Push(ctx, StopMessage[int]()))

	w := newTestWorker(0, in, out)
	w.downstream = 1
	w.waitSiblings = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 0, out.Len())
}

func TestWorkerNilSequence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	in := newMemQueue[int](0)
	require.NoError(t, in.Push(ctx, Item(1)))
	require.NoError(t, in.Push(ctx, StopMessage[int]()))

	w := newTestWorker(0, in, nil)
	w.fn = func(context.Context, int) iter.Seq[Message[int]] { return nil }
	assert.NoError(t, w.run(ctx))
}

func TestWorkerRecoversPanic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	in := newMemQueue[int](0)
	require.NoError(t, in.Push(ctx, Item(1)))

	w := newTestWorker(0, in, nil)
	w.fn = func(context.Context, int) iter.Seq[Message[int]] {
		panic("boom")
	}
	err := w.runRecovered(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

// relayCounter records every stop relay, per stage.
type relayCounter struct {
	NoopMetrics

	mu     sync.Mutex
	relays map[string][]int
}

func (c *relayCounter) StopRelayed(stage string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.relays == nil {
		c.relays = map[string][]int{}
	}
	c.relays[stage] = append(c.relays[stage], n)
}

func TestRankZeroRelaysOnce(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		m := &relayCounter{}
		double := func(_ context.Context, v int) iter.Seq[Message[int]] {
			return Emit(2 * v)
		}
		drop := func(context.Context, int) iter.Seq[Message[int]] {
			return None[int]()
		}

		a := NewSource(func(context.Context) iter.Seq[Message[int]] {
			return EmitThenStop(1, 2, 3, 4, 5)
		}, WithName("a"), WithMetrics(m))
		b := NewStage(double, WithName("b"), WithWorkers(3), WithMetrics(m))
		c := NewStage(double, WithName("c"), WithWorkers(2), WithMetrics(m))
		d := NewStage(drop, WithName("d"), WithWorkers(4), WithMetrics(m))
		p := New(a, b, c, d)

		done := make(chan error, 1)
		go func() { done <- p.Run(context.Background()) }()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("pipeline did not finish")
		}

		assert.Equal(t, map[string][]int{"a": {3}, "b": {2}, "c": {4}}, m.relays)
		for _, s := range []*Stage[int]{b, c, d} {
			assert.Equal(t, 0, s.in.(memQueue[int]).Len(), "stage %s has leftover messages", s.Name())
			assert.False(t, s.Running())
		}
	}
}
