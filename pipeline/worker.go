package pipeline

import (
	"context"
	"iter"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// worker runs one slot of a stage's pool. The same loop drives
// goroutine workers and, on the other side of a process boundary,
// process workers.
type worker[T any] struct {
	stage  string
	rank   int
	in     Queue[T]
	out    Queue[T]
	source SourceFunc[T]
	fn     Func[T]

	// downstream is the number of workers of the next stage, each of
	// which must receive one `Stop`. It is zero if there is no next
	// stage.
	downstream int

	// waitSiblings, if set, blocks until the other workers of the
	// stage have returned. Only rank 0 has it.
	waitSiblings func(ctx context.Context) error

	logger  *zap.Logger
	metrics Metrics
}

// run executes the worker loop until the worker sees `Stop`, its
// context expires, or a queue operation fails.
func (w *worker[T]) run(ctx context.Context) error {
	if w.in == nil && w.rank != 0 {
		return ErrInitialStageWorkers
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var outputs iter.Seq[Message[T]]
		if w.in == nil {
			outputs = w.source(ctx)
		} else {
			m, err := w.in.Pop(ctx)
			if err != nil {
				return err
			}
			if m.IsStop() {
				return w.stop(ctx)
			}
			w.metrics.ItemIn(w.stage)
			outputs = w.fn(ctx, m.Item)
		}

		if outputs == nil {
			continue
		}

		for m := range outputs {
			if m.IsStop() {
				if w.in != nil {
					return ErrStopFromNonInitial
				}
				return w.stop(ctx)
			}
			if w.out == nil {
				continue
			}
			if err := w.out.Push(ctx, m); err != nil {
				return err
			}
			w.metrics.ItemOut(w.stage)
		}
	}
}

// stop ends the worker after it has seen `Stop`. Only rank 0 passes
// the signal on, so that the next stage gets one `Stop` per worker no
// matter how many workers this stage has. It does so only after its
// siblings have returned, because they may still be pushing outputs
// of earlier items.
func (w *worker[T]) stop(ctx context.Context) error {
	if w.rank != 0 {
		return nil
	}
	if w.waitSiblings != nil {
		if err := w.waitSiblings(ctx); err != nil {
			return err
		}
	}
	return w.relay(ctx)
}

func (w *worker[T]) relay(ctx context.Context) error {
	if w.out == nil || w.downstream == 0 {
		return nil
	}
	for i := 0; i < w.downstream; i++ {
		if err := w.out.Push(ctx, StopMessage[T]()); err != nil {
			return err
		}
	}
	w.metrics.StopRelayed(w.stage, w.downstream)
	w.logger.Debug("relayed stop", zap.Int("count", w.downstream))
	return nil
}

// runRecovered is like `run()`, but a panic in the stage function
// becomes the worker's error instead of taking the process down.
func (w *worker[T]) runRecovered(ctx context.Context) error {
	var err error
	if r := panics.Try(func() { err = w.run(ctx) }); r != nil {
		return r.AsError()
	}
	return err
}
