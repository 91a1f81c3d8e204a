package pipeline

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"
)

// Pipeline is a linear chain of stages, each piped into the next.
type Pipeline[T any] struct {
	stages []*Stage[T]

	// prev[i] is the index of the stage feeding stage `i`, or -1.
	prev []int

	cancel func()

	// Nonzero if the pipeline has been started. This is only used for
	// lifecycle sanity checks.
	started atomic.Bool
}

// New pipes each of `stages` into the next one and returns the
// resulting pipeline. None of the stages may have been piped before.
func New[T any](stages ...*Stage[T]) *Pipeline[T] {
	p := &Pipeline[T]{
		stages: stages,
		prev:   make([]int, len(stages)),
	}
	for i := range stages {
		p.prev[i] = i - 1
		if i > 0 {
			stages[i-1].Pipe(stages[i])
		}
	}
	return p
}

// Stages returns the stages of the pipeline in order.
func (p *Pipeline[T]) Stages() []*Stage[T] {
	return p.stages
}

// Start starts every stage. If a stage fails to start, the stages that
// were started already are canceled and waited for, and the error is
// returned. If `Start()` exits without an error, `Join()` must also be
// called.
func (p *Pipeline[T]) Start(ctx context.Context) error {
	if p.started.Load() {
		panic("attempt to start a pipeline that has already started")
	}

	p.started.Store(true)
	ctx, p.cancel = context.WithCancel(ctx)

	for i, s := range p.stages {
		if err := s.Start(ctx); err != nil {
			p.cancel()
			for _, s := range p.stages[:i] {
				_ = s.Join()
			}
			return fmt.Errorf("starting pipeline stage %q: %w", s.Name(), err)
		}
	}
	return nil
}

// Join waits for every stage to finish. If any stage failed, the error
// of the earliest failing stage is returned.
func (p *Pipeline[T]) Join() error {
	if !p.started.Load() {
		panic("unable to join a pipeline that has not started")
	}

	// Make sure that all of the cleanup eventually happens:
	defer p.cancel()

	var earliestStageErr error
	var earliestFailedStage *Stage[T]

	for i := len(p.stages) - 1; i >= 0; i-- {
		s := p.stages[i]
		if err := s.Join(); err != nil {
			earliestFailedStage, earliestStageErr = s, err
		}
	}

	if earliestStageErr != nil {
		return fmt.Errorf("%s: %w", earliestFailedStage.Name(), earliestStageErr)
	}
	return nil
}

// Run starts the pipeline and waits for it to finish.
func (p *Pipeline[T]) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	return p.Join()
}

// Serial runs the stage functions one after the other on the calling
// goroutine, without queues or workers, and returns what each stage
// produced. The first stage's function is called exactly once; every
// later stage is called once per output of its predecessor. A stage's
// output ends at the first `Stop` it yields or, if `maxItems > 0`,
// once it has produced `maxItems` items.
//
// This is a debugging aid. It does not need the pipeline to be
// started, and process stages run in this process.
func (p *Pipeline[T]) Serial(ctx context.Context, maxItems int) ([][]T, error) {
	results := make([][]T, len(p.stages))

	for i, s := range p.stages {
		var outputs []T

		// collect appends the items of `seq` to `outputs` and reports
		// whether the stage may produce more.
		collect := func(seq iter.Seq[Message[T]]) bool {
			if seq == nil {
				return true
			}
			for m := range seq {
				if m.IsStop() {
					return false
				}
				outputs = append(outputs, m.Item)
				if maxItems > 0 && len(outputs) >= maxItems {
					return false
				}
			}
			return true
		}

		if j := p.prev[i]; j < 0 {
			if s.source == nil {
				return nil, fmt.Errorf("stage %q: %w: a stage without input needs a SourceFunc", s.Name(), ErrMissingFunc)
			}
			collect(s.source(ctx))
		} else {
			if s.fn == nil {
				return nil, fmt.Errorf("stage %q: %w: a stage with input needs a Func", s.Name(), ErrMissingFunc)
			}
			for _, item := range results[j] {
				if !collect(s.fn(ctx, item)) {
					break
				}
			}
		}

		results[i] = outputs
	}

	return results, nil
}
