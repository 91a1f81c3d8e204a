package pipeline

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SourceFunc is the function of an initial stage. It is called over
// and over by the stage's single worker; every call returns the next
// batch of messages. The stream ends when it yields `Stop`.
type SourceFunc[T any] func(ctx context.Context) iter.Seq[Message[T]]

// Func is the function of a stage that has an input queue. It is
// called once per item and may yield any number of items in return,
// but never `Stop`.
//
// A `Func` may run in several goroutines at once, so it must be
// careful to synchronize any data access.
type Func[T any] func(ctx context.Context, item T) iter.Seq[Message[T]]

// Stage is one step of a pipeline: a function and the pool of
// workers that call it.
type Stage[T any] struct {
	stageConfig
	source SourceFunc[T]
	fn     Func[T]

	in, out    Queue[T]
	prev, next *Stage[T]

	started atomic.Bool
	live    atomic.Int32
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	// siblings counts the running workers other than rank 0;
	// siblingsDone is closed once they have all returned.
	siblings     sync.WaitGroup
	siblingsDone chan struct{}

	mu  sync.Mutex
	err error
}

// NewSource returns an initial stage that generates items by calling
// `fn`.
func NewSource[T any](fn SourceFunc[T], options ...Option) *Stage[T] {
	return newStage(funcName(fn), fn, nil, options)
}

// NewStage returns a stage that processes items with `fn`.
func NewStage[T any](fn Func[T], options ...Option) *Stage[T] {
	return newStage(funcName(fn), nil, fn, options)
}

func newStage[T any](defaultName string, source SourceFunc[T], fn Func[T], options []Option) *Stage[T] {
	s := &Stage[T]{
		stageConfig: newStageConfig(options),
		source:      source,
		fn:          fn,
	}
	if s.name == "" {
		s.name = defaultName
	}
	s.logger = s.logger.With(zap.String("stage", s.name))
	return s
}

// funcName returns the unqualified name of function `f`.
func funcName(f any) string {
	name := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Name returns the name of the stage.
func (s *Stage[T]) Name() string {
	return s.name
}

// Workers returns the size of the stage's worker pool.
func (s *Stage[T]) Workers() int {
	return max(s.workers, 1)
}

// Model returns what the stage's workers are.
func (s *Stage[T]) Model() WorkerModel {
	return s.model
}

// Initial reports whether the stage has no input queue.
func (s *Stage[T]) Initial() bool {
	return s.in == nil
}

// Running reports whether any of the stage's workers has not returned
// yet.
func (s *Stage[T]) Running() bool {
	return s.live.Load() > 0
}

// Pipe connects the output of `s` to the input of `other`. The queue
// between them is in-process unless either stage uses process workers.
// Both stages must not have been started, and a stage can only be
// piped to one successor and from one predecessor.
func (s *Stage[T]) Pipe(other *Stage[T]) {
	if s.started.Load() || other.started.Load() {
		panic("attempt to pipe a stage that has already started")
	}
	if s.out != nil {
		panic(fmt.Sprintf("stage %q is already piped to %q", s.name, s.next.name))
	}
	if other.in != nil {
		panic(fmt.Sprintf("stage %q is already piped from %q", other.name, other.prev.name))
	}

	var q Queue[T]
	if s.model == Processes || other.model == Processes {
		q = newFrameQueue[T](other.capacity, other.codec)
	} else {
		q = newMemQueue[T](other.capacity)
	}

	s.out, other.in = q, q
	s.next, other.prev = other, s
}

// validate checks the stage's configuration before any worker runs.
func (s *Stage[T]) validate() error {
	if s.in == nil {
		if s.source == nil {
			return fmt.Errorf("%w: a stage without input needs a SourceFunc", ErrMissingFunc)
		}
		if s.Workers() > 1 {
			return ErrInitialStageWorkers
		}
	} else if s.fn == nil {
		return fmt.Errorf("%w: a stage with input needs a Func", ErrMissingFunc)
	}

	if s.model == Processes && s.binary == "" {
		reg, ok := lookupRegistration(s.name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotRegistered, s.name)
		}
		if reg.initial != (s.in == nil) {
			return fmt.Errorf("%w: %q is registered with the other kind of function", ErrMissingFunc, s.name)
		}
	}
	return nil
}

// downstream returns the number of `Stop`s that this stage's rank 0
// owes the next stage.
func (s *Stage[T]) downstream() int {
	if s.next == nil {
		return 0
	}
	return s.next.Workers()
}

// Start launches the stage's workers. Configuration errors are
// reported before any worker runs. If `Start()` returns without an
// error, `Join()` must also be called.
func (s *Stage[T]) Start(ctx context.Context) error {
	if s.started.Load() {
		panic("attempt to start a stage that has already started")
	}

	if err := s.validate(); err != nil {
		return err
	}

	var binary string
	if s.model == Processes {
		var err error
		binary, err = workerBinary(s.binary)
		if err != nil {
			return err
		}
	}

	s.started.Store(true)
	ctx, s.cancel = context.WithCancel(ctx)
	s.siblingsDone = make(chan struct{})

	var err error
	for rank := 0; rank < s.Workers() && err == nil; rank++ {
		err = s.launch(ctx, rank, binary)
	}

	go func() {
		s.siblings.Wait()
		close(s.siblingsDone)
	}()

	if err != nil {
		// Kill and wait for any workers that have been started
		// already:
		s.cancel()
		s.wg.Wait()
		return err
	}

	s.logger.Debug("stage started",
		zap.Int("workers", s.Workers()), zap.Stringer("model", s.model))
	return nil
}

// waitForSiblings blocks until every worker of the stage other than
// rank 0 has returned. Rank 0 calls it before relaying `Stop`, so that
// no item can be pushed downstream after the next stage has stopped.
func (s *Stage[T]) waitForSiblings(ctx context.Context) error {
	select {
	case <-s.siblingsDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// siblingWait returns the function that worker `rank` must call
// before relaying `Stop`, or nil if it has nobody to wait for.
func (s *Stage[T]) siblingWait(rank int) func(context.Context) error {
	if rank != 0 || s.Workers() == 1 {
		return nil
	}
	return s.waitForSiblings
}

func (s *Stage[T]) launch(ctx context.Context, rank int, binary string) error {
	s.wg.Add(1)
	s.live.Add(1)
	s.metrics.WorkerStarted(s.name)
	if rank != 0 {
		s.siblings.Add(1)
	}
	done := func(err error) {
		s.exited(rank, err)
		if rank != 0 {
			s.siblings.Done()
		}
		s.wg.Done()
	}

	if s.model == Goroutines {
		w := &worker[T]{
			stage:      s.name,
			rank:       rank,
			in:         s.in,
			out:        s.out,
			source:     s.source,
			fn:         s.fn,
			downstream:   s.downstream(),
			waitSiblings: s.siblingWait(rank),
			logger:       s.logger.With(zap.Int("rank", rank)),
			metrics:      s.metrics,
		}
		go func() {
			done(w.runRecovered(ctx))
		}()
		return nil
	}

	p, err := startProcWorker(ctx, s.procSpec(rank, binary))
	if err != nil {
		err = fmt.Errorf("starting worker %d: %w", rank, err)
		done(err)
		return err
	}
	go func() {
		done(p.Wait())
	}()
	return nil
}

// exited records the end of worker `rank`.
func (s *Stage[T]) exited(rank int, err error) {
	s.live.Add(-1)
	s.metrics.WorkerExited(s.name, err)

	if err == nil {
		s.logger.Debug("worker exited", zap.Int("rank", rank))
		return
	}

	s.logger.Error("worker failed", zap.Int("rank", rank), zap.Error(err))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = multierr.Append(s.err, fmt.Errorf("worker %d: %w", rank, err))
}

// Join waits for every worker of the stage to return. It returns the
// failures of the workers, if any. A failed worker does not stop the
// others, so a failure of rank 0 before it relayed `Stop` leaves the
// next stage waiting forever.
func (s *Stage[T]) Join() error {
	if !s.started.Load() {
		panic("unable to join a stage that has not started")
	}

	s.wg.Wait()
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
