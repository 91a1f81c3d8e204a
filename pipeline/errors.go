package pipeline

import "errors"

var (
	// ErrInitialStageWorkers is returned by `Start()` for a stage
	// without an input queue that is configured with more than one
	// worker. Only a single worker may call a source function.
	ErrInitialStageWorkers = errors.New("initial stage may not have more than one worker")

	// ErrStopFromNonInitial is the failure of a worker whose function
	// yielded `Stop` even though the stage has an input queue. Only
	// initial stages may end the stream.
	ErrStopFromNonInitial = errors.New("stop signal yielded by a stage that is not initial")

	// ErrMissingFunc is returned when a stage's function does not fit
	// its position: initial stages need a `SourceFunc`, every other
	// stage a `Func`.
	ErrMissingFunc = errors.New("stage function does not match stage position")

	// ErrNotRegistered is returned by `Start()` for a process stage
	// whose function was not registered in this binary.
	ErrNotRegistered = errors.New("stage function is not registered for process workers")
)
