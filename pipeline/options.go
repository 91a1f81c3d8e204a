package pipeline

import (
	"go.uber.org/zap"
)

// WorkerModel says what a stage's workers are.
type WorkerModel int

const (
	// Goroutines run the stage function in goroutines of this process.
	Goroutines WorkerModel = iota

	// Processes run the stage function in separate processes that
	// re-execute the worker binary.
	Processes
)

func (m WorkerModel) String() string {
	if m == Processes {
		return "processes"
	}
	return "goroutines"
}

type stageConfig struct {
	name     string
	workers  int
	model    WorkerModel
	capacity int
	codec    Codec
	logger   *zap.Logger
	metrics  Metrics
	binary   string
}

func newStageConfig(options []Option) stageConfig {
	cfg := stageConfig{
		codec:   JSONCodec,
		logger:  zap.NewNop(),
		metrics: NoopMetrics{},
	}
	for _, option := range options {
		option(&cfg)
	}
	return cfg
}

// Option is a type alias for Stage functional options.
type Option func(*stageConfig)

// WithName sets the name of the stage. It defaults to the name of the
// stage function. Process stages are looked up in the registry by
// this name.
func WithName(name string) Option {
	return func(c *stageConfig) {
		c.name = name
	}
}

// WithWorkers runs the stage with `n` goroutine workers. Zero means
// one.
func WithWorkers(n int) Option {
	return func(c *stageConfig) {
		c.model = Goroutines
		c.workers = n
	}
}

// WithProcesses runs the stage with `n` process workers (at least
// one).
func WithProcesses(n int) Option {
	return func(c *stageConfig) {
		c.model = Processes
		c.workers = max(n, 1)
	}
}

// WithCapacity bounds the stage's input queue to `n` messages. Zero
// (the default) means unbounded.
func WithCapacity(n int) Option {
	return func(c *stageConfig) {
		c.capacity = n
	}
}

// WithCodec sets the codec used for the stage's input queue when it
// crosses a process boundary, and by the stage's process workers.
func WithCodec(codec Codec) Option {
	return func(c *stageConfig) {
		c.codec = codec
	}
}

// WithLogger sets the logger that the stage reports worker lifecycle
// events to.
func WithLogger(logger *zap.Logger) Option {
	return func(c *stageConfig) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink of the stage.
func WithMetrics(m Metrics) Option {
	return func(c *stageConfig) {
		c.metrics = m
	}
}

// WithWorkerBinary sets the program that process workers run. A bare
// name is looked up in PATH. By default the current executable is
// re-executed.
func WithWorkerBinary(path string) Option {
	return func(c *stageConfig) {
		c.binary = path
	}
}
