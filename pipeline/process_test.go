package pipeline_test

import (
	"context"
	"errors"
	"iter"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/github/stagepipe/internal/testutils"
	"github.com/github/stagepipe/pipeline"
)

const processTimeout = 20 * time.Second

func TestProcessStage(t *testing.T) {
	t.Parallel()

	var sink testutils.Collector[int]
	p := pipeline.New(
		pipeline.NewSource(testutils.Source(1, 2, 3)),
		pipeline.NewStage(double, pipeline.WithProcesses(2)),
		pipeline.NewStage(sink.Func()),
	)

	require.NoError(t, testutils.Run(t, p, processTimeout))
	assert.ElementsMatch(t, []int{2, 4, 6}, sink.Items())
}

func TestProcessSource(t *testing.T) {
	t.Parallel()

	var sink testutils.Collector[int]
	p := pipeline.New(
		pipeline.NewSource(testutils.Source(7), pipeline.WithName("count3"), pipeline.WithProcesses(1)),
		pipeline.NewStage(double, pipeline.WithWorkers(3)),
		pipeline.NewStage(sink.Func()),
	)

	// The child runs the function registered as "count3", not the
	// one that the stage was constructed with.
	require.NoError(t, testutils.Run(t, p, processTimeout))
	assert.ElementsMatch(t, []int{2, 4, 6}, sink.Items())
}

func TestProcessUnevenWorkerLatency(t *testing.T) {
	t.Parallel()

	var sink testutils.Collector[int]
	p := pipeline.New(
		pipeline.NewSource(testutils.Source(1, 2, 3)),
		pipeline.NewStage(slowDouble, pipeline.WithProcesses(3)),
		pipeline.NewStage(sink.Func(), pipeline.WithWorkers(2)),
	)

	require.NoError(t, testutils.Run(t, p, processTimeout))
	assert.ElementsMatch(t, []int{2, 4, 6}, sink.Items())
}

func TestProcessStagesInSequence(t *testing.T) {
	t.Parallel()

	var sink testutils.Collector[int]
	p := pipeline.New(
		pipeline.NewSource(testutils.Source(1, 2, 3, 4, 5)),
		pipeline.NewStage(double, pipeline.WithProcesses(2), pipeline.WithCapacity(1)),
		pipeline.NewStage(double, pipeline.WithProcesses(3), pipeline.WithCapacity(1)),
		pipeline.NewStage(sink.Func(), pipeline.WithWorkers(2)),
	)

	require.NoError(t, testutils.Run(t, p, processTimeout))
	assert.ElementsMatch(t, []int{4, 8, 12, 16, 20}, sink.Items())
}

func TestProcessWorkerPanics(t *testing.T) {
	t.Parallel()

	p := pipeline.New(
		pipeline.NewSource(testutils.Source(1, 2, 3)),
		pipeline.NewStage(explode, pipeline.WithProcesses(1)),
	)

	err := testutils.Run(t, p, processTimeout)
	require.Error(t, err)

	var eErr *exec.ExitError
	require.True(t, errors.As(err, &eErr), "error %v should be an exit error", err)
	assert.Contains(t, string(eErr.Stderr), "boom")
}

func TestProcessNotRegistered(t *testing.T) {
	t.Parallel()

	p := pipeline.New(
		pipeline.NewSource(testutils.Source(1)),
		pipeline.NewStage(double, pipeline.WithName("unknown"), pipeline.WithProcesses(1)),
	)
	assert.ErrorIs(t, p.Start(context.Background()), pipeline.ErrNotRegistered)

	p = pipeline.New(
		pipeline.NewSource(testutils.Source(1)),
		pipeline.NewStage(double, pipeline.WithName("count3"), pipeline.WithProcesses(1)),
	)
	assert.ErrorIs(t, p.Start(context.Background()), pipeline.ErrMissingFunc)
}

func TestProcessWorkerBinaryNotFound(t *testing.T) {
	t.Parallel()

	p := pipeline.New(
		pipeline.NewSource(testutils.Source(1)),
		pipeline.NewStage(double,
			pipeline.WithProcesses(1),
			pipeline.WithWorkerBinary("stagepipe-no-such-worker-binary"),
		),
	)
	err := p.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locating worker binary")
}

func TestProcessCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The source never stops, so only cancellation ends the pipeline.
	var sink testutils.Collector[int]
	p := pipeline.New(
		pipeline.NewSource(func(context.Context) iter.Seq[pipeline.Message[int]] {
			return pipeline.Emit(1)
		}, pipeline.WithName("ones")),
		pipeline.NewStage(double, pipeline.WithProcesses(1), pipeline.WithCapacity(2)),
		pipeline.NewStage(sink.Func(), pipeline.WithCapacity(2)),
	)
	require.NoError(t, p.Start(ctx))

	require.Eventually(t, func() bool { return len(sink.Items()) > 0 }, processTimeout, 10*time.Millisecond)
	cancel()

	err := testutils.Join(t, p, processTimeout)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Regexp(t, "^ones: ", err.Error())
}
