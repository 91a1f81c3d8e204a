package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/cli/safeexec"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/github/stagepipe/internal/config"
	"github.com/github/stagepipe/internal/wire"
)

// workerBinary returns the absolute path of the program that process
// workers run. A bare name is looked up with `safeexec`, which, unlike
// `exec.LookPath()` on Windows, never picks up a file from the current
// directory.
func workerBinary(name string) (string, error) {
	if name == "" {
		p, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("locating worker binary: %w", err)
		}
		return p, nil
	}

	p := name
	if filepath.Base(name) == name {
		var err error
		p, err = safeexec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("locating worker binary: %w", err)
		}
	}
	return filepath.Abs(p)
}

// procSpec describes one process worker to start.
type procSpec struct {
	binary string
	env    config.Worker
	in     frameCarrier
	out    frameCarrier

	// waitSiblings is set for rank 0 of a stage with several workers.
	// The parent holds back the worker's `Stop` frames until it
	// returns.
	waitSiblings func(ctx context.Context) error

	logger  *zap.Logger
	metrics Metrics
}

func (s *Stage[T]) procSpec(rank int, binary string) procSpec {
	spec := procSpec{
		binary: binary,
		env: config.Worker{
			Stage:      s.name,
			Rank:       rank,
			ID:         uuid.NewString(),
			HasInput:   s.in != nil,
			HasOutput:  s.out != nil,
			Downstream: -1,
		},
		waitSiblings: s.siblingWait(rank),
		metrics:      s.metrics,
	}
	if s.next != nil {
		spec.env.Downstream = s.next.Workers()
	}
	// `Pipe()` always uses a `frameQueue` next to a process stage:
	if s.in != nil {
		spec.in = s.in.(frameCarrier)
	}
	if s.out != nil {
		spec.out = s.out.(frameCarrier)
	}
	spec.logger = s.logger.With(zap.Int("rank", rank), zap.String("worker_id", spec.env.ID))
	return spec
}

// procWorker is a stage worker running in a child process. The parent
// side serves the child's queue requests from the real queues.
type procWorker struct {
	spec   procSpec
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	done   chan struct{}
	wg     errgroup.Group
	stderr bytes.Buffer

	// If the context expired and we attempted to kill the worker,
	// `ctx.Err()` is stored here.
	ctxErr atomic.Value
}

func startProcWorker(ctx context.Context, spec procSpec) (*procWorker, error) {
	cmd := exec.Command(spec.binary)
	cmd.Env = append(os.Environ(), spec.env.Environ()...)

	p := &procWorker{
		spec: spec,
		cmd:  cmd,
		done: make(chan struct{}),
	}

	var err error
	if p.stdin, err = cmd.StdinPipe(); err != nil {
		return nil, err
	}
	if p.stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, err
	}

	// We can't just set `cmd.Stderr = &p.stderr`, because then
	// `cmd.Wait()` wouldn't make sure that all of the error output
	// has been captured.
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	p.runInOwnProcessGroup()

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p.wg.Go(func() error {
		_, err := io.Copy(&p.stderr, stderr)
		if err != nil && !errors.Is(err, os.ErrClosed) {
			return err
		}
		return nil
	})
	p.wg.Go(func() error {
		return p.serve(ctx)
	})

	// Arrange for the worker to be killed (gently) if the context
	// expires before it exits normally:
	go func() {
		select {
		case <-ctx.Done():
			p.kill(ctx.Err())
		case <-p.done:
		}
	}()

	spec.logger.Debug("process worker started", zap.Int("pid", cmd.Process.Pid))
	return p, nil
}

// serve answers the child's requests until it closes its stdout.
func (p *procWorker) serve(ctx context.Context) error {
	// Closing stdin makes a child that is waiting for a reply give up.
	defer p.stdin.Close()

	conn := wire.NewConn(p.stdout, p.stdin)
	stage := p.spec.env.Stage
	for {
		f, err := conn.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch {
		case f.Op == wire.OpPop && p.spec.in != nil:
			data, err := p.spec.in.PopFrame(ctx)
			if err != nil {
				return err
			}
			if !p.spec.in.isStop(data) {
				p.spec.metrics.ItemIn(stage)
			}
			if err := conn.Send(wire.OpItem, data); err != nil {
				return err
			}

		case f.Op == wire.OpPush && p.spec.out != nil:
			stop := p.spec.out.isStop(f.Payload)
			if stop && p.spec.waitSiblings != nil {
				if err := p.spec.waitSiblings(ctx); err != nil {
					return err
				}
			}
			if err := p.spec.out.PushFrame(ctx, f.Payload); err != nil {
				return err
			}
			if stop {
				p.spec.metrics.StopRelayed(stage, 1)
			} else {
				p.spec.metrics.ItemOut(stage)
			}
			if err := conn.Send(wire.OpAck, nil); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unexpected %s request from worker", f.Op)
		}
	}
}

// filterCmdError interprets `err`, which was returned by `Cmd.Wait()`
// (possibly `nil`). If the worker looks like it was killed by us,
// the context error is returned instead; otherwise the captured
// stderr is attached to the `*exec.ExitError`.
func (p *procWorker) filterCmdError(err error) error {
	if err == nil {
		return nil
	}

	eErr, ok := err.(*exec.ExitError)
	if !ok {
		return err
	}

	ctxErr, ok := p.ctxErr.Load().(error)
	if ok {
		ps, ok := eErr.ProcessState.Sys().(syscall.WaitStatus)
		if ok && ps.Signaled() &&
			(ps.Signal() == syscall.SIGTERM || ps.Signal() == syscall.SIGKILL) {
			return ctxErr
		}
	}

	eErr.Stderr = p.stderr.Bytes()
	return eErr
}

// Wait waits for the worker process to exit.
func (p *procWorker) Wait() error {
	defer close(p.done)

	// Make sure that stdout and stderr are drained before
	// `cmd.Wait()` closes the read ends of the pipes:
	wErr := p.wg.Wait()

	err := p.filterCmdError(p.cmd.Wait())
	if err == nil && wErr != nil {
		err = wErr
	}
	return err
}
