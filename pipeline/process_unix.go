//go:build !windows

package pipeline

import (
	"syscall"
	"time"
)

// runInOwnProcessGroup arranges for the worker to be run in its own
// process group.
func (p *procWorker) runInOwnProcessGroup() {
	if p.cmd.SysProcAttr == nil {
		p.cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	p.cmd.SysProcAttr.Setpgid = true
}

// kill is called to kill the worker if the context expires. `err` is
// the corresponding value of `Context.Err()`.
func (p *procWorker) kill(err error) {
	// We started the process with PGID == PID:
	pid := p.cmd.Process.Pid
	select {
	case <-p.done:
		return
	default:
	}

	p.ctxErr.Store(err)

	// Give the worker a chance to clean up after itself first:
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	go func() {
		timer := time.NewTimer(2 * time.Second)
		defer timer.Stop()

		select {
		case <-p.done:
		case <-timer.C:
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		}
	}()
}
