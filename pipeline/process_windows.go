//go:build windows

package pipeline

// runInOwnProcessGroup is not supported on Windows.
func (p *procWorker) runInOwnProcessGroup() {}

// kill is called to kill the worker if the context expires. `err` is
// the corresponding value of `Context.Err()`.
func (p *procWorker) kill(err error) {
	select {
	case <-p.done:
		return
	default:
	}

	p.ctxErr.Store(err)

	_ = p.cmd.Process.Kill()
}
