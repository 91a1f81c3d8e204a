package meter

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Progress is an interface for a simple progress meter. Call
// `Start()` to begin reporting. `format` should include some kind of
// '%d' field, into which will be written the current count. A spinner
// and a CR character will be added automatically.
//
// Call `Inc()` every time the quantity of interest increases. Call
// `Done()` to stop reporting.
type Progress interface {
	Start(format string)
	Inc()
	Done()
}

var Spinners = []string{"|", "/", "-", "\\"}

// progressMeter is a `Progress` that writes the current state to `w`
// every `period`.
type progressMeter struct {
	lock         sync.Mutex
	w            io.Writer
	format       string
	period       time.Duration
	spinnerIndex int

	// When `ticker` is changed, that tells the old goroutine that
	// it's time to shut down.
	ticker *time.Ticker
	exited chan struct{}

	count atomic.Int64
}

func NewProgressMeter(w io.Writer, period time.Duration) Progress {
	return &progressMeter{
		w:      w,
		period: period,
	}
}

func (p *progressMeter) Start(format string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.format = format + " %s%s"
	p.count.Store(0)
	p.spinnerIndex = 0
	ticker := time.NewTicker(p.period)
	p.ticker = ticker
	exited := make(chan struct{})
	p.exited = exited
	go func() {
		defer close(exited)
		for {
			<-ticker.C
			p.lock.Lock()
			if p.ticker != ticker {
				// We're done.
				ticker.Stop()
				p.lock.Unlock()
				return
			}
			p.spinnerIndex = (p.spinnerIndex + 1) % len(Spinners)
			fmt.Fprintf(p.w, p.format, p.count.Load(), Spinners[p.spinnerIndex], "\r")
			p.lock.Unlock()
		}
	}()
}

func (p *progressMeter) Inc() {
	p.count.Add(1)
}

// Done prints the final count and waits for the reporting goroutine
// to exit.
func (p *progressMeter) Done() {
	p.lock.Lock()
	p.ticker = nil
	fmt.Fprintf(p.w, p.format, p.count.Load(), " ", "\n")
	exited := p.exited
	p.lock.Unlock()

	<-exited
}

// NoProgressMeter is a `Progress` that doesn't actually report
// anything.
type NoProgressMeter struct{}

func (NoProgressMeter) Start(string) {}
func (NoProgressMeter) Inc()         {}
func (NoProgressMeter) Done()        {}
