package meter_test

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/github/stagepipe/meter"
)

// syncBuffer is a `bytes.Buffer` that can be written concurrently.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressMeter(t *testing.T) {
	t.Parallel()

	var out syncBuffer
	p := meter.NewProgressMeter(&out, 5*time.Millisecond)
	p.Start("Lines: %d")
	for i := 0; i < 42; i++ {
		p.Inc()
	}
	time.Sleep(30 * time.Millisecond)
	p.Done()

	s := out.String()
	assert.True(t, strings.HasSuffix(s, "Lines: 42  \n"), "output %q", s)
	assert.Contains(t, s, "\r")
}

func TestNoProgressMeter(t *testing.T) {
	t.Parallel()

	var p meter.Progress = meter.NoProgressMeter{}
	p.Start("Lines: %d")
	p.Inc()
	p.Done()
}
