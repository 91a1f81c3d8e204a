package counts_test

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/github/stagepipe/counts"
)

func TestCounter(t *testing.T) {
	t.Parallel()

	var c counts.Counter
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 8000, c.Load())
	assert.Equal(t, "8.00 kitems", c.Human("items"))
}

func TestCounterSaturates(t *testing.T) {
	t.Parallel()

	var c counts.Counter
	c.Add(math.MaxUint64 - 1)
	c.Add(5)
	assert.Equal(t, uint64(math.MaxUint64), c.Load())
	assert.Equal(t, "∞ items", c.Human("items"))
}

func TestHuman(t *testing.T) {
	t.Parallel()

	for _, ht := range []struct {
		n    uint64
		want string
	}{
		{0, "0 items"},
		{999, "999 items"},
		{1000, "1.00 kitems"},
		{1094, "1.09 kitems"},
		{10060, "10.1 kitems"},
		{100000, "100 kitems"},
		{1000000, "1.00 Mitems"},
		{1000000000000000, "1.00 Pitems"},
	} {
		assert.Equalf(t, ht.want, counts.Human(ht.n, "items"), "Human(%d)", ht.n)
	}

	assert.Equal(t, "12", counts.Human(12, ""))
	assert.Equal(t, "1.50 k", counts.Human(1500, ""))
}
