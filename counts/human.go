package counts

import (
	"fmt"
	"strings"
)

type prefix struct {
	name       string
	multiplier uint64
}

var metricPrefixes = []prefix{
	{"", 1},
	{"k", 1e3},
	{"M", 1e6},
	{"G", 1e9},
	{"T", 1e12},
	{"P", 1e15},
}

// Human formats `n` with a metric prefix and three significant digits
// (e.g. "1.09 kitems"). Small values are printed exactly.
func Human(n uint64, unit string) string {
	p := metricPrefixes[0]
	wholePart := n
	for _, mp := range metricPrefixes {
		if w := n / mp.multiplier; w >= 1 {
			wholePart = w
			p = mp
		}
	}

	if p.multiplier == 1 {
		return strings.TrimSpace(fmt.Sprintf("%d %s", n, unit))
	}

	mantissa := float64(n) / float64(p.multiplier)
	var format string
	switch {
	case wholePart >= 100:
		// `mantissa` can actually be up to 999.999.
		format = "%.0f %s%s"
	case wholePart >= 10:
		format = "%.1f %s%s"
	default:
		format = "%.2f %s%s"
	}
	return fmt.Sprintf(format, mantissa, p.name, unit)
}
