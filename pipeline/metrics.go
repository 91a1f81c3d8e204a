package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives the events of a stage's workers. Implementations
// must be safe for concurrent use.
type Metrics interface {
	WorkerStarted(stage string)
	WorkerExited(stage string, err error)
	ItemIn(stage string)
	ItemOut(stage string)
	StopRelayed(stage string, n int)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) WorkerStarted(string)       {}
func (NoopMetrics) WorkerExited(string, error) {}
func (NoopMetrics) ItemIn(string)              {}
func (NoopMetrics) ItemOut(string)             {}
func (NoopMetrics) StopRelayed(string, int)    {}

// MultiMetrics forwards every event to each of `ms`.
func MultiMetrics(ms ...Metrics) Metrics {
	return multiMetrics(ms)
}

type multiMetrics []Metrics

func (mm multiMetrics) WorkerStarted(stage string) {
	for _, m := range mm {
		m.WorkerStarted(stage)
	}
}

func (mm multiMetrics) WorkerExited(stage string, err error) {
	for _, m := range mm {
		m.WorkerExited(stage, err)
	}
}

func (mm multiMetrics) ItemIn(stage string) {
	for _, m := range mm {
		m.ItemIn(stage)
	}
}

func (mm multiMetrics) ItemOut(stage string) {
	for _, m := range mm {
		m.ItemOut(stage)
	}
}

func (mm multiMetrics) StopRelayed(stage string, n int) {
	for _, m := range mm {
		m.StopRelayed(stage, n)
	}
}

// PromMetrics exports stage events as Prometheus metrics labelled by
// stage name.
type PromMetrics struct {
	workers  *prometheus.GaugeVec
	failures *prometheus.CounterVec
	in       *prometheus.CounterVec
	out      *prometheus.CounterVec
	stops    *prometheus.CounterVec
}

// NewPromMetrics returns unregistered Prometheus collectors whose
// names start with `namespace`.
func NewPromMetrics(namespace string) *PromMetrics {
	labels := []string{"stage"}
	return &PromMetrics{
		workers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_running",
			Help:      "Workers currently running",
		}, labels),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_failures_total",
			Help:      "Workers that exited with an error",
		}, labels),
		in: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_in_total",
			Help:      "Items taken from the stage's input queue",
		}, labels),
		out: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_out_total",
			Help:      "Items pushed onto the stage's output queue",
		}, labels),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stops_relayed_total",
			Help:      "Stop signals pushed downstream",
		}, labels),
	}
}

// Register registers all of the collectors with `reg`.
func (m *PromMetrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.workers, m.failures, m.in, m.out, m.stops} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *PromMetrics) WorkerStarted(stage string) {
	m.workers.WithLabelValues(stage).Inc()
}

func (m *PromMetrics) WorkerExited(stage string, err error) {
	m.workers.WithLabelValues(stage).Dec()
	if err != nil {
		m.failures.WithLabelValues(stage).Inc()
	}
}

func (m *PromMetrics) ItemIn(stage string) {
	m.in.WithLabelValues(stage).Inc()
}

func (m *PromMetrics) ItemOut(stage string) {
	m.out.WithLabelValues(stage).Inc()
}

func (m *PromMetrics) StopRelayed(stage string, n int) {
	m.stops.WithLabelValues(stage).Add(float64(n))
}
