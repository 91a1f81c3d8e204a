package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/github/stagepipe/counts"
	"github.com/github/stagepipe/pipeline"
)

type stageStats struct {
	name     string
	workers  int
	in       counts.Counter
	out      counts.Counter
	stops    counts.Counter
	failures counts.Counter
}

// statsRecorder is a `pipeline.Metrics` that keeps per-stage totals
// for `--stats`. Stages that share a name share their totals.
type statsRecorder struct {
	mu     sync.Mutex
	stages []*stageStats
	byName map[string]*stageStats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{
		byName: make(map[string]*stageStats),
	}
}

// stage returns the totals for `name`, creating them if necessary.
func (r *statsRecorder) stage(name string) *stageStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byName[name]
	if !ok {
		s = &stageStats{name: name}
		r.byName[name] = s
		r.stages = append(r.stages, s)
	}
	return s
}

// addStage records a stage in pipeline order.
func (r *statsRecorder) addStage(name string, workers int) {
	s := r.stage(name)
	r.mu.Lock()
	s.workers += workers
	r.mu.Unlock()
}

// recordSerial fills in the totals from the result of
// `Pipeline.Serial()`.
func (r *statsRecorder) recordSerial(names []string, results [][]string) {
	for i, name := range names {
		s := r.stage(name)
		if i > 0 {
			s.in.Add(uint64(len(results[i-1])))
		}
		s.out.Add(uint64(len(results[i])))
	}
}

func (r *statsRecorder) WorkerStarted(string) {}

func (r *statsRecorder) WorkerExited(stage string, err error) {
	if err != nil {
		r.stage(stage).failures.Inc()
	}
}

func (r *statsRecorder) ItemIn(stage string) {
	r.stage(stage).in.Inc()
}

func (r *statsRecorder) ItemOut(stage string) {
	r.stage(stage).out.Inc()
}

func (r *statsRecorder) StopRelayed(stage string, n int) {
	r.stage(stage).stops.Add(uint64(n))
}

// WriteTo writes a table of the totals to `w`.
func (r *statsRecorder) WriteTo(w io.Writer) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int64
	printf := func(format string, args ...any) error {
		n, err := fmt.Fprintf(w, format, args...)
		total += int64(n)
		return err
	}

	const rowFormat = "| %-12s | %7s | %10s | %10s | %5s | %8s |\n"
	if err := printf(rowFormat, "Stage", "Workers", "In", "Out", "Stops", "Failures"); err != nil {
		return total, err
	}
	if err := printf("| %s | %s | %s | %s | %s | %s |\n",
		"------------", "-------", "----------", "----------", "-----", "--------",
	); err != nil {
		return total, err
	}
	for _, s := range r.stages {
		if err := printf(
			rowFormat,
			s.name, fmt.Sprint(s.workers),
			s.in.Human(""), s.out.Human(""),
			s.stops.Human(""), s.failures.Human(""),
		); err != nil {
			return total, err
		}
	}
	return total, nil
}

var _ pipeline.Metrics = (*statsRecorder)(nil)
