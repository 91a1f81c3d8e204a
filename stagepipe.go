package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/github/stagepipe/internal/config"
	"github.com/github/stagepipe/internal/logging"
	"github.com/github/stagepipe/isatty"
	"github.com/github/stagepipe/meter"
	"github.com/github/stagepipe/pipeline"
)

const usage = `usage: stagepipe [OPTS] OP[:WORKERS[:CAPACITY]]...

Read lines from the input, pass them through each OP in turn, and write
the results to stdout. Each OP runs in its own stage with WORKERS
workers (default 1) and an input queue holding at most CAPACITY lines
(0 means unbounded).

      --process                run the OP stages in worker processes
                               instead of goroutines
      --serial                 run the stages one after the other in a
                               single goroutine (for debugging)
      --max-items=N            with --serial, stop each stage after N
                               outputs
      --capacity=N             default queue capacity (default 64)
  -i, --input=FILE             read lines from FILE ('-' for stdin)
      --stats                  report per-stage counts to stderr
      --[no-]progress          report (don't report) progress to stderr.
      --metrics-addr=ADDR      serve Prometheus metrics on ADDR while
                               running
      --log-format=FORMAT      log format: text or json
      --log-level=LEVEL        log level: debug, info, warn, error, or
                               none
  -h, --help                   print this help and exit

Operations: %s

`

const defaultCapacity = 64

func main() {
	// Worker processes are stopped by their parent with SIGTERM, so
	// they must not catch it.
	if pipeline.IsWorkerProcess() {
		os.Exit(pipeline.ServeWorker(context.Background()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := mainImplementation(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func mainImplementation(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	cfg, err := config.LoadCLI()
	if err != nil {
		return err
	}

	var useProcesses bool
	var serial bool
	var maxItems int
	var capacity int
	var input string
	var stats bool
	var progress bool
	var metricsAddr string
	var logFormat string
	var logLevel string

	flags := pflag.NewFlagSet("stagepipe", pflag.ContinueOnError)
	flags.SetOutput(stderr)

	flags.Usage = func() {
		fmt.Fprintf(stderr, usage, strings.Join(opNames(), ", "))
	}

	flags.BoolVar(&useProcesses, "process", false, "run the OP stages in worker processes")
	flags.BoolVar(&serial, "serial", false, "run the stages serially in a single goroutine")
	flags.IntVar(&maxItems, "max-items", 0, "with --serial, stop each stage after this many outputs")
	flags.IntVar(&capacity, "capacity", defaultCapacity, "default queue capacity")
	flags.StringVarP(&input, "input", "i", "-", "read lines from `file`")
	flags.BoolVar(&stats, "stats", false, "report per-stage counts to stderr")

	atty := false
	if f, ok := stderr.(*os.File); ok {
		atty = isatty.Isatty(f.Fd())
	}

	flags.BoolVar(&progress, "progress", atty, "report progress to stderr")
	flag := flags.VarPF(&negatedBoolValue{&progress}, "no-progress", "", "suppress progress output")
	flag.NoOptDefVal = "true"

	flags.StringVar(&metricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on `addr`")
	flags.StringVar(&logFormat, "log-format", cfg.LogFormat, "log format")
	flags.StringVar(&logLevel, "log-level", cfg.LogLevel, "log level")

	flags.SortFlags = false

	err = flags.Parse(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if flags.NArg() == 0 {
		return errors.New("no operations given")
	}

	if maxItems < 0 {
		return fmt.Errorf("invalid --max-items %d", maxItems)
	}
	if maxItems > 0 && !serial {
		return errors.New("--max-items requires --serial")
	}
	if capacity < 0 {
		return fmt.Errorf("invalid --capacity %d", capacity)
	}

	specs := make([]opSpec, 0, flags.NArg())
	for _, arg := range flags.Args() {
		spec, err := parseOpSpec(arg, capacity)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	logger, err := logging.New(logFormat, logLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	in := stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		in = f
	}

	recorder := newStatsRecorder()
	var metrics pipeline.Metrics = recorder
	if metricsAddr != "" {
		prom := pipeline.NewPromMetrics("stagepipe")
		reg := prometheus.NewRegistry()
		if err := prom.Register(reg); err != nil {
			return err
		}
		shutdown, err := serveMetrics(metricsAddr, reg, logger)
		if err != nil {
			return err
		}
		defer shutdown()
		metrics = pipeline.MultiMetrics(recorder, prom)
	}

	var pm meter.Progress = meter.NoProgressMeter{}
	if progress {
		pm = meter.NewProgressMeter(stderr, 100*time.Millisecond)
	}

	reader := newLineReader(in)
	writer := newLineWriter(stdout, pm)

	stages := []*pipeline.Stage[string]{
		pipeline.NewSource(
			reader.read,
			pipeline.WithName("read"),
			pipeline.WithLogger(logger),
			pipeline.WithMetrics(metrics),
		),
	}
	recorder.addStage("read", 1)

	for _, spec := range specs {
		workers := pipeline.WithWorkers(spec.workers)
		if useProcesses {
			workers = pipeline.WithProcesses(spec.workers)
		}
		stages = append(stages, pipeline.NewStage(
			ops[spec.op],
			pipeline.WithName(spec.op),
			workers,
			pipeline.WithCapacity(spec.capacity),
			pipeline.WithLogger(logger),
			pipeline.WithMetrics(metrics),
		))
		recorder.addStage(spec.op, spec.workers)
	}

	stages = append(stages, pipeline.NewStage(
		writer.write,
		pipeline.WithName("write"),
		pipeline.WithCapacity(capacity),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
	))
	recorder.addStage("write", 1)

	p := pipeline.New(stages...)

	pm.Start("Lines written: %d")
	if serial {
		var results [][]string
		results, err = p.Serial(ctx, maxItems)
		if err == nil {
			names := make([]string, len(stages))
			for i, s := range stages {
				names[i] = s.Name()
			}
			recorder.recordSerial(names, results)
		}
	} else {
		err = p.Run(ctx)
	}
	pm.Done()

	if err != nil {
		return err
	}
	if err := reader.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	if stats {
		if _, err := recorder.WriteTo(stderr); err != nil {
			return err
		}
	}

	return nil
}

// serveMetrics serves the metrics in `reg` over HTTP on `addr` until
// the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		_ = srv.Close()
		<-done
	}, nil
}
