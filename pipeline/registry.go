package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/github/stagepipe/internal/config"
	"github.com/github/stagepipe/internal/wire"
)

// registration is a function that a process worker can be asked to
// run, with its item type erased.
type registration struct {
	initial bool
	serve   func(ctx context.Context, w *config.Worker, conn *wire.Conn) error
}

var registry = struct {
	sync.RWMutex
	m map[string]registration
}{m: map[string]registration{}}

func register(name string, r registration) {
	registry.Lock()
	defer registry.Unlock()
	if _, ok := registry.m[name]; ok {
		panic(fmt.Sprintf("function %q registered twice", name))
	}
	registry.m[name] = r
}

func lookupRegistration(name string) (registration, bool) {
	registry.RLock()
	defer registry.RUnlock()
	r, ok := registry.m[name]
	return r, ok
}

// Register makes `fn` available to process workers of stages named
// `name`. It must be called in every process (typically from an
// `init` function or a package-level variable), before `ServeWorker`.
// Only the codec and logger options apply; the codec must match the
// one of the stages that it is used by.
func Register[T any](name string, fn Func[T], options ...Option) {
	cfg := newStageConfig(options)
	register(name, registration{
		serve: func(ctx context.Context, w *config.Worker, conn *wire.Conn) error {
			return serveRemote(ctx, w, conn, cfg, nil, fn)
		},
	})
}

// RegisterSource is like `Register`, for the function of an initial
// stage.
func RegisterSource[T any](name string, fn SourceFunc[T], options ...Option) {
	cfg := newStageConfig(options)
	register(name, registration{
		initial: true,
		serve: func(ctx context.Context, w *config.Worker, conn *wire.Conn) error {
			return serveRemote(ctx, w, conn, cfg, fn, nil)
		},
	})
}

// IsWorkerProcess reports whether this process was started by a
// pipeline to serve as a process worker.
func IsWorkerProcess() bool {
	return config.IsWorker()
}

// ServeWorker runs the worker loop of the registered function that
// the parent pipeline asked for, talking to the parent over stdin and
// stdout. It returns the process exit status. Anything the function
// writes to `os.Stdout` goes to stderr instead.
//
// A panic in the function is not recovered: the process dies, and the
// parent reports the exit error together with the captured stderr.
func ServeWorker(ctx context.Context) int {
	w, err := config.LoadWorker()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	reg, ok := lookupRegistration(w.Stage)
	if !ok {
		fmt.Fprintf(os.Stderr, "%s: %q\n", ErrNotRegistered, w.Stage)
		return 1
	}

	stdout := os.Stdout
	os.Stdout = os.Stderr
	conn := wire.NewConn(os.Stdin, stdout)

	if err := reg.serve(ctx, w, conn); err != nil {
		fmt.Fprintf(os.Stderr, "stage %q worker %d: %s\n", w.Stage, w.Rank, err)
		return 1
	}
	return 0
}

func serveRemote[T any](
	ctx context.Context, w *config.Worker, conn *wire.Conn, cfg stageConfig,
	source SourceFunc[T], fn Func[T],
) error {
	wk := &worker[T]{
		stage:      w.Stage,
		rank:       w.Rank,
		source:     source,
		fn:         fn,
		downstream: max(w.Downstream, 0),
		logger: cfg.logger.With(
			zap.String("stage", w.Stage), zap.Int("rank", w.Rank), zap.String("worker_id", w.ID),
		),
		metrics: cfg.metrics,
	}

	q := remoteQueue[T]{conn: conn, codec: cfg.codec}
	if w.HasInput {
		wk.in = q
	}
	if w.HasOutput {
		wk.out = q
	}
	return wk.run(ctx)
}

// remoteQueue is a process worker's view of its stage's queues: every
// operation is forwarded to the parent and blocks until the parent
// has performed it.
type remoteQueue[T any] struct {
	conn  *wire.Conn
	codec Codec
}

func (q remoteQueue[T]) Push(_ context.Context, m Message[T]) error {
	data, err := encodeMessage(q.codec, m)
	if err != nil {
		return err
	}
	_, err = q.conn.Call(wire.OpPush, data, wire.OpAck)
	return err
}

func (q remoteQueue[T]) Pop(_ context.Context) (Message[T], error) {
	data, err := q.conn.Call(wire.OpPop, nil, wire.OpItem)
	if err != nil {
		return Message[T]{}, err
	}
	return decodeMessage[T](q.codec, data)
}
