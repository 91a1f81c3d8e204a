package pipeline

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// Queue is a FIFO of messages shared by the workers on either side of
// it. `Push` blocks while a bounded queue is full and `Pop` blocks
// while the queue is empty; both return `ctx.Err()` if `ctx` expires
// first. Nothing is ever dropped.
type Queue[T any] interface {
	Push(ctx context.Context, m Message[T]) error
	Pop(ctx context.Context) (Message[T], error)
}

// frameCarrier is implemented by queues that hold encoded messages.
// Process-worker proxies move frames through it without decoding them.
type frameCarrier interface {
	PushFrame(ctx context.Context, data []byte) error
	PopFrame(ctx context.Context) ([]byte, error)

	// isStop reports whether `data` encodes `Stop` in the queue's own
	// codec.
	isStop(data []byte) bool
}

// blockingQueue is a FIFO of `E` with an optional capacity (0 means
// unbounded).
type blockingQueue[E any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    *linkedlistqueue.Queue
	capacity int
}

func newBlockingQueue[E any](capacity int) *blockingQueue[E] {
	q := &blockingQueue[E]{
		items:    linkedlistqueue.New(),
		capacity: max(capacity, 0),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// wakeOnDone arranges for all waiters to be woken up when `ctx`
// expires, so that they notice the cancellation. The caller must hold
// `q.mu` and call the returned function before releasing it.
func (q *blockingQueue[E]) wakeOnDone(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.notEmpty.Broadcast()
		q.notFull.Broadcast()
	})
}

func (q *blockingQueue[E]) full() bool {
	return q.capacity > 0 && q.items.Size() >= q.capacity
}

func (q *blockingQueue[E]) push(ctx context.Context, e E) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.full() {
		stop := q.wakeOnDone(ctx)
		defer stop()
		for q.full() {
			if err := ctx.Err(); err != nil {
				// Pass on a wakeup that might have been meant for
				// another pusher.
				q.notFull.Signal()
				return err
			}
			q.notFull.Wait()
		}
	}

	q.items.Enqueue(e)
	q.notEmpty.Signal()
	return nil
}

func (q *blockingQueue[E]) pop(ctx context.Context) (E, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Empty() {
		stop := q.wakeOnDone(ctx)
		defer stop()
		for q.items.Empty() {
			if err := ctx.Err(); err != nil {
				q.notEmpty.Signal()
				var zero E
				return zero, err
			}
			q.notEmpty.Wait()
		}
	}

	v, _ := q.items.Dequeue()
	q.notFull.Signal()
	return v.(E), nil
}

// Len returns the number of queued messages.
func (q *blockingQueue[E]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Size()
}

// Cap returns the capacity of the queue, or 0 if it is unbounded.
func (q *blockingQueue[E]) Cap() int {
	return q.capacity
}

// memQueue connects two stages whose workers are all goroutines.
type memQueue[T any] struct {
	*blockingQueue[Message[T]]
}

func newMemQueue[T any](capacity int) memQueue[T] {
	return memQueue[T]{newBlockingQueue[Message[T]](capacity)}
}

func (q memQueue[T]) Push(ctx context.Context, m Message[T]) error {
	return q.push(ctx, m)
}

func (q memQueue[T]) Pop(ctx context.Context) (Message[T], error) {
	return q.pop(ctx)
}

// frameQueue connects two stages when at least one of them uses
// process workers. Messages are stored encoded, so goroutine workers
// pay for serialization too, and process workers can be handed the
// frames as they are.
type frameQueue[T any] struct {
	*blockingQueue[[]byte]
	codec Codec
}

func newFrameQueue[T any](capacity int, codec Codec) frameQueue[T] {
	return frameQueue[T]{
		blockingQueue: newBlockingQueue[[]byte](capacity),
		codec:         codec,
	}
}

func (q frameQueue[T]) Push(ctx context.Context, m Message[T]) error {
	data, err := encodeMessage(q.codec, m)
	if err != nil {
		return err
	}
	return q.push(ctx, data)
}

func (q frameQueue[T]) Pop(ctx context.Context) (Message[T], error) {
	data, err := q.pop(ctx)
	if err != nil {
		return Message[T]{}, err
	}
	return decodeMessage[T](q.codec, data)
}

func (q frameQueue[T]) PushFrame(ctx context.Context, data []byte) error {
	return q.push(ctx, data)
}

func (q frameQueue[T]) PopFrame(ctx context.Context) ([]byte, error) {
	return q.pop(ctx)
}

func (q frameQueue[T]) isStop(data []byte) bool {
	return isStopFrame(q.codec, data)
}
