package pipeline

import "iter"

// Signal is an in-band control token that travels through a queue
// alongside ordinary items.
type Signal uint8

const (
	// NoSignal marks a message that carries an item.
	NoSignal Signal = iota

	// Stop marks the end of the stream.
	Stop
)

func (s Signal) String() string {
	switch s {
	case NoSignal:
		return "none"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// Message is the unit carried by every queue: either an item or a
// signal.
type Message[T any] struct {
	Item   T
	Signal Signal
}

// Item wraps `v` in a message.
func Item[T any](v T) Message[T] {
	return Message[T]{Item: v}
}

// StopMessage returns the end-of-stream message.
func StopMessage[T any]() Message[T] {
	return Message[T]{Signal: Stop}
}

// IsStop reports whether `m` is the end-of-stream signal.
func (m Message[T]) IsStop() bool {
	return m.Signal == Stop
}

// Emit returns a sequence yielding `vs` as items.
func Emit[T any](vs ...T) iter.Seq[Message[T]] {
	return func(yield func(Message[T]) bool) {
		for _, v := range vs {
			if !yield(Item(v)) {
				return
			}
		}
	}
}

// EmitThenStop returns a sequence yielding `vs` as items followed by
// `Stop`.
func EmitThenStop[T any](vs ...T) iter.Seq[Message[T]] {
	return func(yield func(Message[T]) bool) {
		for _, v := range vs {
			if !yield(Item(v)) {
				return
			}
		}
		yield(StopMessage[T]())
	}
}

// None returns an empty sequence, for functions that drop their
// input.
func None[T any]() iter.Seq[Message[T]] {
	return func(func(Message[T]) bool) {}
}
