// Package wire implements the framing used between a pipeline process
// and the worker processes that it starts. Every frame is a one-byte
// opcode followed by a big-endian uint32 payload length and the
// payload itself.
//
// The child always speaks first: it sends `OpPop` or `OpPush` and then
// waits for the parent's `OpItem` or `OpAck`. That keeps the protocol
// strictly request/response, so a worker never holds more than the one
// message that it is working on.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Op identifies the kind of a frame.
type Op byte

const (
	// OpPop asks the parent for the next message of the worker's
	// input queue. It carries no payload.
	OpPop Op = 'p'

	// OpPush hands an encoded output message to the parent.
	OpPush Op = 'P'

	// OpItem answers `OpPop` with an encoded input message.
	OpItem Op = 'i'

	// OpAck answers `OpPush` once the message is in the output queue.
	OpAck Op = 'a'
)

func (op Op) String() string {
	switch op {
	case OpPop:
		return "pop"
	case OpPush:
		return "push"
	case OpItem:
		return "item"
	case OpAck:
		return "ack"
	default:
		return fmt.Sprintf("op(%#x)", byte(op))
	}
}

const headerSize = 5

// MaxPayload is the largest payload that `Recv()` accepts.
const MaxPayload = 64 << 20

// ErrFrameTooLarge is returned for frames whose payload exceeds
// `MaxPayload`.
var ErrFrameTooLarge = errors.New("frame payload too large")

// Frame is a single decoded frame.
type Frame struct {
	Op      Op
	Payload []byte
}

// Conn reads and writes frames over a pair of byte streams (typically
// a process's stdin and stdout). A `Conn` is not safe for concurrent
// use.
type Conn struct {
	r *bufio.Reader
	w *bufio.Writer
}

func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{
		r: bufio.NewReader(r),
		w: bufio.NewWriter(w),
	}
}

// Send writes one frame and flushes it.
func (c *Conn) Send(op Op, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrFrameTooLarge
	}

	var header [headerSize]byte
	header[0] = byte(op)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))

	if _, err := c.w.Write(header[:]); err != nil {
		return fmt.Errorf("writing %s frame: %w", op, err)
	}
	if _, err := c.w.Write(payload); err != nil {
		return fmt.Errorf("writing %s frame: %w", op, err)
	}
	return c.w.Flush()
}

// Recv reads the next frame. It returns `io.EOF` (unwrapped) if the
// stream ended cleanly between frames.
func (c *Conn) Recv() (Frame, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("reading frame header: %w", err)
	}

	n := binary.BigEndian.Uint32(header[1:])
	if n > MaxPayload {
		return Frame{}, ErrFrameTooLarge
	}

	f := Frame{Op: Op(header[0])}
	if n > 0 {
		f.Payload = make([]byte, n)
		if _, err := io.ReadFull(c.r, f.Payload); err != nil {
			return Frame{}, fmt.Errorf("reading %s frame payload: %w", f.Op, err)
		}
	}
	return f, nil
}

// Call sends a request frame and waits for the reply, which must
// have opcode `want`.
func (c *Conn) Call(op Op, payload []byte, want Op) ([]byte, error) {
	if err := c.Send(op, payload); err != nil {
		return nil, err
	}

	f, err := c.Recv()
	if err != nil {
		return nil, err
	}
	if f.Op != want {
		return nil, fmt.Errorf("unexpected %s frame in reply to %s (want %s)", f.Op, op, want)
	}
	return f.Payload, nil
}
