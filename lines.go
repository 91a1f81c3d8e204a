package main

import (
	"bufio"
	"context"
	"io"
	"iter"
	"sync"

	"github.com/github/stagepipe/meter"
	"github.com/github/stagepipe/pipeline"
)

const maxLineLength = 16 << 20

// lineReader feeds the pipeline. A single call of `read` yields every
// line of the input and then `Stop`, which suits both the concurrent
// and the serial mode.
type lineReader struct {
	scanner *bufio.Scanner
	err     error
}

func newLineReader(r io.Reader) *lineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	return &lineReader{scanner: scanner}
}

func (lr *lineReader) read(context.Context) iter.Seq[pipeline.Message[string]] {
	return func(yield func(pipeline.Message[string]) bool) {
		for lr.scanner.Scan() {
			if !yield(pipeline.Item(lr.scanner.Text())) {
				return
			}
		}
		lr.err = lr.scanner.Err()
		yield(pipeline.StopMessage[string]())
	}
}

// Err returns the error, if any, that ended the input early.
func (lr *lineReader) Err() error {
	return lr.err
}

// lineWriter is the last stage of the pipeline. It writes each item it
// receives as a line and produces nothing.
type lineWriter struct {
	mu       sync.Mutex
	w        *bufio.Writer
	progress meter.Progress
	err      error
}

func newLineWriter(w io.Writer, progress meter.Progress) *lineWriter {
	return &lineWriter{
		w:        bufio.NewWriter(w),
		progress: progress,
	}
}

func (lw *lineWriter) write(_ context.Context, line string) iter.Seq[pipeline.Message[string]] {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.err != nil {
		return nil
	}
	if _, err := lw.w.WriteString(line); err != nil {
		lw.err = err
		return nil
	}
	if err := lw.w.WriteByte('\n'); err != nil {
		lw.err = err
		return nil
	}
	lw.progress.Inc()
	return nil
}

// Flush writes out any buffered output and returns the first write
// error encountered.
func (lw *lineWriter) Flush() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.err != nil {
		return lw.err
	}
	return lw.w.Flush()
}
