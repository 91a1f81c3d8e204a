package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/github/stagepipe/pipeline"
)

// ops are the line operations that can be named on the command line.
// Each one is registered so that it can also run in a process worker.
var ops = map[string]pipeline.Func[string]{
	"upper":    mapLine(strings.ToUpper),
	"lower":    mapLine(strings.ToLower),
	"trim":     mapLine(strings.TrimSpace),
	"reverse":  mapLine(reverse),
	"sha256":   mapLine(sha256Hex),
	"words":    words,
	"nonempty": nonempty,
}

func init() {
	for _, name := range opNames() {
		pipeline.Register(name, ops[name])
	}
}

func opNames() []string {
	return slices.Sorted(maps.Keys(ops))
}

// mapLine turns a string function into an operation that emits
// exactly one output per input.
func mapLine(f func(string) string) pipeline.Func[string] {
	return func(_ context.Context, line string) iter.Seq[pipeline.Message[string]] {
		return pipeline.Emit(f(line))
	}
}

func reverse(s string) string {
	runes := []rune(s)
	slices.Reverse(runes)
	return string(runes)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// words emits each whitespace-separated word of `line`.
func words(_ context.Context, line string) iter.Seq[pipeline.Message[string]] {
	return pipeline.Emit(strings.Fields(line)...)
}

// nonempty drops blank lines.
func nonempty(_ context.Context, line string) iter.Seq[pipeline.Message[string]] {
	if strings.TrimSpace(line) == "" {
		return pipeline.None[string]()
	}
	return pipeline.Emit(line)
}
