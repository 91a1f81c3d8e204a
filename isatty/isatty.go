// Package isatty reports whether a file descriptor refers to a
// terminal.
package isatty

import "golang.org/x/term"

// Isatty reports whether `fd` is a terminal.
func Isatty(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}
