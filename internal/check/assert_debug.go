//go:build debug

// Package check holds invariant assertions that panic in builds tagged debug
// and compile to nothing otherwise.
package check

import "fmt"

// Assertf panics with the formatted message when cond is false.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("invariant violated: " + fmt.Sprintf(format, args...))
	}
}
