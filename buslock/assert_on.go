//go:build buslockdebug

package buslock

// invariant panics when an internal invariant is broken. Violations are programming
// errors, never recoverable conditions.
func invariant(cond bool, msg string) {
	if !cond {
		panic("buslock: " + msg)
	}
}
