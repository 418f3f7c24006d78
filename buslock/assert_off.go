//go:build !buslockdebug

package buslock

func invariant(bool, string) {}
