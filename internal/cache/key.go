package cache

import (
	"fmt"
	"strings"
)

// Key builds a deterministic cache key from an operation name and its
// argument tuple, e.g. Key("fundamentals", "600036").
func Key(op string, args ...string) string {
	if len(args) == 0 {
		return op
	}
	return op + ":" + strings.Join(args, ":")
}

// KeyF is a convenience wrapper for non-string argument tuples.
func KeyF(op string, args ...interface{}) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return Key(op, parts...)
}
