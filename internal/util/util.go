// Package util holds small helpers shared across the engine packages.
package util

import "github.com/google/uuid"

// NewID returns a fresh UUIDv4 string used for all persisted record ids.
func NewID() string {
	return uuid.NewString()
}

// Truncate bounds s to max runes, appending "..." when it was cut. Used to
// keep distilled memory content within its safety bound.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
