package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcde...", Truncate("abcdefgh", 5))
	assert.Equal(t, "unbounded", Truncate("unbounded", 0))
	// rune-safe, not byte-safe
	assert.Equal(t, "héll...", Truncate("héllo wörld", 4))
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	assert.Len(t, strings.ReplaceAll(a, "-", ""), 32)
}
