// Package testutil provides shared helpers for package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync"
)

// RecordingLogger captures log lines per level so tests can assert on
// warnings the engine is required to emit.
type RecordingLogger struct {
	mu      sync.Mutex
	entries map[string][]string
}

// NewRecordingLogger returns an empty RecordingLogger.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{entries: make(map[string][]string)}
}

func (r *RecordingLogger) record(level, msg string, args []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := msg
	if len(args) > 0 {
		line = fmt.Sprintf("%s %v", msg, args)
	}
	r.entries[level] = append(r.entries[level], line)
}

// Debug records a debug line.
func (r *RecordingLogger) Debug(msg string, args ...any) { r.record("debug", msg, args) }

// Info records an info line.
func (r *RecordingLogger) Info(msg string, args ...any) { r.record("info", msg, args) }

// Warn records a warn line.
func (r *RecordingLogger) Warn(msg string, args ...any) { r.record("warn", msg, args) }

// Error records an error line.
func (r *RecordingLogger) Error(msg string, args ...any) { r.record("error", msg, args) }

// Warnings returns all recorded warn lines.
func (r *RecordingLogger) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries["warn"]...)
}

// HasWarning reports whether any warn line contains substr.
func (r *RecordingLogger) HasWarning(substr string) bool {
	for _, w := range r.Warnings() {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
