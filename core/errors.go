package core

import "fmt"

// ConfigurationError reports a scenario or run configuration the engine
// cannot execute (missing or ambiguous initial state, unknown role, broken
// transition endpoint). It is fatal and raised before any Step is created.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// NewConfigurationError formats a ConfigurationError.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// GenerationError reports a failed or empty generative call. It is scoped to
// a single Step: the engine marks the step and its episode FAILED and does
// not retry automatically.
type GenerationError struct {
	Op  string // what was being generated, e.g. "state response"
	Err error  // nil when the call returned empty text
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("generation failed: %s: empty response", e.Op)
	}
	return fmt.Sprintf("generation failed: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying provider error for errors.Is/As.
func (e *GenerationError) Unwrap() error { return e.Err }
