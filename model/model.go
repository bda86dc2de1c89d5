// Package model defines the normalized generative interface the engine
// drives and a name-based registry resolving model hints to providers.
// Provider-specific request plumbing and response unwrapping live in the
// adapter subpackages; callers only ever see Result.Text.
package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Message is one turn of a dialogue-form request. Role is "system", "user"
// or "assistant".
type Message struct {
	Role    string
	Content string
}

// Request captures a normalized generative call. Either Prompt or Messages
// is set; Messages wins when non-empty. Instructions, when present, is the
// system instruction for the call.
type Request struct {
	Prompt       string
	Messages     []Message
	Instructions string
}

// Result is the single normalized response shape. Adapters unwrap whatever
// their provider returns into Text so no caller ever branches on provider
// response shapes.
type Result struct {
	Text string
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string
	Provider string // "openai", "anthropic", "mock", ...
}

// Model is the minimal synchronous generation interface. Calls block until
// the provider returns or fails; there is no mid-call cancellation beyond
// ctx, and no timeout is enforced at this layer.
type Model interface {
	Generate(ctx context.Context, req Request) (*Result, error)
	Info() Info
}

// Registry resolves model-name strings to Model implementations. A default
// model handles the empty name and any unregistered hint.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
	def    Model
}

// NewRegistry constructs an empty registry with the given default model.
// The default may be nil; resolution then fails for unknown names.
func NewRegistry(def Model) *Registry {
	return &Registry{models: make(map[string]Model), def: def}
}

// Register binds a model name to an implementation.
func (r *Registry) Register(name string, m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = m
}

// Resolve returns the model registered under name, falling back to the
// default for empty or unknown names.
func (r *Registry) Resolve(name string) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name != "" {
		if m, ok := r.models[name]; ok {
			return m, nil
		}
	}
	if r.def != nil {
		return r.def, nil
	}
	return nil, fmt.Errorf("no model registered for %q and no default model configured", name)
}

// LastUserText returns the text the model is being asked to respond to: the
// prompt in prompt form, otherwise the content of the last message.
func (r Request) LastUserText() string {
	if len(r.Messages) > 0 {
		return r.Messages[len(r.Messages)-1].Content
	}
	return r.Prompt
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Responses resolve in order: scripted queue, exact-match canned responses,
// then a deterministic echo.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	queue     []string
	err       error
	calls     int
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input text.
func (m *MockModel) AddResponse(input, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[input] = response
}

// Enqueue appends scripted responses returned in order before any canned
// lookup happens.
func (m *MockModel) Enqueue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
}

// Fail makes every subsequent Generate return err (nil restores normal
// behavior).
func (m *MockModel) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many Generate invocations the mock has served.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.queue) > 0 {
		text := m.queue[0]
		m.queue = m.queue[1:]
		return &Result{Text: text}, nil
	}
	input := req.LastUserText()
	if text, ok := m.responses[input]; ok {
		return &Result{Text: text}, nil
	}
	for key, text := range m.responses {
		if strings.Contains(input, key) {
			return &Result{Text: text}, nil
		}
	}
	return &Result{Text: "Mock response to: " + input}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
