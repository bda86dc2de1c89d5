package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveFallsBackToDefault(t *testing.T) {
	def := NewMockModel("default")
	special := NewMockModel("special")

	r := NewRegistry(def)
	r.Register("special", special)

	m, err := r.Resolve("special")
	require.NoError(t, err)
	assert.Equal(t, "special", m.Info().Name)

	m, err = r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "default", m.Info().Name)

	m, err = r.Resolve("unknown-hint")
	require.NoError(t, err)
	assert.Equal(t, "default", m.Info().Name)
}

func TestRegistry_NoDefault(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Resolve("anything")
	assert.Error(t, err)
}

func TestMockModel_QueueBeatsCannedResponses(t *testing.T) {
	ctx := context.Background()
	m := NewMockModel("test")
	m.AddResponse("hello", "canned")
	m.Enqueue("scripted")

	res, err := m.Generate(ctx, Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "scripted", res.Text)

	res, err = m.Generate(ctx, Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "canned", res.Text)

	res, err = m.Generate(ctx, Request{Prompt: "something else"})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Mock response to:")
	assert.Equal(t, 3, m.Calls())
}

func TestRequest_LastUserText(t *testing.T) {
	assert.Equal(t, "p", Request{Prompt: "p"}.LastUserText())
	req := Request{
		Prompt:   "ignored",
		Messages: []Message{{Role: "user", Content: "first"}, {Role: "assistant", Content: "last"}},
	}
	assert.Equal(t, "last", req.LastUserText())
}
