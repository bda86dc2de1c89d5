// Package embedding defines the vector-embedding interface used exclusively
// by the memory subsystem, plus a deterministic in-memory implementation for
// tests.
package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// Embedder produces fixed-dimensionality vectors for text. One Embedder
// corresponds to one embedding model; vectors from different models are
// never mixed in one retrieval index.
type Embedder interface {
	// Embed returns the embedding vector for text. It blocks until the
	// provider returns or fails.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions is the fixed vector length of this model.
	Dimensions() int
	// Model is the embedding-model name, used to key retrieval indexes.
	Model() string
}

// MockEmbedder is a deterministic Embedder for tests: the vector is the
// L2-normalized letter-frequency histogram of the lowercased input, so texts
// sharing vocabulary score high cosine similarity without any provider.
type MockEmbedder struct{}

// NewMockEmbedder constructs a MockEmbedder.
func NewMockEmbedder() *MockEmbedder { return &MockEmbedder{} }

// Embed implements Embedder.
func (e *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.Dimensions())
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) && r >= 'a' && r <= 'z' {
			vec[r-'a']++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

// Dimensions implements Embedder.
func (e *MockEmbedder) Dimensions() int { return 26 }

// Model implements Embedder.
func (e *MockEmbedder) Model() string { return "mock-letter-frequency" }
