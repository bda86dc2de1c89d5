package core

import "time"

// Memory is a distilled, embedded text record representing something a
// learner agent knows or experienced. Content is always a distilled summary,
// never raw source text; Embedding has the fixed dimensionality of
// EmbeddingModel. After creation a memory is read-mostly: only the
// access-tracking fields mutate, and only through Store.TouchMemories.
type Memory struct {
	ID             string
	UserID         string // owning agent
	Content        string
	Embedding      []float32
	EmbeddingModel string
	Importance     float64
	Source         string // e.g. "step", "episode", "profile"
	SourceID       string
	AccessCount    int
	LastAccessed   time.Time
	CreatedAt      time.Time
}

// Memory sources written by the engine.
const (
	MemorySourceStep    = "step"
	MemorySourceEpisode = "episode"
	MemorySourceProfile = "profile"
)
