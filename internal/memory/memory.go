// Package memory is the semantic memory used to enrich turns: a knowledge
// base about the assistant and past exchanges, searched by embedding
// similarity.
package memory

import (
	"context"
	"time"
)

// Kind separates knowledge entries from remembered conversations.
type Kind string

const (
	KindKnowledge    Kind = "knowledge"
	KindConversation Kind = "conversation"
)

// Entry is one stored document.
type Entry struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Match is an entry scored against a query. Similarity is cosine similarity
// in [-1, 1].
type Match struct {
	Entry
	Similarity float64 `json:"similarity"`
}

// Embedder turns texts into vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}
