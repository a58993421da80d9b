// Package contracts defines the collaborator interfaces the ARIA engine
// consumes. Concrete implementations live under internal/; hosts may swap
// any of them in the wiring code (pkg/server).
package contracts

import (
	"context"

	"github.com/agentoven/aria/pkg/models"
)

// ── LLM ─────────────────────────────────────────────────────

// Completer is one LLM call bound to a resolved provider chain.
// OSS implementation: fallback.Binding
type Completer interface {
	Complete(ctx context.Context, msgs []models.ChatMessage, opts models.CompletionOptions) (string, error)
}

// StreamCompleter is a Completer that can also emit incremental chunks.
// onChunk is called from the caller's goroutine, in order.
type StreamCompleter interface {
	Completer
	CompleteStream(ctx context.Context, msgs []models.ChatMessage, opts models.CompletionOptions, onChunk func(string)) (string, error)
}

// ── Knowledge ───────────────────────────────────────────────

// KnowledgeRetriever returns passages relevant to a query.
// OSS implementation: internal/rag.Retriever
type KnowledgeRetriever interface {
	RetrieveKnowledge(ctx context.Context, query string, topK, maxChars int) (*models.KnowledgeResult, error)
}

// ── Territory Data ──────────────────────────────────────────

// EntitySearcher is the host's generic entity search.
type EntitySearcher interface {
	Search(ctx context.Context, query string) (*models.EntitySearchResult, error)
}

// ActionGenerator produces recommended next actions.
type ActionGenerator interface {
	GenerateActions(ctx context.Context, opts models.ActionOptions) ([]models.Action, error)
}

// ── Embeddings & Vector Store ───────────────────────────────

// EmbeddingDriver turns text into vectors.
// OSS ships: Ollama, OpenAI.
type EmbeddingDriver interface {
	// Kind returns the driver identifier (e.g., "openai", "ollama").
	Kind() string

	// Embed returns one vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the vector size.
	Dimensions() int
}

// VectorStoreDriver stores and searches embedded chunks.
// OSS ships: embedded (in-memory cosine), pgvector.
type VectorStoreDriver interface {
	// Kind returns the backend identifier.
	Kind() string

	// Upsert inserts or replaces documents.
	Upsert(ctx context.Context, docs []models.VectorDoc) (int, error)

	// Search returns the topK most similar documents in a corpus.
	Search(ctx context.Context, corpus string, vector []float64, topK int) ([]models.SearchResult, error)

	// Delete removes documents by id.
	Delete(ctx context.Context, corpus string, ids []string) error

	// Count returns the number of documents in a corpus.
	Count(ctx context.Context, corpus string) (int, error)
}
