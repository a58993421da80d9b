package models

import "time"

// KnowledgeChunk is one retrieved passage.
type KnowledgeChunk struct {
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	Source    string  `json:"source"`
	SourceURL string  `json:"sourceUrl,omitempty"`
	Score     float64 `json:"score"`
}

// KnowledgeResult is the output of a retrieval call.
type KnowledgeResult struct {
	Chunks  []KnowledgeChunk `json:"chunks"`
	Context string           `json:"context"`
}

// KnowledgeDocument is a raw document to ingest into the corpus.
type KnowledgeDocument struct {
	ID        string            `json:"id,omitempty"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Source    string            `json:"source,omitempty"`
	SourceURL string            `json:"sourceUrl,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IngestRequest is the input to corpus ingestion.
type IngestRequest struct {
	Documents    []KnowledgeDocument `json:"documents"`
	ChunkSize    int                 `json:"chunk_size,omitempty"`
	ChunkOverlap int                 `json:"chunk_overlap,omitempty"`
}

// IngestResult is the output of corpus ingestion.
type IngestResult struct {
	DocumentsProcessed int   `json:"documents_processed"`
	ChunksCreated      int   `json:"chunks_created"`
	VectorsStored      int   `json:"vectors_stored"`
	LatencyMs          int64 `json:"latency_ms"`
}

// VectorDoc is a chunk stored in the vector index.
type VectorDoc struct {
	ID        string            `json:"id"`
	Corpus    string            `json:"corpus"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Vector    []float64         `json:"vector"`
	CreatedAt time.Time         `json:"created_at"`
}

// SearchResult is a single vector search result.
type SearchResult struct {
	Doc   VectorDoc `json:"doc"`
	Score float64   `json:"score"`
}
