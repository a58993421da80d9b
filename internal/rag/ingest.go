package rag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/pkg/contracts"
	"github.com/agentoven/aria/pkg/models"
)

// Metadata keys stored alongside each chunk.
const (
	metaTitle     = "title"
	metaSource    = "source"
	metaSourceURL = "source_url"
	metaDocument  = "document_id"
	metaPosition  = "chunk_index"
)

// Ingester seeds a corpus: chunk, embed, upsert.
type Ingester struct {
	embedder contracts.EmbeddingDriver
	vectors  contracts.VectorStoreDriver
	corpus   string
	size     int
	overlap  int
}

// NewIngester creates an ingester writing into corpus.
func NewIngester(emb contracts.EmbeddingDriver, vs contracts.VectorStoreDriver, corpus string, chunkSize, chunkOverlap int) *Ingester {
	return &Ingester{embedder: emb, vectors: vs, corpus: corpus, size: chunkSize, overlap: chunkOverlap}
}

// Ingest chunks every document, embeds the chunks in one pass and upserts
// them. Re-ingesting a document with the same ID replaces its chunks
// position by position.
func (ing *Ingester) Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	start := time.Now()
	if len(req.Documents) == 0 {
		return &models.IngestResult{}, nil
	}

	size, overlap := ing.size, ing.overlap
	if req.ChunkSize > 0 {
		size = req.ChunkSize
	}
	if req.ChunkOverlap > 0 {
		overlap = req.ChunkOverlap
	}

	var docs []models.VectorDoc
	for _, d := range req.Documents {
		docID := d.ID
		if docID == "" {
			docID = uuid.NewString()
		}
		for i, piece := range Split(d.Content, size, overlap) {
			meta := make(map[string]string, len(d.Metadata)+5)
			for k, v := range d.Metadata {
				meta[k] = v
			}
			meta[metaTitle] = d.Title
			meta[metaSource] = d.Source
			meta[metaSourceURL] = d.SourceURL
			meta[metaDocument] = docID
			meta[metaPosition] = strconv.Itoa(i)
			docs = append(docs, models.VectorDoc{
				ID:       docID + "#" + strconv.Itoa(i),
				Corpus:   ing.corpus,
				Content:  piece,
				Metadata: meta,
			})
		}
	}
	if len(docs) == 0 {
		return &models.IngestResult{DocumentsProcessed: len(req.Documents), LatencyMs: time.Since(start).Milliseconds()}, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := ing.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, errors.New("embed chunks: vector count does not match chunk count")
	}
	for i := range docs {
		docs[i].Vector = vectors[i]
	}

	stored, err := ing.vectors.Upsert(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("upsert vectors: %w", err)
	}

	res := &models.IngestResult{
		DocumentsProcessed: len(req.Documents),
		ChunksCreated:      len(docs),
		VectorsStored:      stored,
		LatencyMs:          time.Since(start).Milliseconds(),
	}
	log.Info().
		Int("documents", res.DocumentsProcessed).
		Int("chunks", res.ChunksCreated).
		Str("corpus", ing.corpus).
		Str("vector_store", ing.vectors.Kind()).
		Int64("latency_ms", res.LatencyMs).
		Msg("📚 Knowledge ingested")
	return res, nil
}
