package rag

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/pkg/contracts"
	"github.com/agentoven/aria/pkg/models"
)

// MinScore drops weakly related passages.
const MinScore = 0.2

// Retriever is the default contracts.KnowledgeRetriever.
type Retriever struct {
	embedder contracts.EmbeddingDriver
	vectors  contracts.VectorStoreDriver
	corpus   string
}

var _ contracts.KnowledgeRetriever = (*Retriever)(nil)

func NewRetriever(emb contracts.EmbeddingDriver, vs contracts.VectorStoreDriver, corpus string) *Retriever {
	return &Retriever{embedder: emb, vectors: vs, corpus: corpus}
}

// RetrieveKnowledge embeds query, searches the corpus and returns the top
// passages with a context text of at most maxChars runes (unbounded when
// maxChars <= 0). A passage that does not fit whole is cut, and later
// passages are dropped.
func (r *Retriever) RetrieveKnowledge(ctx context.Context, query string, topK, maxChars int) (*models.KnowledgeResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &models.KnowledgeResult{}, nil
	}
	if topK <= 0 {
		topK = 5
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return &models.KnowledgeResult{}, nil
	}
	hits, err := r.vectors.Search(ctx, r.corpus, vecs[0], topK)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", r.vectors.Kind(), err)
	}

	res := &models.KnowledgeResult{}
	var b strings.Builder
	remaining := maxChars
	for _, h := range hits {
		if h.Score < MinScore {
			continue
		}
		chunk := models.KnowledgeChunk{
			Title:     h.Doc.Metadata[metaTitle],
			Content:   h.Doc.Content,
			Source:    h.Doc.Metadata[metaSource],
			SourceURL: h.Doc.Metadata[metaSourceURL],
			Score:     h.Score,
		}
		entry := formatPassage(chunk)
		if b.Len() > 0 {
			entry = "\n\n" + entry
		}
		if maxChars > 0 {
			n := utf8.RuneCountInString(entry)
			if n > remaining {
				if remaining > 0 && len(res.Chunks) == 0 {
					b.WriteString(string([]rune(entry)[:remaining]))
					res.Chunks = append(res.Chunks, chunk)
				}
				break
			}
			remaining -= n
		}
		b.WriteString(entry)
		res.Chunks = append(res.Chunks, chunk)
	}
	res.Context = b.String()

	log.Debug().
		Str("corpus", r.corpus).
		Int("hits", len(hits)).
		Int("chunks", len(res.Chunks)).
		Msg("Knowledge retrieved")
	return res, nil
}

func formatPassage(c models.KnowledgeChunk) string {
	title := c.Title
	if title == "" {
		title = c.Source
	}
	if title == "" {
		return c.Content
	}
	return "[" + title + "] " + c.Content
}
