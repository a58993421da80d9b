// Package vectorstore holds the knowledge corpus vectors: an in-memory
// cosine store for single-node use and pgvector for shared deployments.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/pkg/models"
)

// DefaultMaxVectors caps the embedded store.
const DefaultMaxVectors = 50_000

// EmbeddedStore is a brute-force cosine similarity store.
type EmbeddedStore struct {
	mu         sync.RWMutex
	corpora    map[string]map[string]*models.VectorDoc // corpus → id → doc
	total      int
	maxVectors int
}

// NewEmbeddedStore creates an in-memory store holding at most maxVectors
// documents (DefaultMaxVectors when <= 0).
func NewEmbeddedStore(maxVectors int) *EmbeddedStore {
	if maxVectors <= 0 {
		maxVectors = DefaultMaxVectors
	}
	log.Info().Int("max_vectors", maxVectors).Msg("Embedded vector store initialized")
	return &EmbeddedStore{corpora: map[string]map[string]*models.VectorDoc{}, maxVectors: maxVectors}
}

func (s *EmbeddedStore) Kind() string { return "embedded" }

// Upsert stores docs, assigning ids where missing. It is all-or-nothing
// with respect to capacity.
func (s *EmbeddedStore) Upsert(_ context.Context, docs []models.VectorDoc) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, d := range docs {
		if d.ID == "" {
			added++
			continue
		}
		if _, ok := s.corpora[d.Corpus][d.ID]; !ok {
			added++
		}
	}
	if s.total+added > s.maxVectors {
		return 0, fmt.Errorf("embedded vector store capacity exceeded: %d > %d (use pgvector)", s.total+added, s.maxVectors)
	}
	if s.total+added > s.maxVectors*9/10 {
		log.Warn().Int("count", s.total+added).Int("max", s.maxVectors).Msg("Embedded vector store nearing capacity")
	}

	now := time.Now().UTC()
	for _, d := range docs {
		cp := d
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		corpus, ok := s.corpora[cp.Corpus]
		if !ok {
			corpus = map[string]*models.VectorDoc{}
			s.corpora[cp.Corpus] = corpus
		}
		corpus[cp.ID] = &cp
	}
	s.total += added
	return len(docs), nil
}

// Search ranks a corpus by cosine similarity. Documents whose dimension
// differs from vector are ignored.
func (s *EmbeddedStore) Search(_ context.Context, corpus string, vector []float64, topK int) ([]models.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []models.SearchResult
	for _, d := range s.corpora[corpus] {
		if len(d.Vector) != len(vector) {
			continue
		}
		results = append(results, models.SearchResult{Doc: *d, Score: cosineSimilarity(vector, d.Vector)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Doc.ID < results[j].Doc.ID
		}
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *EmbeddedStore) Delete(_ context.Context, corpus string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.corpora[corpus]
	for _, id := range ids {
		if _, ok := docs[id]; ok {
			delete(docs, id)
			s.total--
		}
	}
	return nil
}

func (s *EmbeddedStore) Count(_ context.Context, corpus string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.corpora[corpus]), nil
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
