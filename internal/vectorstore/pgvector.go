package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/pkg/models"
)

// PgvectorStore keeps the corpus in PostgreSQL with the pgvector extension.
type PgvectorStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPgvectorStore connects and creates the table and index if needed.
func NewPgvectorStore(ctx context.Context, connURL string, dimensions int) (*PgvectorStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}

	s := &PgvectorStore{pool: pool, dimensions: dimensions}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}
	log.Info().Int("dims", dimensions).Msg("pgvector store initialized")
	return s, nil
}

func (s *PgvectorStore) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS aria_knowledge (
			corpus     TEXT NOT NULL,
			id         TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			metadata   JSONB NOT NULL DEFAULT '{}',
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (corpus, id)
		);

		CREATE INDEX IF NOT EXISTS idx_aria_knowledge_corpus ON aria_knowledge (corpus);
	`, s.dimensions)
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PgvectorStore) Kind() string { return "pgvector" }

const upsertSQL = `INSERT INTO aria_knowledge (corpus, id, content, metadata, embedding, created_at)
	VALUES ($1, $2, $3, $4, $5::vector, $6)
	ON CONFLICT (corpus, id) DO UPDATE SET
		content = EXCLUDED.content,
		metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding`

// Upsert writes docs in one batch.
func (s *PgvectorStore) Upsert(ctx context.Context, docs []models.VectorDoc) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, d := range docs {
		if len(d.Vector) != s.dimensions {
			return 0, fmt.Errorf("pgvector: vector has %d dimensions, store expects %d", len(d.Vector), s.dimensions)
		}
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		created := d.CreatedAt
		if created.IsZero() {
			created = now
		}
		meta := d.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		batch.Queue(upsertSQL, d.Corpus, id, d.Content, meta, vectorLiteral(d.Vector), created)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("pgvector upsert: %w", err)
	}
	return len(docs), nil
}

// Search orders by cosine distance.
func (s *PgvectorStore) Search(ctx context.Context, corpus string, vector []float64, topK int) ([]models.SearchResult, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, corpus, content, metadata, created_at, 1 - (embedding <=> $1::vector) AS score
		FROM aria_knowledge
		WHERE corpus = $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`, vectorLiteral(vector), corpus, topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.Doc.ID, &r.Doc.Corpus, &r.Doc.Content, &r.Doc.Metadata, &r.Doc.CreatedAt, &r.Score); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PgvectorStore) Delete(ctx context.Context, corpus string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, "DELETE FROM aria_knowledge WHERE corpus = $1 AND id = ANY($2)", corpus, ids)
	return err
}

func (s *PgvectorStore) Count(ctx context.Context, corpus string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM aria_knowledge WHERE corpus = $1", corpus).Scan(&count)
	return count, err
}

// Close releases the connection pool.
func (s *PgvectorStore) Close() {
	s.pool.Close()
}

// vectorLiteral renders pgvector's text format: [1,2.5,3].
func vectorLiteral(v []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	sb.WriteByte(']')
	return sb.String()
}
