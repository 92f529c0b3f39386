// Package vector wraps the pgvector-backed chunk index. It owns the
// documents_vectors rows; documents remain owned by the catalog and are
// only joined for filtering.
package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/observability"
	"github.com/combiphar/corpus/pkg/models"
)

// Store performs vector-row DML and similarity queries.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
	logger    zerolog.Logger
}

// New creates a vector store over an existing pool. The schema is created
// by the store migrations; dimension must match it.
func New(pool *pgxpool.Pool, dimension int) *Store {
	return &Store{
		pool:      pool,
		dimension: dimension,
		logger:    observability.Logger("vector"),
	}
}

// Dimension returns the configured embedding dimension.
func (s *Store) Dimension() int {
	return s.dimension
}

// Candidate is a chunk row joined with the catalog fields retrieval
// filters and ranks on.
type Candidate struct {
	models.Chunk
	Similarity       float64
	SourceType       models.SourceType
	StoredFilename   string
	OriginalFilename string
	DocumentMetadata map[string]interface{}
}

// DocKey identifies the owning document for deduplication, preferring the
// stored name, then the recorded source, then a content prefix.
func (c *Candidate) DocKey() string {
	if c.StoredFilename != "" {
		return c.StoredFilename
	}
	if src, ok := c.Metadata["document_source"].(string); ok && src != "" {
		return src
	}
	if len(c.Content) > 64 {
		return c.Content[:64]
	}
	return c.Content
}

// Upsert writes chunk rows in one batch, updating content, embedding,
// metadata, and index on id conflicts.
func (s *Store) Upsert(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	for _, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return models.NewError(models.ErrEmbedding, "embedding dimension mismatch").
				WithDetails("want", s.dimension).
				WithDetails("got", len(c.Embedding))
		}
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		metadata, _ := json.Marshal(c.Metadata)
		batch.Queue(`
			INSERT INTO documents_vectors (id, document_id, chunk_index, content, embedding, metadata, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				metadata = EXCLUDED.metadata,
				chunk_index = EXCLUDED.chunk_index,
				updated_at = now()
		`, c.ID, c.DocumentID, c.Index, c.Content, pgvector.NewVector(c.Embedding), metadata)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert chunk batch: %w", err)
		}
	}

	s.logger.Debug().Int("chunks", len(chunks)).Msg("upserted vector rows")
	return nil
}

// DeleteByDocument removes all chunks of one document.
func (s *Store) DeleteByDocument(ctx context.Context, documentID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents_vectors WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("delete vectors by document: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByMetadata removes chunks whose metadata key equals value, e.g.
// stored_filename or portal_id.
func (s *Store) DeleteByMetadata(ctx context.Context, key, value string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents_vectors WHERE metadata->>$1 = $2`, key, value)
	if err != nil {
		return 0, fmt.Errorf("delete vectors by metadata: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAll purges every chunk row.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents_vectors`)
	if err != nil {
		return 0, fmt.Errorf("delete all vectors: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountByDocument returns the number of chunks for one document id.
func (s *Store) CountByDocument(ctx context.Context, documentID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents_vectors WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count vectors by document: %w", err)
	}
	return count, nil
}

// CountByStoredName returns the number of chunks carrying the stored name.
func (s *Store) CountByStoredName(ctx context.Context, storedName string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents_vectors WHERE metadata->>'stored_filename' = $1`, storedName).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count vectors by stored name: %w", err)
	}
	return count, nil
}

// Stats returns index totals.
func (s *Store) Stats(ctx context.Context) (*models.VectorStats, error) {
	stats := &models.VectorStats{Dimension: s.dimension}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT document_id) FROM documents_vectors
	`).Scan(&stats.TotalChunks, &stats.DistinctDocuments)
	if err != nil {
		return nil, fmt.Errorf("vector stats: %w", err)
	}
	return stats, nil
}

// SearchFilter scopes similarity queries. An empty SourceTypes slice means
// all sources, which hides user uploads unless they are requested
// explicitly.
type SearchFilter struct {
	SourceTypes  []models.SourceType
	PortalDocIDs []string
	ChatID       string
}

// buildWhere appends filter conditions and returns the SQL fragment.
func (f SearchFilter) buildWhere(conds []string, args []interface{}) ([]string, []interface{}) {
	if len(f.SourceTypes) > 0 {
		args = append(args, f.SourceTypes)
		conds = append(conds, fmt.Sprintf("d.source_type = ANY($%d)", len(args)))
	} else {
		conds = append(conds, "d.source_type <> 'user'")
	}

	if f.PortalDocIDs != nil {
		args = append(args, f.PortalDocIDs)
		conds = append(conds, fmt.Sprintf("(d.source_type <> 'portal' OR d.id = ANY($%d))", len(args)))
	}

	if f.ChatID != "" {
		args = append(args, f.ChatID)
		conds = append(conds, fmt.Sprintf("d.chat_id = $%d", len(args)))
	}

	return conds, args
}

const candidateColumns = `
	v.id, v.document_id, v.chunk_index, v.content, v.metadata,
	d.source_type, d.stored_filename, d.original_filename, d.metadata`

// sourcePreference orders results portal first, user uploads last.
const sourcePreference = `
	CASE d.source_type
		WHEN 'portal' THEN 0
		WHEN 'website' THEN 1
		WHEN 'admin' THEN 2
		ELSE 3
	END`

// SearchDense returns candidates by cosine similarity, joined to the
// catalog and scoped by filter, thresholded at minScore.
func (s *Store) SearchDense(ctx context.Context, embedding []float32, filter SearchFilter, minScore float64, limit int) ([]*Candidate, error) {
	if len(embedding) != s.dimension {
		return nil, models.NewError(models.ErrEmbedding, "query embedding dimension mismatch").
			WithDetails("want", s.dimension).
			WithDetails("got", len(embedding))
	}
	if limit <= 0 {
		limit = 10
	}

	args := []interface{}{pgvector.NewVector(embedding), minScore}
	conds := []string{"1 - (v.embedding <=> $1) >= $2"}
	conds, args = filter.buildWhere(conds, args)
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s, 1 - (v.embedding <=> $1) AS similarity
		FROM documents_vectors v
		JOIN documents d ON d.id = v.document_id
		WHERE %s
		ORDER BY %s, v.embedding <=> $1
		LIMIT $%d
	`, candidateColumns, strings.Join(conds, " AND "), sourcePreference, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows)
}

// SearchHybridDB runs the DB-side dense+lexical fallback through the
// search_hybrid_vectors SQL function, then joins the catalog for
// filtering.
func (s *Store) SearchHybridDB(ctx context.Context, embedding []float32, queryText string, filter SearchFilter, minSimilarity, vectorWeight float64, limit int) ([]*Candidate, error) {
	if len(embedding) != s.dimension {
		return nil, models.NewError(models.ErrEmbedding, "query embedding dimension mismatch").
			WithDetails("want", s.dimension).
			WithDetails("got", len(embedding))
	}
	if limit <= 0 {
		limit = 10
	}

	args := []interface{}{pgvector.NewVector(embedding), queryText, limit, minSimilarity, vectorWeight}
	conds := []string{"TRUE"}
	conds, args = filter.buildWhere(conds, args)

	query := fmt.Sprintf(`
		SELECT h.id, h.document_id, h.chunk_index, h.content, h.metadata,
			d.source_type, d.stored_filename, d.original_filename, d.metadata,
			h.similarity
		FROM search_hybrid_vectors($1, $2, $3, $4, $5) h
		JOIN documents d ON d.id = h.document_id
		WHERE %s
		ORDER BY h.combined_score DESC
	`, strings.Join(conds, " AND "))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hybrid db search: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows)
}

// AttachmentChunks returns the chunks owned by one chat's documents. With
// an embedding they are scored and thresholded; without one they come
// back in (stored_filename, chunk_index) order carrying a synthetic score
// so attachments rank ahead of corpus hits.
func (s *Store) AttachmentChunks(ctx context.Context, chatID string, sources []models.SourceType, embedding []float32, minScore float64, limit int) ([]*Candidate, error) {
	if limit <= 0 {
		limit = 50
	}
	filter := SearchFilter{SourceTypes: sources, ChatID: chatID}
	if len(sources) == 0 {
		// Attachments are user uploads; an empty filter must not hide them.
		filter.SourceTypes = []models.SourceType{models.SourceUser}
	}

	if embedding != nil {
		return s.SearchDense(ctx, embedding, filter, minScore, limit)
	}

	args := []interface{}{}
	conds := []string{}
	conds, args = filter.buildWhere(conds, args)
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s, 1.0 AS similarity
		FROM documents_vectors v
		JOIN documents d ON d.id = v.document_id
		WHERE %s
		ORDER BY d.stored_filename, v.chunk_index
		LIMIT $%d
	`, candidateColumns, strings.Join(conds, " AND "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("attachment chunks: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows)
}

func scanCandidates(rows pgx.Rows) ([]*Candidate, error) {
	var out []*Candidate
	for rows.Next() {
		var (
			c         Candidate
			chunkMeta []byte
			docMeta   []byte
		)
		err := rows.Scan(
			&c.ID, &c.DocumentID, &c.Index, &c.Content, &chunkMeta,
			&c.SourceType, &c.StoredFilename, &c.OriginalFilename, &docMeta,
			&c.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if len(chunkMeta) > 0 {
			json.Unmarshal(chunkMeta, &c.Metadata)
		}
		if len(docMeta) > 0 {
			json.Unmarshal(docMeta, &c.DocumentMetadata)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
