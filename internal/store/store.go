// Package store provides Postgres database operations for Corpus.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for Corpus. The catalog, the vector
// rows, sync state, and sync logs all live in one Postgres database so
// retrieval can join them.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
}

// New connects to Postgres and runs pending migrations. dimension sizes
// the embedding column and must match the configured embedder.
func New(ctx context.Context, databaseURL string, maxConns int32, dimension int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{pool: pool, dimension: dimension}

	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return store, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Dimension returns the embedding dimension the schema was created with.
func (s *Store) Dimension() int {
	return s.dimension
}

// Health checks database connectivity.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// migrate runs all pending database migrations.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	if currentVersion < 1 {
		if err := s.runMigration001(ctx); err != nil {
			return fmt.Errorf("run migration 001: %w", err)
		}
	}

	if currentVersion < 2 {
		if err := s.runMigration002(ctx); err != nil {
			return fmt.Errorf("run migration 002: %w", err)
		}
	}

	if currentVersion < 3 {
		if err := s.runMigration003(ctx); err != nil {
			return fmt.Errorf("run migration 003: %w", err)
		}
	}

	return nil
}

// runMigration001 creates the catalog, sync state, sync log, and
// permission mapping tables.
func (s *Store) runMigration001(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Document catalog
	_, err = tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			source_type TEXT NOT NULL CHECK (source_type IN ('portal', 'admin', 'user', 'website')),
			original_filename TEXT NOT NULL,
			stored_filename TEXT NOT NULL UNIQUE,
			storage_path TEXT NOT NULL,
			mime_type TEXT NOT NULL DEFAULT 'application/octet-stream',
			size_bytes BIGINT NOT NULL DEFAULT 0,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			uploaded_by TEXT,
			chat_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return err
	}

	// Sync job state, one row per job name
	_, err = tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS document_sync (
			job_name TEXT PRIMARY KEY,
			state TEXT NOT NULL DEFAULT 'idle',
			trigger_source TEXT,
			triggered_by TEXT,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			runtime_seconds DOUBLE PRECISION,
			result JSONB,
			error TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return err
	}

	// Sync run headers
	_, err = tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sync_logs (
			id BIGSERIAL PRIMARY KEY,
			sync_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			total_documents INTEGER NOT NULL DEFAULT 0,
			successful_documents INTEGER NOT NULL DEFAULT 0,
			failed_documents INTEGER NOT NULL DEFAULT 0,
			total_websites INTEGER NOT NULL DEFAULT 0,
			successful_websites INTEGER NOT NULL DEFAULT 0,
			failed_websites INTEGER NOT NULL DEFAULT 0,
			trigger_source TEXT,
			triggered_by TEXT,
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			finished_at TIMESTAMPTZ,
			runtime_seconds DOUBLE PRECISION,
			error_message TEXT,
			metadata JSONB
		)
	`)
	if err != nil {
		return err
	}

	// Per-item sync outcomes
	_, err = tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sync_log_details (
			id BIGSERIAL PRIMARY KEY,
			sync_log_id BIGINT NOT NULL REFERENCES sync_logs(id) ON DELETE CASCADE,
			item_type TEXT NOT NULL DEFAULT 'document',
			item_url TEXT,
			item_source TEXT,
			document_title TEXT,
			document_filename TEXT,
			document_id TEXT,
			status TEXT NOT NULL,
			error_message TEXT,
			file_size BIGINT,
			metadata JSONB,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return err
	}

	// Portal permission mapping
	_, err = tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users_documents (
			users_id TEXT NOT NULL,
			documents_id UUID NOT NULL,
			PRIMARY KEY (users_id, documents_id)
		)
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source_type);
		CREATE INDEX IF NOT EXISTS idx_documents_chat ON documents(chat_id) WHERE chat_id IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_documents_meta_filename ON documents((metadata->>'FileName'));
		CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_website_url ON documents((metadata->>'url')) WHERE source_type = 'website';
		CREATE INDEX IF NOT EXISTS idx_sync_details_log ON sync_log_details(sync_log_id);
		CREATE INDEX IF NOT EXISTS idx_users_documents_user ON users_documents(users_id);
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, "INSERT INTO migrations (version) VALUES (1)")
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// runMigration002 creates the vector extension and the chunk table. The
// embedding column width is fixed at schema creation time.
func (s *Store) runMigration002(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS documents_vectors (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL,
			chunk_index INTEGER NOT NULL DEFAULT 0,
			content TEXT NOT NULL,
			embedding vector(%d),
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (document_id, chunk_index)
		)
	`, s.dimension))
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_vectors_document ON documents_vectors(document_id);
		CREATE INDEX IF NOT EXISTS idx_vectors_meta_stored ON documents_vectors((metadata->>'stored_filename'));
	`)
	if err != nil {
		return err
	}

	// ivfflat needs data to pick good centroids but creating it empty is
	// fine for correctness; guard so reruns do not fail.
	_, err = tx.Exec(ctx, `
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM pg_indexes
				WHERE schemaname = current_schema() AND indexname = 'idx_vectors_embedding'
			) THEN
				CREATE INDEX idx_vectors_embedding ON documents_vectors
				USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
			END IF;
		END
		$$;
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, "INSERT INTO migrations (version) VALUES (2)")
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// runMigration003 installs the DB-side hybrid search helper used as a
// fallback when the dense-only candidate fetch comes back empty.
func (s *Store) runMigration003(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		CREATE OR REPLACE FUNCTION search_hybrid_vectors(
			query_embedding vector,
			query_text text,
			match_count integer,
			min_similarity double precision,
			vector_weight double precision
		) RETURNS TABLE (
			id uuid,
			document_id uuid,
			chunk_index integer,
			content text,
			metadata jsonb,
			similarity double precision,
			combined_score double precision
		) AS $$
			SELECT
				v.id,
				v.document_id,
				v.chunk_index,
				v.content,
				v.metadata,
				1 - (v.embedding <=> query_embedding) AS similarity,
				vector_weight * (1 - (v.embedding <=> query_embedding))
					+ (1 - vector_weight) * ts_rank_cd(
						to_tsvector('simple', v.content),
						plainto_tsquery('simple', query_text)
					) AS combined_score
			FROM documents_vectors v
			WHERE 1 - (v.embedding <=> query_embedding) >= min_similarity
				OR to_tsvector('simple', v.content) @@ plainto_tsquery('simple', query_text)
			ORDER BY combined_score DESC
			LIMIT match_count
		$$ LANGUAGE sql STABLE;
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, "INSERT INTO migrations (version) VALUES (3)")
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// isUndefinedColumn reports whether err is Postgres undefined_column,
// which signals a legacy sync log schema without the website-aware
// columns.
func isUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42703"
}
