package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/combiphar/corpus/pkg/models"
)

const documentColumns = `
	id, source_type, original_filename, stored_filename, storage_path,
	mime_type, size_bytes, metadata, uploaded_by, chat_id,
	created_at, updated_at`

// CreateDocument inserts a new catalog row.
func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) error {
	metadata, _ := json.Marshal(doc.Metadata)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (
			id, source_type, original_filename, stored_filename, storage_path,
			mime_type, size_bytes, metadata, uploaded_by, chat_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
	`,
		doc.ID,
		doc.SourceType,
		doc.OriginalFilename,
		doc.StoredFilename,
		doc.StoragePath,
		doc.MimeType,
		doc.SizeBytes,
		metadata,
		nullable(doc.UploadedBy),
		nullable(doc.ChatID),
	)

	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}

	return nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id = $1
	`, id)

	return scanDocument(row)
}

// GetDocumentByStoredName retrieves a document by its opaque stored name.
func (s *Store) GetDocumentByStoredName(ctx context.Context, storedName string) (*models.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE stored_filename = $1
	`, storedName)

	return scanDocument(row)
}

// FindDocumentByMeta retrieves the first document of the given source whose
// metadata key equals value. Used for portal FileName and website url
// idempotency lookups.
func (s *Store) FindDocumentByMeta(ctx context.Context, source models.SourceType, key, value string) (*models.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE source_type = $1 AND metadata->>$2 = $3
		ORDER BY created_at DESC
		LIMIT 1
	`, source, key, value)

	return scanDocument(row)
}

// StoredNameExists reports whether a catalog row already claims the name.
func (s *Store) StoredNameExists(ctx context.Context, storedName string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE stored_filename = $1)`,
		storedName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("stored name lookup: %w", err)
	}
	return exists, nil
}

// ListDocuments returns documents, optionally filtered by source type.
func (s *Store) ListDocuments(ctx context.Context, source models.SourceType, limit, offset int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows pgx.Rows
		err  error
	)
	if source == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT `+documentColumns+`
			FROM documents
			ORDER BY created_at DESC
			LIMIT $1 OFFSET $2
		`, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+documentColumns+`
			FROM documents
			WHERE source_type = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		`, source, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// ListDocumentsBySources returns all documents whose source is in sources.
// Used by the reconciler, which needs the full set, not a page.
func (s *Store) ListDocumentsBySources(ctx context.Context, sources []models.SourceType) ([]*models.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE source_type = ANY($1)
		ORDER BY created_at
	`, sources)
	if err != nil {
		return nil, fmt.Errorf("list documents by sources: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// ListDocumentsByChat returns the documents attached to one chat.
func (s *Store) ListDocumentsByChat(ctx context.Context, chatID string) ([]*models.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE chat_id = $1
		ORDER BY created_at
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list documents by chat: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// UpdateDocumentMetadata replaces the metadata JSON of a document.
func (s *Store) UpdateDocumentMetadata(ctx context.Context, id string, metadata map[string]interface{}) error {
	data, _ := json.Marshal(metadata)

	tag, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET metadata = $1, updated_at = now()
		WHERE id = $2
	`, data, id)
	if err != nil {
		return fmt.Errorf("update document metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NewError(models.ErrNotFound, "document not found").WithDetails("document_id", id)
	}

	return nil
}

// DeleteDocument removes a catalog row.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NewError(models.ErrNotFound, "document not found").WithDetails("document_id", id)
	}

	return nil
}

// DeleteDocumentsBySource removes every catalog row of one source type and
// returns the deleted documents so callers can clean files and vectors.
func (s *Store) DeleteDocumentsBySource(ctx context.Context, source models.SourceType) ([]*models.Document, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM documents
		WHERE source_type = $1
		RETURNING `+documentColumns+`
	`, source)
	if err != nil {
		return nil, fmt.Errorf("delete documents by source: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deleted document: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// CatalogStats returns document counts and byte totals.
func (s *Store) CatalogStats(ctx context.Context) (*models.CatalogStats, error) {
	stats := &models.CatalogStats{
		BySource: make(map[models.SourceType]int64),
	}

	rows, err := s.pool.Query(ctx, `
		SELECT source_type, COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM documents
		GROUP BY source_type
	`)
	if err != nil {
		return nil, fmt.Errorf("catalog stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			source models.SourceType
			count  int64
			bytes  int64
		)
		if err := rows.Scan(&source, &count, &bytes); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.BySource[source] = count
		stats.TotalDocuments += count
		stats.TotalBytes += bytes
	}

	return stats, rows.Err()
}

// Helper functions

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanDocumentInto(sc scannable) (*models.Document, error) {
	var (
		doc        models.Document
		metadata   []byte
		uploadedBy *string
		chatID     *string
		createdAt  time.Time
		updatedAt  time.Time
	)

	err := sc.Scan(
		&doc.ID,
		&doc.SourceType,
		&doc.OriginalFilename,
		&doc.StoredFilename,
		&doc.StoragePath,
		&doc.MimeType,
		&doc.SizeBytes,
		&metadata,
		&uploadedBy,
		&chatID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.CreatedAt = createdAt
	doc.UpdatedAt = updatedAt

	if len(metadata) > 0 {
		json.Unmarshal(metadata, &doc.Metadata)
	}
	if uploadedBy != nil {
		doc.UploadedBy = *uploadedBy
	}
	if chatID != nil {
		doc.ChatID = *chatID
	}

	return &doc, nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	doc, err := scanDocumentInto(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewError(models.ErrNotFound, "document not found")
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func scanDocumentRows(rows pgx.Rows) (*models.Document, error) {
	return scanDocumentInto(rows)
}
