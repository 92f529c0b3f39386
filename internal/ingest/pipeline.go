// Package ingest runs the document ingestion pipeline: validate, store,
// catalog, extract, chunk, embed, index. Every step that fails unwinds the
// steps before it so a document is either fully searchable or absent.
package ingest

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/blob"
	"github.com/combiphar/corpus/internal/observability"
	"github.com/combiphar/corpus/pkg/models"
)

// Catalog is the slice of the document store the pipeline needs.
type Catalog interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	DeleteDocumentsBySource(ctx context.Context, source models.SourceType) ([]*models.Document, error)
	StoredNameExists(ctx context.Context, storedName string) (bool, error)
}

// VectorIndex is the slice of the vector store the pipeline needs.
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []*models.Chunk) error
	DeleteByDocument(ctx context.Context, documentID string) (int64, error)
}

// Extractor turns a stored file into plain text. Empty text means nothing
// extractable.
type Extractor interface {
	ExtractText(ctx context.Context, path string) string
}

// Embedder is the slice of the embedding provider the pipeline needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Invalidator drops cached search results and document metadata after the
// corpus changes. A nil Invalidator disables invalidation.
type Invalidator interface {
	InvalidateSearch(ctx context.Context)
	InvalidateDocument(ctx context.Context, documentID string)
}

const defaultEmbedBatchSize = 1000

// PipelineConfig tunes the pipeline.
type PipelineConfig struct {
	// EmbedBatchSize caps how many chunks go to the embedder per call.
	EmbedBatchSize int
	// MaxFileBytes rejects uploads larger than this. Zero disables the cap.
	MaxFileBytes int64
}

// Pipeline ingests documents.
type Pipeline struct {
	catalog     Catalog
	blobs       *blob.Store
	extractor   Extractor
	chunker     *Chunker
	embedder    Embedder
	vectors     VectorIndex
	invalidator Invalidator
	batchSize   int
	maxBytes    int64
	logger      zerolog.Logger
}

// NewPipeline wires an ingestion pipeline.
func NewPipeline(catalog Catalog, blobs *blob.Store, extractor Extractor, embedder Embedder, vectors VectorIndex, invalidator Invalidator, cfg PipelineConfig) *Pipeline {
	batchSize := cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = defaultEmbedBatchSize
	}
	return &Pipeline{
		catalog:     catalog,
		blobs:       blobs,
		extractor:   extractor,
		chunker:     NewChunker(),
		embedder:    embedder,
		vectors:     vectors,
		invalidator: invalidator,
		batchSize:   batchSize,
		maxBytes:    cfg.MaxFileBytes,
		logger:      observability.Logger("ingest"),
	}
}

// Request describes one document to ingest.
type Request struct {
	OriginalFilename string
	Content          []byte
	Source           models.SourceType
	Metadata         map[string]interface{}
	UploadedBy       string
	ChatID           string
}

// Result reports what ingestion produced.
type Result struct {
	Document *models.Document
	Chunks   int
}

// Ingest runs the full pipeline for one document.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	if !models.ValidSourceType(string(req.Source)) {
		return nil, models.NewError(models.ErrBadInput, "unknown source type").
			WithDetails("source_type", string(req.Source))
	}
	if err := ValidateContent(req.OriginalFilename, req.Content, p.maxBytes); err != nil {
		return nil, err
	}

	storedName, err := p.newStoredName(ctx, req.OriginalFilename)
	if err != nil {
		return nil, err
	}

	path, err := p.blobs.Place(req.Source, req.ChatID, storedName, req.Content)
	if err != nil {
		return nil, models.Wrap(models.ErrStorage, "failed to store document file", err)
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:               uuid.NewString(),
		SourceType:       req.Source,
		OriginalFilename: req.OriginalFilename,
		StoredFilename:   storedName,
		StoragePath:      path,
		MimeType:         mimeFor(storedName),
		SizeBytes:        int64(len(req.Content)),
		Metadata:         req.Metadata,
		UploadedBy:       req.UploadedBy,
		ChatID:           req.ChatID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := p.catalog.CreateDocument(ctx, doc); err != nil {
		p.blobs.Remove(path)
		return nil, models.Wrap(models.ErrStorage, "failed to catalog document", err)
	}

	text := p.extractor.ExtractText(ctx, path)
	if strings.TrimSpace(text) == "" {
		p.rollback(ctx, doc, false)
		return nil, models.NewError(models.ErrExtraction, "no text could be extracted from document").
			WithDetails("filename", req.OriginalFilename)
	}

	texts := p.chunker.ChunkDocument(doc.DisplayName(), text)
	if len(texts) == 0 {
		p.rollback(ctx, doc, false)
		return nil, models.NewError(models.ErrExtraction, "document produced no chunks").
			WithDetails("filename", req.OriginalFilename)
	}

	chunks := p.buildChunks(doc, texts, now)
	if err := p.embedAndCommit(ctx, chunks); err != nil {
		p.rollback(ctx, doc, true)
		return nil, models.Wrap(models.ErrEmbedding, "failed to embed document", err).
			WithDetails("filename", req.OriginalFilename)
	}

	p.invalidate(ctx, doc.ID)

	observability.LogEvent(p.logger, observability.EventDocumentIngested, map[string]interface{}{
		"document_id":     doc.ID,
		"source_type":     string(req.Source),
		"stored_filename": storedName,
		"chunks":          len(chunks),
		"size_bytes":      doc.SizeBytes,
	})

	return &Result{Document: doc, Chunks: len(chunks)}, nil
}

// newStoredName derives a unique stored filename: a fresh UUID plus the
// lowercased original extension, regenerated on the off chance of a
// collision.
func (p *Pipeline) newStoredName(ctx context.Context, originalName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	for attempt := 0; attempt < 5; attempt++ {
		name := uuid.NewString() + ext
		exists, err := p.catalog.StoredNameExists(ctx, name)
		if err != nil {
			return "", models.Wrap(models.ErrStorage, "failed to check stored name", err)
		}
		if !exists {
			return name, nil
		}
	}
	return "", models.NewError(models.ErrInternal, "could not derive a unique stored filename")
}

// buildChunks attaches ids, indexes, and metadata to chunk texts. Source
// metadata is merged in but never overrides the system keys.
func (p *Pipeline) buildChunks(doc *models.Document, texts []string, now time.Time) []*models.Chunk {
	total := len(texts)
	chunks := make([]*models.Chunk, total)
	for i, text := range texts {
		metadata := map[string]interface{}{}
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		metadata["document_id"] = doc.ID
		metadata["stored_filename"] = doc.StoredFilename
		metadata["storage_path"] = doc.StoragePath
		metadata["source_type"] = string(doc.SourceType)
		metadata["chunk_index"] = i
		metadata["chunk_total"] = total
		metadata["created_at"] = now.Format(time.RFC3339)

		chunks[i] = &models.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Index:      i,
			Content:    text,
			Metadata:   metadata,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	return chunks
}

// embedAndCommit embeds chunks batch by batch and writes each batch to the
// index as soon as its vectors arrive.
func (p *Pipeline) embedAndCommit(ctx context.Context, chunks []*models.Chunk) error {
	for offset := 0; offset < len(chunks); offset += p.batchSize {
		end := offset + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[offset:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch at %d: %w", offset, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embed batch at %d: got %d vectors for %d chunks", offset, len(vectors), len(batch))
		}
		for i, vec := range vectors {
			batch[i].Embedding = vec
		}
		if err := p.vectors.Upsert(ctx, batch); err != nil {
			return fmt.Errorf("commit batch at %d: %w", offset, err)
		}
	}
	return nil
}

// Reembed rebuilds the vector rows of an existing catalog document from
// the file at path. Old chunks are dropped first so stale ids cannot
// linger. The catalog row is left as is.
func (p *Pipeline) Reembed(ctx context.Context, doc *models.Document, path string) (int, error) {
	text := p.extractor.ExtractText(ctx, path)
	if strings.TrimSpace(text) == "" {
		return 0, models.NewError(models.ErrExtraction, "no text could be extracted from document").
			WithDetails("filename", doc.OriginalFilename)
	}
	texts := p.chunker.ChunkDocument(doc.DisplayName(), text)
	if len(texts) == 0 {
		return 0, models.NewError(models.ErrExtraction, "document produced no chunks").
			WithDetails("filename", doc.OriginalFilename)
	}

	if _, err := p.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
		return 0, models.Wrap(models.ErrStorage, "failed to clear old vectors", err)
	}

	chunks := p.buildChunks(doc, texts, time.Now().UTC())
	if err := p.embedAndCommit(ctx, chunks); err != nil {
		return 0, models.Wrap(models.ErrEmbedding, "failed to embed document", err).
			WithDetails("filename", doc.OriginalFilename)
	}

	p.invalidate(ctx, doc.ID)
	return len(chunks), nil
}

// Delete removes a document everywhere: vectors, catalog row, stored file.
func (p *Pipeline) Delete(ctx context.Context, documentID string) error {
	doc, err := p.catalog.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if _, err := p.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
		return models.Wrap(models.ErrStorage, "failed to delete document vectors", err)
	}
	if err := p.catalog.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	if err := p.blobs.Remove(doc.StoragePath); err != nil {
		p.logger.Warn().Err(err).Str("path", doc.StoragePath).Msg("could not remove document file")
	}

	p.invalidate(ctx, doc.ID)

	observability.LogEvent(p.logger, observability.EventDocumentDeleted, map[string]interface{}{
		"document_id": doc.ID,
		"source_type": string(doc.SourceType),
	})
	return nil
}

// DeleteBySource removes every document of one source type and returns how
// many were deleted. Per-document cleanup failures are logged and counted,
// not fatal.
func (p *Pipeline) DeleteBySource(ctx context.Context, source models.SourceType) (int, error) {
	docs, err := p.catalog.DeleteDocumentsBySource(ctx, source)
	if err != nil {
		return 0, err
	}
	for _, doc := range docs {
		if _, err := p.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
			p.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("could not delete document vectors")
		}
		if err := p.blobs.Remove(doc.StoragePath); err != nil {
			p.logger.Warn().Err(err).Str("path", doc.StoragePath).Msg("could not remove document file")
		}
		p.invalidate(ctx, doc.ID)
	}
	return len(docs), nil
}

// rollback unwinds a partial ingestion. withVectors also clears any chunk
// batches committed before the failure.
func (p *Pipeline) rollback(ctx context.Context, doc *models.Document, withVectors bool) {
	if withVectors {
		if _, err := p.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
			p.logger.Error().Err(err).Str("document_id", doc.ID).Msg("rollback: could not delete vectors")
		}
	}
	if err := p.catalog.DeleteDocument(ctx, doc.ID); err != nil && !models.IsCode(err, models.ErrNotFound) {
		p.logger.Error().Err(err).Str("document_id", doc.ID).Msg("rollback: could not delete catalog row")
	}
	if err := p.blobs.Remove(doc.StoragePath); err != nil {
		p.logger.Error().Err(err).Str("path", doc.StoragePath).Msg("rollback: could not remove file")
	}

	observability.LogEvent(p.logger, observability.EventDocumentRolledBack, map[string]interface{}{
		"document_id":     doc.ID,
		"stored_filename": doc.StoredFilename,
	})
}

func (p *Pipeline) invalidate(ctx context.Context, documentID string) {
	if p.invalidator == nil {
		return
	}
	p.invalidator.InvalidateSearch(ctx)
	p.invalidator.InvalidateDocument(ctx, documentID)
}

// mimeFor resolves a content type from the stored extension.
func mimeFor(storedName string) string {
	if mt := mime.TypeByExtension(filepath.Ext(storedName)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
