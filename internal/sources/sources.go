// Package sources feeds the ingestion pipeline from the corpus origins:
// the employee portal, the public websites, and operator or chat uploads.
// The portal and website adapters are idempotent; they skip items whose
// stored artifacts are already complete and reprocess the rest. Per-item
// failures are reported to the sync logger and never abort a run.
package sources

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/ingest"
	"github.com/combiphar/corpus/pkg/models"
)

// Ingestor is the slice of the ingestion pipeline the adapters drive.
type Ingestor interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// Catalog is the slice of the document store the adapters need for
// idempotency lookups and reprocessing.
type Catalog interface {
	FindDocumentByMeta(ctx context.Context, source models.SourceType, key, value string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// VectorIndex is the slice of the vector store the adapters need.
type VectorIndex interface {
	CountByDocument(ctx context.Context, documentID string) (int64, error)
	DeleteByMetadata(ctx context.Context, key, value string) (int64, error)
}

// Blobs is the slice of the blob store the adapters need.
type Blobs interface {
	Exists(path string) bool
	Remove(path string) error
}

// Reporter receives one detail row per processed or failed item. Skipped
// items are not reported; they only show up in the Summary. A nil Reporter
// discards details.
type Reporter interface {
	Report(ctx context.Context, detail *models.SyncLogDetail)
}

// Summary aggregates one adapter pass. Processed counts items that were
// actually ingested; skipped items were examined and found current.
type Summary struct {
	Processed int           `json:"processed"`
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// report forwards a detail row when a reporter is attached.
func report(ctx context.Context, rep Reporter, detail *models.SyncLogDetail) {
	if rep != nil {
		rep.Report(ctx, detail)
	}
}

// removeDocument clears a stale document's artifacts in reverse commit
// order: vectors keyed by the stored name first, then the catalog row,
// then the file.
func removeDocument(ctx context.Context, catalog Catalog, vectors VectorIndex, blobs Blobs, doc *models.Document, logger zerolog.Logger) error {
	if _, err := vectors.DeleteByMetadata(ctx, "stored_filename", doc.StoredFilename); err != nil {
		return models.Wrap(models.ErrStorage, "could not delete stale vectors", err)
	}
	if err := catalog.DeleteDocument(ctx, doc.ID); err != nil && !models.IsCode(err, models.ErrNotFound) {
		return models.Wrap(models.ErrStorage, "could not delete stale catalog row", err)
	}
	if err := blobs.Remove(doc.StoragePath); err != nil {
		logger.Warn().Err(err).Str("path", doc.StoragePath).Msg("could not remove stale file")
	}
	return nil
}
