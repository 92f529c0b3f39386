// Package reconcile repairs drift between the blob store, the document
// catalog, and the vector index. Both passes work on the managed source
// directories (portal and website); uploads and admin documents are
// never touched.
package reconcile

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/observability"
	"github.com/combiphar/corpus/pkg/models"
)

// Catalog is the slice of the document store the reconciler needs.
type Catalog interface {
	ListDocumentsBySources(ctx context.Context, sources []models.SourceType) ([]*models.Document, error)
	CreateDocument(ctx context.Context, doc *models.Document) error
}

// Blobs is the slice of the blob store the reconciler needs.
type Blobs interface {
	ListSource(source models.SourceType) ([]string, error)
	PathFor(source models.SourceType, chatID, storedName string) string
	Exists(path string) bool
	Remove(path string) error
}

// Reembedder rebuilds a document's vectors from a file on disk.
type Reembedder interface {
	Reembed(ctx context.Context, doc *models.Document, path string) (int, error)
}

var managedSources = []models.SourceType{models.SourcePortal, models.SourceWebsite}

// Reconciler checks the blob directories against the catalog and fixes
// what it can.
type Reconciler struct {
	catalog  Catalog
	blobs    Blobs
	pipeline Reembedder
	logger   zerolog.Logger
}

// New wires a reconciler.
func New(catalog Catalog, blobs Blobs, pipeline Reembedder) *Reconciler {
	return &Reconciler{
		catalog:  catalog,
		blobs:    blobs,
		pipeline: pipeline,
		logger:   observability.Logger("reconcile"),
	}
}

// CleanupOrphans deletes files under the managed source directories that
// no catalog row references, matching rows either by
// (source_type, stored_filename) or by the recorded storage path.
func (r *Reconciler) CleanupOrphans(ctx context.Context) (*models.ReconcileReport, error) {
	report := &models.ReconcileReport{}

	docs, err := r.catalog.ListDocumentsBySources(ctx, managedSources)
	if err != nil {
		return nil, models.Wrap(models.ErrStorage, "could not list catalog rows", err)
	}
	byName := make(map[string]bool, len(docs))
	byPath := make(map[string]bool, len(docs))
	for _, doc := range docs {
		byName[string(doc.SourceType)+"/"+doc.StoredFilename] = true
		if doc.StoragePath != "" {
			byPath[doc.StoragePath] = true
		}
	}

	for _, source := range managedSources {
		files, err := r.blobs.ListSource(source)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("list %s files: %v", source, err))
			continue
		}
		for _, path := range files {
			report.Checked++
			if byName[string(source)+"/"+filepath.Base(path)] || byPath[path] {
				report.Kept++
				continue
			}
			if err := r.blobs.Remove(path); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("remove %s: %v", path, err))
				continue
			}
			report.Deleted++
			r.logger.Info().Str("path", path).Str("source", string(source)).Msg("deleted orphan file")
		}
	}

	observability.LogEvent(r.logger, observability.EventReconcileCompleted, map[string]interface{}{
		"operation": "cleanup_orphans",
		"checked":   report.Checked,
		"kept":      report.Kept,
		"deleted":   report.Deleted,
		"errors":    len(report.Errors),
	})
	return report, nil
}

// EmbedRepair restores vector coverage in two passes. Pass one walks the
// catalog: rows whose canonical file is gone are re-embedded from the
// recorded storage path when that copy survives. Pass two walks the
// directories: files without any row get a minimal catalog row and are
// then embedded. With dryRun set, both passes only count what they would
// have done.
func (r *Reconciler) EmbedRepair(ctx context.Context, dryRun bool) (*models.RepairReport, error) {
	report := &models.RepairReport{DryRun: dryRun}

	docs, err := r.catalog.ListDocumentsBySources(ctx, managedSources)
	if err != nil {
		return nil, models.Wrap(models.ErrStorage, "could not list catalog rows", err)
	}

	// Paths owned by a catalog row, for the second pass.
	owned := make(map[string]bool, len(docs)*2)

	for _, doc := range docs {
		report.CheckedDB++
		canonical := r.blobs.PathFor(doc.SourceType, "", doc.StoredFilename)
		owned[canonical] = true
		if doc.StoragePath != "" {
			owned[doc.StoragePath] = true
		}

		if r.blobs.Exists(canonical) {
			continue
		}
		if doc.StoragePath == "" || doc.StoragePath == canonical || !r.blobs.Exists(doc.StoragePath) {
			report.Errors = append(report.Errors,
				fmt.Sprintf("%s/%s: file missing and no fallback copy", doc.SourceType, doc.StoredFilename))
			continue
		}
		if dryRun {
			report.ReembeddedDBMissing++
			continue
		}
		if _, err := r.pipeline.Reembed(ctx, doc, doc.StoragePath); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("reembed %s: %v", doc.StoredFilename, err))
			continue
		}
		report.ReembeddedDBMissing++
	}

	for _, source := range managedSources {
		files, err := r.blobs.ListSource(source)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("list %s files: %v", source, err))
			continue
		}
		for _, path := range files {
			report.CheckedFS++
			if owned[path] {
				continue
			}
			if dryRun {
				report.CreatedDBRecords++
				report.ReembeddedFSMissingDB++
				continue
			}
			doc, err := r.adoptFile(ctx, source, path)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("adopt %s: %v", path, err))
				continue
			}
			report.CreatedDBRecords++
			if _, err := r.pipeline.Reembed(ctx, doc, path); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("embed %s: %v", path, err))
				continue
			}
			report.ReembeddedFSMissingDB++
		}
	}

	observability.LogEvent(r.logger, observability.EventReconcileCompleted, map[string]interface{}{
		"operation":                  "embed_repair",
		"dry_run":                    dryRun,
		"checked_db":                 report.CheckedDB,
		"checked_fs":                 report.CheckedFS,
		"reembedded_db_missing_file": report.ReembeddedDBMissing,
		"reembedded_fs_missing_db":   report.ReembeddedFSMissingDB,
		"created_db_records":         report.CreatedDBRecords,
		"errors":                     len(report.Errors),
	})
	return report, nil
}

// adoptFile inserts a minimal catalog row for a file found on disk
// without one. The filename on disk doubles as the stored name.
func (r *Reconciler) adoptFile(ctx context.Context, source models.SourceType, path string) (*models.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:               uuid.NewString(),
		SourceType:       source,
		OriginalFilename: name,
		StoredFilename:   name,
		StoragePath:      path,
		MimeType:         mimeType,
		SizeBytes:        info.Size(),
		Metadata:         map[string]interface{}{"recovered": true},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.catalog.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("document_id", doc.ID).
		Str("source", string(source)).
		Str("path", path).
		Msg("adopted file without catalog row")
	return doc, nil
}
