package sources

import (
	"context"
	"fmt"
	"path"
	"testing"

	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/ingest"
	"github.com/combiphar/corpus/internal/settings"
	"github.com/combiphar/corpus/pkg/models"
)

type fakeCatalog struct {
	docs    []*models.Document
	deleted []string
	findErr error
}

func (f *fakeCatalog) FindDocumentByMeta(_ context.Context, source models.SourceType, key, value string) (*models.Document, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	for i := len(f.docs) - 1; i >= 0; i-- {
		doc := f.docs[i]
		if doc.SourceType != source || f.isDeleted(doc.ID) {
			continue
		}
		if doc.MetaString(key) == value {
			return doc, nil
		}
	}
	return nil, models.NewError(models.ErrNotFound, "document not found")
}

func (f *fakeCatalog) DeleteDocument(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeCatalog) isDeleted(id string) bool {
	for _, d := range f.deleted {
		if d == id {
			return true
		}
	}
	return false
}

type fakeVectors struct {
	counts        map[string]int64
	countErr      error
	deletedByMeta [][2]string
}

func (f *fakeVectors) CountByDocument(_ context.Context, documentID string) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.counts[documentID], nil
}

func (f *fakeVectors) DeleteByMetadata(_ context.Context, key, value string) (int64, error) {
	f.deletedByMeta = append(f.deletedByMeta, [2]string{key, value})
	return 1, nil
}

type fakeBlobs struct {
	present map[string]bool
	removed []string
}

func (f *fakeBlobs) Exists(path string) bool { return f.present[path] }

func (f *fakeBlobs) Remove(path string) error {
	f.removed = append(f.removed, path)
	delete(f.present, path)
	return nil
}

// fakeIngestor fabricates a stored document per request. onIngest lets a
// test register the new document's artifacts with the other fakes.
type fakeIngestor struct {
	requests []ingest.Request
	err      error
	onIngest func(req ingest.Request, doc *models.Document)
}

func (f *fakeIngestor) Ingest(_ context.Context, req ingest.Request) (*ingest.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	n := len(f.requests)
	stored := fmt.Sprintf("stored-%d%s", n, path.Ext(req.OriginalFilename))
	doc := &models.Document{
		ID:               fmt.Sprintf("doc-%d", n),
		SourceType:       req.Source,
		OriginalFilename: req.OriginalFilename,
		StoredFilename:   stored,
		StoragePath:      "/data/" + string(req.Source) + "/" + stored,
		SizeBytes:        int64(len(req.Content)),
		Metadata:         req.Metadata,
		ChatID:           req.ChatID,
	}
	if f.onIngest != nil {
		f.onIngest(req, doc)
	}
	return &ingest.Result{Document: doc, Chunks: 1}, nil
}

type fakeReporter struct {
	details []*models.SyncLogDetail
}

func (f *fakeReporter) Report(_ context.Context, detail *models.SyncLogDetail) {
	f.details = append(f.details, detail)
}

func (f *fakeReporter) failed() []*models.SyncLogDetail {
	var out []*models.SyncLogDetail
	for _, d := range f.details {
		if d.Status == models.SyncItemFailed {
			out = append(out, d)
		}
	}
	return out
}

type fakeSiteSource struct{ sites []string }

func (f *fakeSiteSource) StringList(context.Context, string) []string { return f.sites }

type fakePolicy struct{ policy settings.AttachmentPolicy }

func (f *fakePolicy) Attachment(context.Context, settings.AttachmentPolicy) settings.AttachmentPolicy {
	return f.policy
}

func TestRemoveDocument(t *testing.T) {
	doc := &models.Document{
		ID:             "doc-1",
		StoredFilename: "stored-1.pdf",
		StoragePath:    "/data/portal/stored-1.pdf",
	}

	t.Run("clears vectors, row, and file", func(t *testing.T) {
		catalog := &fakeCatalog{}
		vectors := &fakeVectors{counts: map[string]int64{}}
		blobs := &fakeBlobs{present: map[string]bool{doc.StoragePath: true}}

		if err := removeDocument(context.Background(), catalog, vectors, blobs, doc, zerolog.Nop()); err != nil {
			t.Fatalf("removeDocument: %v", err)
		}
		if len(vectors.deletedByMeta) != 1 || vectors.deletedByMeta[0] != [2]string{"stored_filename", "stored-1.pdf"} {
			t.Errorf("vector deletes = %v", vectors.deletedByMeta)
		}
		if len(catalog.deleted) != 1 || catalog.deleted[0] != "doc-1" {
			t.Errorf("catalog deletes = %v", catalog.deleted)
		}
		if len(blobs.removed) != 1 || blobs.removed[0] != doc.StoragePath {
			t.Errorf("blob removes = %v", blobs.removed)
		}
	})

	t.Run("vector delete failure stops the chain", func(t *testing.T) {
		catalog := &fakeCatalog{}
		vectors := &failingVectors{}
		blobs := &fakeBlobs{present: map[string]bool{doc.StoragePath: true}}

		err := removeDocument(context.Background(), catalog, vectors, blobs, doc, zerolog.Nop())
		if !models.IsCode(err, models.ErrStorage) {
			t.Fatalf("err = %v, want storage error", err)
		}
		if len(catalog.deleted) != 0 {
			t.Errorf("catalog deletes = %v, want none", catalog.deleted)
		}
		if len(blobs.removed) != 0 {
			t.Errorf("blob removes = %v, want none", blobs.removed)
		}
	})
}

type failingVectors struct{ fakeVectors }

func (f *failingVectors) DeleteByMetadata(context.Context, string, string) (int64, error) {
	return 0, fmt.Errorf("index offline")
}
