package ingest

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/combiphar/corpus/internal/extract"
	"github.com/combiphar/corpus/pkg/models"
)

// minDocumentBytes rejects stub files before they waste an ingestion run.
const minDocumentBytes = 50

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".csv": true, ".tsv": true,
	".json": true, ".yaml": true, ".yml": true, ".xml": true,
	".html": true, ".htm": true, ".log": true,
}

// ValidateContent checks raw file bytes before anything is written. PDF
// uploads are checked for the magic header and for HTML error pages saved
// with a .pdf name, which download proxies produce.
func ValidateContent(originalName string, content []byte, maxBytes int64) error {
	if len(content) < minDocumentBytes {
		return models.NewError(models.ErrBadInput, "file is too small to be a document").
			WithDetails("size_bytes", len(content)).
			WithDetails("min_bytes", minDocumentBytes)
	}
	if maxBytes > 0 && int64(len(content)) > maxBytes {
		return models.NewError(models.ErrBadInput, "file exceeds the maximum allowed size").
			WithDetails("size_bytes", len(content)).
			WithDetails("max_bytes", maxBytes)
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	switch {
	case ext == ".pdf":
		if looksLikeHTML(content) {
			return models.NewError(models.ErrBadInput, "file is an HTML page, not a PDF").
				WithDetails("filename", originalName)
		}
		if !bytes.HasPrefix(content, []byte("%PDF-")) {
			return models.NewError(models.ErrBadInput, "file does not start with a PDF header").
				WithDetails("filename", originalName)
		}
	case textExtensions[ext]:
		if _, err := extract.DecodeText(content); err != nil {
			return models.NewError(models.ErrBadInput, "text file could not be decoded").
				WithDetails("filename", originalName).
				WithCause(err)
		}
	}
	return nil
}

// looksLikeHTML sniffs the first bytes for an HTML document marker. Error
// pages sometimes open with an XML prolog or a comment, so besides checking
// the leading tag it also accepts <html> plus <head> anywhere in the window.
func looksLikeHTML(content []byte) bool {
	head := content
	if len(head) > 256 {
		head = head[:256]
	}
	lower := strings.ToLower(string(bytes.TrimLeft(head, " \t\r\n\xef\xbb\xbf")))
	if strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html") {
		return true
	}
	return strings.Contains(lower, "<html") && strings.Contains(lower, "<head")
}
