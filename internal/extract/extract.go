// Package extract turns stored document files into plain text. Extraction
// failures are logged and surface as empty text; callers treat empty text
// as "nothing to index".
package extract

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/config"
	"github.com/combiphar/corpus/internal/observability"
)

// Extractor defines the interface for text extraction from documents.
type Extractor interface {
	// Extract extracts text content from the given file.
	Extract(ctx context.Context, path string) (string, error)
	// Supported returns true if this extractor can handle the given extension.
	Supported(ext string) bool
	// Available returns true if the required tools are available.
	Available() bool
	// Name returns the extractor name for logging.
	Name() string
}

// Registry dispatches files to the extractor registered for their
// extension.
type Registry struct {
	extractors []Extractor
	logger     zerolog.Logger
}

// NewRegistry creates a registry with all extractors wired up.
func NewRegistry(cfg config.ExtractConfig) *Registry {
	ocr := newOCREngine(cfg)
	return &Registry{
		extractors: []Extractor{
			NewTextExtractor(),
			NewPDFExtractor(ocr),
			NewDOCXExtractor(),
			NewXLSXExtractor(),
			NewPPTXExtractor(),
			NewImageExtractor(ocr),
		},
		logger: observability.Logger("extract"),
	}
}

// ExtractText extracts plain text from path. It never fails: unsupported
// extensions, missing tools, and extractor errors all come back as empty
// text after being logged.
func (r *Registry) ExtractText(ctx context.Context, path string) string {
	ext := strings.ToLower(filepath.Ext(path))

	for _, extractor := range r.extractors {
		if !extractor.Supported(ext) {
			continue
		}
		if !extractor.Available() {
			r.logger.Warn().
				Str("path", path).
				Str("extractor", extractor.Name()).
				Msg("extractor not available, skipping file")
			return ""
		}
		text, err := extractor.Extract(ctx, path)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("path", path).
				Str("extractor", extractor.Name()).
				Msg("extraction failed")
			return ""
		}
		return text
	}

	r.logger.Debug().Str("path", path).Str("ext", ext).Msg("no extractor for extension")
	return ""
}

// SupportedExtension reports whether any registered extractor handles ext.
func (r *Registry) SupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, extractor := range r.extractors {
		if extractor.Supported(ext) {
			return true
		}
	}
	return false
}

// ToolStatus represents the availability of one extraction dependency.
type ToolStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
}

// CheckTools reports extractor availability plus the external binaries the
// OCR path shells out to.
func (r *Registry) CheckTools() []ToolStatus {
	var status []ToolStatus
	for _, extractor := range r.extractors {
		status = append(status, ToolStatus{
			Name:      extractor.Name(),
			Available: extractor.Available(),
		})
	}
	for _, tool := range []string{"tesseract", "pdftoppm"} {
		if path, err := exec.LookPath(tool); err == nil {
			status = append(status, ToolStatus{Name: tool, Available: true, Path: path})
		} else {
			status = append(status, ToolStatus{Name: tool, Available: false})
		}
	}
	return status
}
