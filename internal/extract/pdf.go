package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/observability"
)

// minNativePDFText is the threshold below which a PDF is treated as
// scanned and handed to OCR.
const minNativePDFText = 50

// PDFExtractor reads embedded text page by page and falls back to OCR for
// scanned documents.
type PDFExtractor struct {
	ocr    *ocrEngine
	logger zerolog.Logger
}

// NewPDFExtractor creates a PDF extractor with an OCR fallback.
func NewPDFExtractor(ocr *ocrEngine) *PDFExtractor {
	return &PDFExtractor{
		ocr:    ocr,
		logger: observability.Logger("extract.pdf"),
	}
}

func (e *PDFExtractor) Name() string { return "pdf (native+ocr)" }

func (e *PDFExtractor) Available() bool { return true }

func (e *PDFExtractor) Supported(ext string) bool { return ext == ".pdf" }

func (e *PDFExtractor) Extract(ctx context.Context, path string) (string, error) {
	text, err := e.nativeText(path)
	if err != nil {
		e.logger.Debug().Err(err).Str("path", path).Msg("native pdf extraction failed")
	}

	if len(strings.TrimSpace(text)) >= minNativePDFText {
		return text, nil
	}

	if !e.ocr.PDFAvailable() {
		return text, err
	}

	e.logger.Info().Str("path", path).Msg("pdf has no embedded text, running ocr")
	ocrText, ocrErr := e.ocr.PDFText(ctx, path)
	if ocrErr != nil {
		if err != nil {
			return "", fmt.Errorf("pdf extraction failed: %v; ocr fallback failed: %w", err, ocrErr)
		}
		return text, nil
	}
	if len(strings.TrimSpace(ocrText)) > len(strings.TrimSpace(text)) {
		return ocrText, nil
	}
	return text, nil
}

// nativeText pulls the embedded text layer. The pdf library panics on some
// malformed files, so the recover keeps one bad upload from taking the
// process down.
func (e *PDFExtractor) nativeText(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Debug().Err(err).Int("page", i).Str("path", path).Msg("page extraction failed")
			continue
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(pageText)
	}
	return sb.String(), nil
}
