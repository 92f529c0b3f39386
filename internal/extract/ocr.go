package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/config"
	"github.com/combiphar/corpus/internal/observability"
)

// ocrEngine shells out to tesseract, rendering PDF pages through pdftoppm
// first. Both binaries are resolved once at startup.
type ocrEngine struct {
	tesseractPath string
	pdftoppmPath  string
	languages     string
	extraArgs     []string
	renderScale   float64
	logger        zerolog.Logger
}

func newOCREngine(cfg config.ExtractConfig) *ocrEngine {
	e := &ocrEngine{
		languages:   cfg.OCRLanguages,
		extraArgs:   strings.Fields(cfg.TesseractConfig),
		renderScale: cfg.PDFRenderScale,
		logger:      observability.Logger("extract.ocr"),
	}
	if e.languages == "" {
		e.languages = "eng+ind"
	}
	if e.renderScale <= 0 {
		e.renderScale = 2.0
	}
	e.tesseractPath, _ = exec.LookPath(firstNonEmpty(cfg.TesseractCmd, "tesseract"))
	e.pdftoppmPath, _ = exec.LookPath(firstNonEmpty(cfg.PdftoppmCmd, "pdftoppm"))
	return e
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Available reports whether image OCR can run at all.
func (e *ocrEngine) Available() bool { return e.tesseractPath != "" }

// PDFAvailable reports whether scanned PDFs can be rendered and OCRed.
func (e *ocrEngine) PDFAvailable() bool { return e.tesseractPath != "" && e.pdftoppmPath != "" }

// ImageText runs tesseract on a single image file.
func (e *ocrEngine) ImageText(ctx context.Context, path string) (string, error) {
	if e.tesseractPath == "" {
		return "", fmt.Errorf("tesseract not available")
	}

	args := []string{path, "stdout", "-l", e.languages}
	args = append(args, e.extraArgs...)

	cmd := exec.CommandContext(ctx, e.tesseractPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract failed: %s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

// PDFText renders every page of a PDF to PNG and OCRs each page. Page
// failures are skipped so one bad render does not lose the document.
func (e *ocrEngine) PDFText(ctx context.Context, path string) (string, error) {
	if !e.PDFAvailable() {
		return "", fmt.Errorf("pdftoppm or tesseract not available")
	}

	tmpDir, err := os.MkdirTemp("", "corpus-ocr-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	dpi := int(72 * e.renderScale)
	cmd := exec.CommandContext(ctx, e.pdftoppmPath,
		"-png", "-r", strconv.Itoa(dpi), path, filepath.Join(tmpDir, "page"))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftoppm failed: %s: %w", strings.TrimSpace(stderr.String()), err)
	}

	pages, err := filepath.Glob(filepath.Join(tmpDir, "page*.png"))
	if err != nil || len(pages) == 0 {
		return "", fmt.Errorf("no pages rendered from %s", filepath.Base(path))
	}
	sort.Strings(pages)

	var text strings.Builder
	for _, page := range pages {
		pageText, err := e.ImageText(ctx, page)
		if err != nil {
			e.logger.Warn().Err(err).Str("page", filepath.Base(page)).Msg("page ocr failed")
			continue
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(strings.TrimSpace(pageText))
	}
	return text.String(), nil
}

// ImageExtractor OCRs standalone image files.
type ImageExtractor struct {
	ocr *ocrEngine
}

// NewImageExtractor creates an image extractor backed by the OCR engine.
func NewImageExtractor(ocr *ocrEngine) *ImageExtractor {
	return &ImageExtractor{ocr: ocr}
}

func (e *ImageExtractor) Name() string { return "image (tesseract)" }

func (e *ImageExtractor) Available() bool { return e.ocr.Available() }

func (e *ImageExtractor) Supported(ext string) bool {
	switch ext {
	case ".png", ".jpg", ".jpeg", ".tiff", ".tif", ".bmp", ".webp":
		return true
	}
	return false
}

func (e *ImageExtractor) Extract(ctx context.Context, path string) (string, error) {
	return e.ocr.ImageText(ctx, path)
}
