package extract

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// TextExtractor handles plain-text formats. Files that are not valid
// UTF-8 are re-decoded as latin-1, which maps every byte to a rune.
type TextExtractor struct{}

// NewTextExtractor creates a new text extractor.
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

func (e *TextExtractor) Name() string { return "text" }

func (e *TextExtractor) Available() bool { return true }

func (e *TextExtractor) Supported(ext string) bool {
	switch ext {
	case ".txt", ".md", ".rst", ".csv", ".tsv",
		".json", ".yaml", ".yml", ".xml", ".toml",
		".ini", ".cfg", ".log", ".html", ".htm":
		return true
	}
	return false
}

func (e *TextExtractor) Extract(_ context.Context, path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read text file: %w", err)
	}
	return DecodeText(content)
}

// DecodeText interprets raw bytes as UTF-8, falling back to latin-1.
func DecodeText(content []byte) (string, error) {
	if utf8.Valid(content) {
		return string(content), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(content)
	if err != nil {
		return "", fmt.Errorf("decode latin-1: %w", err)
	}
	return string(decoded), nil
}
