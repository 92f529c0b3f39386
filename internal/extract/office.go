package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// DOCXExtractor handles .docx files.
type DOCXExtractor struct{}

// NewDOCXExtractor creates a new DOCX extractor.
func NewDOCXExtractor() *DOCXExtractor {
	return &DOCXExtractor{}
}

func (e *DOCXExtractor) Name() string { return "docx (native)" }

func (e *DOCXExtractor) Available() bool { return true }

func (e *DOCXExtractor) Supported(ext string) bool { return ext == ".docx" }

func (e *DOCXExtractor) Extract(_ context.Context, path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	return strings.TrimSpace(xmlTagText([]byte(content), "t")), nil
}

// XLSXExtractor handles .xlsx workbooks. Sheets whose first row looks like
// a header (two or more filled cells) are serialized as "header: value"
// pairs so column meaning survives chunking.
type XLSXExtractor struct{}

// NewXLSXExtractor creates a new XLSX extractor.
func NewXLSXExtractor() *XLSXExtractor {
	return &XLSXExtractor{}
}

func (e *XLSXExtractor) Name() string { return "xlsx (native)" }

func (e *XLSXExtractor) Available() bool { return true }

func (e *XLSXExtractor) Supported(ext string) bool { return ext == ".xlsx" || ext == ".xlsm" }

func (e *XLSXExtractor) Extract(_ context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("Sheet: " + sheet + "\n")
		writeSheetRows(&sb, rows)
	}
	return strings.TrimSpace(sb.String()), nil
}

func writeSheetRows(sb *strings.Builder, rows [][]string) {
	header := rows[0]
	if filledCells(header) >= 2 && len(rows) > 1 {
		for _, row := range rows[1:] {
			var pairs []string
			for i, cell := range row {
				cell = strings.TrimSpace(cell)
				if cell == "" || i >= len(header) {
					continue
				}
				name := strings.TrimSpace(header[i])
				if name == "" {
					pairs = append(pairs, cell)
					continue
				}
				pairs = append(pairs, name+": "+cell)
			}
			if len(pairs) > 0 {
				sb.WriteString(strings.Join(pairs, ", ") + "\n")
			}
		}
		return
	}

	for _, row := range rows {
		var cells []string
		for _, cell := range row {
			if cell = strings.TrimSpace(cell); cell != "" {
				cells = append(cells, cell)
			}
		}
		if len(cells) > 0 {
			sb.WriteString(strings.Join(cells, " ") + "\n")
		}
	}
}

func filledCells(row []string) int {
	n := 0
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			n++
		}
	}
	return n
}

// PPTXExtractor handles .pptx decks. PPTX is a ZIP of per-slide XML; text
// runs live in a:t elements.
type PPTXExtractor struct{}

// NewPPTXExtractor creates a new PPTX extractor.
func NewPPTXExtractor() *PPTXExtractor {
	return &PPTXExtractor{}
}

func (e *PPTXExtractor) Name() string { return "pptx (native)" }

func (e *PPTXExtractor) Available() bool { return true }

func (e *PPTXExtractor) Supported(ext string) bool { return ext == ".pptx" }

func (e *PPTXExtractor) Extract(_ context.Context, path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open pptx: %w", err)
	}
	defer r.Close()

	var slides []*zip.File
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			slides = append(slides, f)
		}
	}
	sort.Slice(slides, func(i, j int) bool {
		return slideOrder(slides[i].Name) < slideOrder(slides[j].Name)
	})

	var sb strings.Builder
	for _, slide := range slides {
		rc, err := slide.Open()
		if err != nil {
			continue
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		text := strings.TrimSpace(xmlTagText(content, "t"))
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// slideOrder parses the numeric part of ppt/slides/slideN.xml so slide10
// sorts after slide2.
func slideOrder(name string) int {
	base := strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml")
	n := 0
	for _, ch := range base {
		if ch < '0' || ch > '9' {
			return n
		}
		n = n*10 + int(ch-'0')
	}
	return n
}

// xmlTagText collects character data inside elements whose local name is
// textTag, breaking lines when paragraph elements close. Office namespaces
// (w:t, a:t) share the local name "t".
func xmlTagText(data []byte, textTag string) string {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	var sb strings.Builder
	depth := 0

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == textTag {
				depth++
			}
			if t.Name.Local == "br" {
				sb.WriteString("\n")
			}
			if t.Name.Local == "tab" {
				sb.WriteString("\t")
			}
		case xml.EndElement:
			if t.Name.Local == textTag && depth > 0 {
				depth--
			}
			if t.Name.Local == "p" {
				sb.WriteString("\n")
			}
		case xml.CharData:
			if depth > 0 {
				sb.Write(t)
			}
		}
	}
	return sb.String()
}
