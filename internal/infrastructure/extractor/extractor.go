package extractor

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
	"github.com/jamal-campbell/ai-tax-assistant/internal/core/ports"
)

// sectionSize is the minimum accumulated text before a logical section of a
// pageless format is emitted as its own page.
const sectionSize = 500

type extractFunc func(ctx context.Context, r io.Reader) ([]domain.Page, error)

// Registry extracts pages from stored documents, dispatching on the file
// extension. Formats without physical pages get logical section numbers.
type Registry struct {
	storage ports.ObjectStorage
	formats map[string]extractFunc
}

func NewRegistry(storage ports.ObjectStorage) *Registry {
	r := &Registry{
		storage: storage,
		formats: make(map[string]extractFunc),
	}
	r.formats[".pdf"] = extractPDF
	r.formats[".txt"] = extractPlaintext
	r.formats[".md"] = extractPlaintext
	r.formats[".html"] = extractHTML
	r.formats[".htm"] = extractHTML
	r.formats[".xlsx"] = extractXLSX
	return r
}

// Supported reports whether the filename's extension has an extractor.
func (r *Registry) Supported(filename string) bool {
	_, ok := r.formats[normalizeExt(filename)]
	return ok
}

func (r *Registry) Extract(ctx context.Context, storageKey, filename string) ([]domain.Page, error) {
	ext := normalizeExt(filename)
	extract, ok := r.formats[ext]
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract", fmt.Errorf("unsupported file type %q", ext))
	}

	reader, err := r.storage.Open(ctx, storageKey)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	pages, err := extract(ctx, reader)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", ext, err)
	}
	return pages, nil
}

func normalizeExt(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// paginateSections groups double-newline separated sections into logical
// pages, emitting a page once enough text has accumulated.
func paginateSections(text string) []domain.Page {
	sections := strings.Split(text, "\n\n")

	pages := make([]domain.Page, 0, 4)
	var current strings.Builder
	pageNum := 1
	for _, section := range sections {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(section)

		if current.Len() > sectionSize {
			pages = append(pages, domain.Page{Number: pageNum, Text: current.String()})
			pageNum++
			current.Reset()
		}
	}
	if current.Len() > 0 {
		pages = append(pages, domain.Page{Number: pageNum, Text: current.String()})
	}
	return pages
}
