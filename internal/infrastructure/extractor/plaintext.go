package extractor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
)

func extractPlaintext(_ context.Context, r io.Reader) ([]domain.Page, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("not valid utf-8 text")
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	return paginateSections(text), nil
}
