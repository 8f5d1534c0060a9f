package usecase

import (
	"regexp"
	"strconv"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
)

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// ResolveCitations maps bracketed ordinal markers in the answer back to the
// retrieved passages that were numbered 1..n in the generation prompt. Result
// keeps first-mention order without duplicates; out-of-range markers are
// ignored. An answer with no valid markers keeps all retrieved passages, so a
// grounded answer is never presented as unsourced.
func ResolveCitations(answer string, passages []domain.RetrievedPassage) []domain.RetrievedPassage {
	if len(passages) == 0 {
		return nil
	}

	seen := make(map[int]bool, len(passages))
	cited := make([]domain.RetrievedPassage, 0, len(passages))
	for _, match := range citationMarker.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil || n < 1 || n > len(passages) {
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		cited = append(cited, passages[n-1])
	}

	if len(cited) == 0 {
		return passages
	}
	return cited
}

// CitationRefs projects passages down to the persistent reference form.
func CitationRefs(passages []domain.RetrievedPassage) []domain.CitationRef {
	if len(passages) == 0 {
		return nil
	}
	refs := make([]domain.CitationRef, len(passages))
	for i, passage := range passages {
		refs[i] = domain.CitationRef{DocumentID: passage.DocumentID, ChunkIndex: passage.ChunkIndex}
	}
	return refs
}
