package chunking

import (
	"strings"
	"unicode/utf8"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
)

// Splitter packs sentences into page-addressed chunks bounded by ChunkSize
// runes. Boundaries prefer sentence ends, then word ends; a lone word longer
// than the budget is split by rune. Splitting is deterministic: the same text
// and configuration always yield byte-identical chunks, and concatenating the
// chunk texts in index order reproduces the input modulo boundary whitespace.
type Splitter struct {
	ChunkSize int
}

func NewSplitter(chunkSize int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	return &Splitter{ChunkSize: chunkSize}
}

func (s *Splitter) Split(documentID string, pages []domain.Page) []domain.Chunk {
	out := make([]domain.Chunk, 0, len(pages))
	index := 0
	for _, page := range pages {
		for _, text := range s.splitPage(page.Text) {
			out = append(out, domain.Chunk{
				DocumentID: documentID,
				Index:      index,
				Page:       page.Number,
				Text:       text,
			})
			index++
		}
	}
	return out
}

func (s *Splitter) splitPage(text string) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	chunks := make([]string, 0, 4)
	var current strings.Builder
	currentRunes := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentRunes = 0
		}
	}

	appendPiece := func(piece string) {
		pieceRunes := utf8.RuneCountInString(piece)
		sep := 0
		if currentRunes > 0 {
			sep = 1
		}
		if currentRunes+sep+pieceRunes > s.ChunkSize {
			flush()
			sep = 0
		}
		if sep == 1 {
			current.WriteByte(' ')
			currentRunes++
		}
		current.WriteString(piece)
		currentRunes += pieceRunes
	}

	for _, sentence := range sentences {
		if utf8.RuneCountInString(sentence) <= s.ChunkSize {
			appendPiece(sentence)
			continue
		}
		for _, piece := range s.splitOversized(sentence) {
			appendPiece(piece)
		}
	}
	flush()
	return chunks
}

// splitOversized breaks a sentence longer than the budget at word boundaries,
// falling back to a rune split for single words that overflow on their own.
func (s *Splitter) splitOversized(sentence string) []string {
	pieces := make([]string, 0, 2)
	for _, word := range strings.Fields(sentence) {
		if utf8.RuneCountInString(word) <= s.ChunkSize {
			pieces = append(pieces, word)
			continue
		}
		runes := []rune(word)
		for start := 0; start < len(runes); start += s.ChunkSize {
			end := start + s.ChunkSize
			if end > len(runes) {
				end = len(runes)
			}
			pieces = append(pieces, string(runes[start:end]))
		}
	}
	return pieces
}

// splitSentences cuts text after '.', '!' or '?' followed by whitespace or
// end of input. Whitespace runs between sentences collapse; no non-space
// content is dropped.
func splitSentences(text string) []string {
	out := make([]string, 0, 8)
	var b strings.Builder
	runes := []rune(text)

	emit := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			out = append(out, collapseSpace(s))
		}
		b.Reset()
	}

	for i, r := range runes {
		b.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 == len(runes) || isSpace(runes[i+1]) {
			emit()
		}
	}
	emit()
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
