package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
)

type entry struct {
	docID      string
	source     string
	sourceType domain.SourceType
	chunkIndex int
	page       int
	text       string
	vector     []float32
	seq        int64
}

// Index is a brute-force in-process vector index using cosine similarity.
// It implements the same contract as the Qdrant client: idempotent upsert by
// (document id, chunk index), atomic delete by document, and top-k queries
// with descending scores and insertion-order tie-breaks.
type Index struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextSeq int64
}

func New() *Index {
	return &Index{entries: make(map[string]*entry)}
}

func (ix *Index) UpsertChunks(_ context.Context, doc *domain.Document, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch: %d/%d", len(chunks), len(vectors))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i, chunk := range chunks {
		key := entryKey(doc.ID, chunk.Index)
		seq := ix.nextSeq
		if existing, ok := ix.entries[key]; ok {
			seq = existing.seq // re-upsert keeps the original ingestion order
		} else {
			ix.nextSeq++
		}
		ix.entries[key] = &entry{
			docID:      doc.ID,
			source:     doc.Filename,
			sourceType: doc.SourceType,
			chunkIndex: chunk.Index,
			page:       chunk.Page,
			text:       chunk.Text,
			vector:     vectors[i],
			seq:        seq,
		}
	}
	return nil
}

func (ix *Index) DeleteByDocument(_ context.Context, documentID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for key, e := range ix.entries {
		if e.docID == documentID {
			delete(ix.entries, key)
		}
	}
	return nil
}

func (ix *Index) Query(_ context.Context, vector []float32, k int, filter domain.SearchFilter) ([]domain.RetrievedPassage, error) {
	if k <= 0 {
		k = 5
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	type hit struct {
		e     *entry
		score float64
	}
	hits := make([]hit, 0, len(ix.entries))
	for _, e := range ix.entries {
		if !matches(e, filter) {
			continue
		}
		hits = append(hits, hit{e: e, score: cosine(vector, e.vector)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].e.seq < hits[j].e.seq
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]domain.RetrievedPassage, 0, len(hits))
	for _, h := range hits {
		out = append(out, domain.RetrievedPassage{
			DocumentID: h.e.docID,
			Source:     h.e.source,
			ChunkIndex: h.e.chunkIndex,
			Page:       h.e.page,
			Text:       h.e.text,
			Score:      h.score,
		})
	}
	return out, nil
}

func (ix *Index) DocumentChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]domain.Chunk, 0, 16)
	for _, e := range ix.entries {
		if e.docID != documentID {
			continue
		}
		out = append(out, domain.Chunk{
			DocumentID: e.docID,
			Index:      e.chunkIndex,
			Page:       e.page,
			Text:       e.text,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (ix *Index) Healthy(context.Context) bool { return true }

// Len reports the number of indexed chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

func matches(e *entry, filter domain.SearchFilter) bool {
	if filter.SourceType != "" && e.sourceType != filter.SourceType {
		return false
	}
	if len(filter.DocumentIDs) > 0 {
		found := false
		for _, id := range filter.DocumentIDs {
			if id == e.docID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// cosine returns similarity clamped to [0,1]; anti-correlated vectors score 0.
func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if score < 0 {
		return 0
	}
	return score
}

func entryKey(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s:%d", documentID, chunkIndex)
}
