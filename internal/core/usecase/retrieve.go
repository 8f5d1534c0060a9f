package usecase

import (
	"context"
	"fmt"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
	"github.com/jamal-campbell/ai-tax-assistant/internal/core/ports"
)

type RetrieverOptions struct {
	// TopK is the number of passages requested from the index.
	TopK int
	// MinScore drops weak matches; passages scoring below it are discarded.
	MinScore float64
	// Filter restricts retrieval, e.g. to the system corpus.
	Filter domain.SearchFilter
}

func (o RetrieverOptions) normalize() RetrieverOptions {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	return o
}

// Retriever turns a question into ranked context passages.
type Retriever struct {
	embedder ports.Embedder
	index    ports.VectorIndex
	opts     RetrieverOptions
}

func NewRetriever(embedder ports.Embedder, index ports.VectorIndex, opts RetrieverOptions) *Retriever {
	return &Retriever{
		embedder: embedder,
		index:    index,
		opts:     opts.normalize(),
	}
}

// Retrieve embeds the query and returns passages above the score cutoff in
// descending score order. Zero hits is a normal outcome, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]domain.RetrievedPassage, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	passages, err := r.index.Query(ctx, vector, r.opts.TopK, r.opts.Filter)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "query vector index", err)
	}

	kept := passages[:0]
	for _, passage := range passages {
		if passage.Score >= r.opts.MinScore {
			kept = append(kept, passage)
		}
	}
	return kept, nil
}
