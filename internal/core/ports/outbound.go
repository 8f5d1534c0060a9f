package ports

import (
	"context"
	"io"
	"time"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
)

// DocumentRegistry persists document metadata and ingestion state.
type DocumentRegistry interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context) ([]domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SetChunkCount(ctx context.Context, id string, chunkCount int) error
	Delete(ctx context.Context, id string) error
}

// ObjectStorage stores raw source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// SystemCorpus enumerates the pre-loaded reference document set used by bulk
// re-ingestion.
type SystemCorpus interface {
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, error)
}

// PageExtractor extracts ordered page/text pairs from a stored document.
type PageExtractor interface {
	Extract(ctx context.Context, storageKey, filename string) ([]domain.Page, error)
}

// Chunker splits extracted pages into bounded, page-addressed chunks with
// stable zero-based indexes. Must be deterministic for a given configuration.
type Chunker interface {
	Split(documentID string, pages []domain.Page) []domain.Chunk
}

// Embedder builds vectors for chunk and query text. Embed preserves input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores chunk vectors plus payload and answers top-k similarity
// queries. Query returns at most k passages ordered by descending score, ties
// broken by chunk insertion order.
type VectorIndex interface {
	UpsertChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, vectors [][]float32) error
	DeleteByDocument(ctx context.Context, documentID string) error
	Query(ctx context.Context, vector []float32, k int, filter domain.SearchFilter) ([]domain.RetrievedPassage, error)
	DocumentChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)
	Healthy(ctx context.Context) bool
}

// SessionStore persists session-keyed conversation history. AppendTurn creates
// the session when absent and is atomic at turn granularity. Clear of an
// absent session is a no-op.
type SessionStore interface {
	AppendTurn(ctx context.Context, sessionID string, turn domain.Turn) error
	History(ctx context.Context, sessionID string) ([]domain.Turn, error)
	Exists(ctx context.Context, sessionID string) (bool, error)
	Clear(ctx context.Context, sessionID string) error
	PurgeExpired(ctx context.Context, ttl time.Duration) (int, error)
	Healthy(ctx context.Context) bool
}

// GenerationRequest carries everything the external generator needs for one
// turn. Passages are numbered 1..n in the prompt; the answer cites them by
// bracketed ordinal.
type GenerationRequest struct {
	Query    string
	Passages []domain.RetrievedPassage
	History  []domain.Turn
}

// GenerationDelta is one increment of generator output. Err is non-nil on the
// final delta of a failed stream.
type GenerationDelta struct {
	Text string
	Err  error
}

// Generator is the external LLM behind the answer pipeline.
type Generator interface {
	// Generate returns the full answer in one call.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Stream yields answer increments on a bounded channel, closed when the
	// generator finishes or fails.
	Stream(ctx context.Context, req GenerationRequest) (<-chan GenerationDelta, error)
	Healthy(ctx context.Context) bool
}
