package ports

import (
	"context"
	"io"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload and removal.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename string, sourceType domain.SourceType, body io.Reader) (*domain.Document, error)
	Delete(ctx context.Context, documentID string) error
}

// DocumentProcessor is the inbound contract for asynchronous document
// processing: extract, chunk, embed, index.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// CorpusReingestor re-chunks and re-embeds the configured system document set.
type CorpusReingestor interface {
	ReingestSystemDocuments(ctx context.Context) (domain.ReingestReport, error)
}

// ChatService drives one conversational turn: retrieve, generate, cite, persist.
type ChatService interface {
	// Answer runs a full turn and returns the final answer with resolved sources.
	Answer(ctx context.Context, sessionID, query string) (*domain.ChatAnswer, error)
	// Stream runs a turn and delivers protocol events on the returned channel.
	// The channel is closed after the terminal event. The returned session id
	// is the one the turn ran under (created when absent).
	Stream(ctx context.Context, sessionID, query string) (string, <-chan domain.StreamEvent, error)
}
