package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
	"github.com/jamal-campbell/ai-tax-assistant/internal/core/ports"
)

// FormatPolicy decides which filenames the ingestion pipeline accepts.
type FormatPolicy interface {
	Supported(filename string) bool
}

type IngestDocumentUseCase struct {
	registry ports.DocumentRegistry
	storage  ports.ObjectStorage
	index    ports.VectorIndex
	queue    ports.MessageQueue
	formats  FormatPolicy
}

func NewIngestDocumentUseCase(
	registry ports.DocumentRegistry,
	storage ports.ObjectStorage,
	index ports.VectorIndex,
	queue ports.MessageQueue,
	formats FormatPolicy,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		registry: registry,
		storage:  storage,
		index:    index,
		queue:    queue,
		formats:  formats,
	}
}

// Upload stores the raw payload, records the document and hands processing to
// the worker via the queue. The document id doubles as the storage key.
func (uc *IngestDocumentUseCase) Upload(
	ctx context.Context,
	filename string,
	sourceType domain.SourceType,
	body io.Reader,
) (*domain.Document, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("empty filename"))
	}
	if !sourceType.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", fmt.Errorf("unknown source type %q", sourceType))
	}
	if !uc.formats.Supported(filename) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", fmt.Errorf("unsupported file type: %s", filename))
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, id, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := &domain.Document{
		ID:         id,
		Filename:   filename,
		SourceType: sourceType,
		Status:     domain.StatusUploaded,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := uc.registry.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	if err := uc.queue.PublishDocumentIngested(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}
	return doc, nil
}

// Delete removes the document's vectors, stored payload and registry row.
// Vectors go first so retrieval never serves passages of a half-deleted
// document.
func (uc *IngestDocumentUseCase) Delete(ctx context.Context, documentID string) error {
	if _, err := uc.registry.GetByID(ctx, documentID); err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}

	if err := uc.index.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := uc.storage.Remove(ctx, documentID); err != nil {
		return fmt.Errorf("remove stored payload: %w", err)
	}
	if err := uc.registry.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("delete document metadata: %w", err)
	}
	return nil
}
