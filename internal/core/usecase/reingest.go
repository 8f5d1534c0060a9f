package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
	"github.com/jamal-campbell/ai-tax-assistant/internal/core/ports"
)

// ReingestCorpusUseCase rebuilds the system reference corpus: every supported
// file in the corpus source is re-extracted, re-chunked and re-embedded. One
// bad file is reported and skipped, never aborting the batch.
type ReingestCorpusUseCase struct {
	registry  ports.DocumentRegistry
	storage   ports.ObjectStorage
	index     ports.VectorIndex
	corpus    ports.SystemCorpus
	processor ports.DocumentProcessor
	formats   FormatPolicy
	logger    *slog.Logger
}

func NewReingestCorpusUseCase(
	registry ports.DocumentRegistry,
	storage ports.ObjectStorage,
	index ports.VectorIndex,
	corpus ports.SystemCorpus,
	processor ports.DocumentProcessor,
	formats FormatPolicy,
	logger *slog.Logger,
) *ReingestCorpusUseCase {
	return &ReingestCorpusUseCase{
		registry:  registry,
		storage:   storage,
		index:     index,
		corpus:    corpus,
		processor: processor,
		formats:   formats,
		logger:    logger,
	}
}

// systemDocumentID derives a stable id from the corpus filename so repeated
// re-ingestion updates documents in place.
func systemDocumentID(filename string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("system-corpus:"+filename)).String()
}

func (uc *ReingestCorpusUseCase) ReingestSystemDocuments(ctx context.Context) (domain.ReingestReport, error) {
	var report domain.ReingestReport

	files, err := uc.corpus.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list system corpus: %w", err)
	}

	for _, filename := range files {
		if !uc.formats.Supported(filename) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		chunkCount, err := uc.reingestFile(ctx, filename)
		if err != nil {
			uc.logger.Error("reingest_file_failed", "file", filename, "error", err)
			report.Errors = append(report.Errors, domain.ReingestError{File: filename, Error: err.Error()})
			continue
		}
		report.DocumentsProcessed++
		report.TotalChunks += chunkCount
		uc.logger.Info("reingest_file_done", "file", filename, "chunks", chunkCount)
	}
	return report, nil
}

func (uc *ReingestCorpusUseCase) reingestFile(ctx context.Context, filename string) (int, error) {
	id := systemDocumentID(filename)

	source, err := uc.corpus.Open(ctx, filename)
	if err != nil {
		return 0, fmt.Errorf("open corpus file: %w", err)
	}
	saveErr := uc.storage.Save(ctx, id, source)
	source.Close()
	if saveErr != nil {
		return 0, fmt.Errorf("stage corpus file: %w", saveErr)
	}

	if _, err := uc.registry.GetByID(ctx, id); err != nil {
		if !domain.IsKind(err, domain.ErrDocumentNotFound) {
			return 0, fmt.Errorf("fetch document by id: %w", err)
		}
		now := time.Now().UTC()
		doc := &domain.Document{
			ID:         id,
			Filename:   filename,
			SourceType: domain.SourceSystem,
			Status:     domain.StatusUploaded,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := uc.registry.Create(ctx, doc); err != nil {
			return 0, fmt.Errorf("create document metadata: %w", err)
		}
	}

	// Drop stale vectors before re-indexing so a shorter re-chunk leaves no
	// orphaned points behind.
	if err := uc.index.DeleteByDocument(ctx, id); err != nil {
		return 0, fmt.Errorf("delete stale vectors: %w", err)
	}

	if err := uc.processor.ProcessByID(ctx, id); err != nil {
		return 0, err
	}

	doc, err := uc.registry.GetByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("fetch processed document: %w", err)
	}
	return doc.ChunkCount, nil
}
