package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
	"github.com/jamal-campbell/ai-tax-assistant/internal/core/ports"
)

type ProcessOptions struct {
	// EmbedBatchSize is the number of chunk texts sent per embedding call.
	EmbedBatchSize int
	// EmbedParallel bounds concurrent embedding calls per document.
	EmbedParallel int
	// EmbedLimiter paces embedding calls across documents. Optional.
	EmbedLimiter *rate.Limiter
}

func (o ProcessOptions) normalize() ProcessOptions {
	if o.EmbedBatchSize <= 0 {
		o.EmbedBatchSize = 16
	}
	if o.EmbedParallel <= 0 {
		o.EmbedParallel = 4
	}
	return o
}

type ProcessDocumentUseCase struct {
	registry  ports.DocumentRegistry
	extractor ports.PageExtractor
	chunker   ports.Chunker
	embedder  ports.Embedder
	index     ports.VectorIndex
	opts      ProcessOptions
}

func NewProcessDocumentUseCase(
	registry ports.DocumentRegistry,
	extractor ports.PageExtractor,
	chunker ports.Chunker,
	embedder ports.Embedder,
	index ports.VectorIndex,
	opts ProcessOptions,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		registry:  registry,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		opts:      opts.normalize(),
	}
}

// ProcessByID runs the full pipeline for one document: extract, chunk, embed,
// index. Any stage failure marks the document failed with the stage message;
// other documents are unaffected.
func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	if err := uc.registry.UpdateStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	chunkCount, err := uc.pipeline(ctx, documentID)
	if err != nil {
		if failErr := uc.registry.UpdateStatus(ctx, documentID, domain.StatusFailed, err.Error()); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.registry.SetChunkCount(ctx, documentID, chunkCount); err != nil {
		return fmt.Errorf("set chunk count: %w", err)
	}
	if err := uc.registry.UpdateStatus(ctx, documentID, domain.StatusReady, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}
	return nil
}

func (uc *ProcessDocumentUseCase) pipeline(ctx context.Context, documentID string) (int, error) {
	doc, err := uc.registry.GetByID(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("fetch document by id: %w", err)
	}

	pages, err := uc.extractor.Extract(ctx, doc.ID, doc.Filename)
	if err != nil {
		return 0, fmt.Errorf("extract pages: %w", err)
	}
	if len(pages) == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "extract pages", errors.New("no extractable text"))
	}

	chunks := uc.chunker.Split(doc.ID, pages)
	if len(chunks) == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("chunking produced zero chunks"))
	}

	vectors, err := uc.embedChunks(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	if err := uc.index.UpsertChunks(ctx, doc, chunks, vectors); err != nil {
		return 0, fmt.Errorf("index chunks: %w", err)
	}
	return len(chunks), nil
}

// embedChunks embeds in bounded-parallel batches. Vectors land at the batch
// offset so output order matches chunk order regardless of completion order.
func (uc *ProcessDocumentUseCase) embedChunks(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	type batch struct {
		offset int
		texts  []string
	}
	batches := make([]batch, 0, (len(texts)+uc.opts.EmbedBatchSize-1)/uc.opts.EmbedBatchSize)
	for offset := 0; offset < len(texts); offset += uc.opts.EmbedBatchSize {
		end := offset + uc.opts.EmbedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, batch{offset: offset, texts: texts[offset:end]})
	}

	vectors := make([][]float32, len(texts))
	jobs := make(chan batch)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	workers := uc.opts.EmbedParallel
	if workers > len(batches) {
		workers = len(batches)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Workers keep receiving after a failure so the producer's
			// unbuffered send can never block on exited receivers.
			for job := range jobs {
				mu.Lock()
				failed := firstErr != nil
				mu.Unlock()
				if failed {
					continue
				}
				if uc.opts.EmbedLimiter != nil {
					if err := uc.opts.EmbedLimiter.Wait(ctx); err != nil {
						setErr(err)
						continue
					}
				}
				batchVectors, err := uc.embedder.Embed(ctx, job.texts)
				if err != nil {
					setErr(err)
					continue
				}
				if len(batchVectors) != len(job.texts) {
					setErr(fmt.Errorf("vectors/texts mismatch: %d/%d", len(batchVectors), len(job.texts)))
					continue
				}
				copy(vectors[job.offset:], batchVectors)
			}
		}()
	}

	for _, job := range batches {
		mu.Lock()
		failed := firstErr != nil
		mu.Unlock()
		if failed {
			break
		}
		jobs <- job
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return vectors, nil
}
