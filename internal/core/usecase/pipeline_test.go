package usecase

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
	"github.com/jamal-campbell/ai-tax-assistant/internal/core/ports"
	"github.com/jamal-campbell/ai-tax-assistant/internal/infrastructure/vector/memstore"
)

// storedTextExtractor reads the uploaded payload back from object storage and
// yields one page per blank-line section, like the plaintext extractor.
type storedTextExtractor struct {
	storage ports.ObjectStorage
}

func (f storedTextExtractor) Extract(ctx context.Context, storageKey, _ string) ([]domain.Page, error) {
	rc, err := f.storage.Open(ctx, storageKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	var pages []domain.Page
	for _, section := range strings.Split(string(raw), "\n\n") {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		pages = append(pages, domain.Page{Number: len(pages) + 1, Text: section})
	}
	return pages, nil
}

type pageChunker struct{}

func (pageChunker) Split(documentID string, pages []domain.Page) []domain.Chunk {
	chunks := make([]domain.Chunk, 0, len(pages))
	for _, page := range pages {
		chunks = append(chunks, domain.Chunk{
			DocumentID: documentID,
			Index:      len(chunks),
			Page:       page.Number,
			Text:       page.Text,
		})
	}
	return chunks
}

// keywordEmbedder maps text to keyword-count vectors so cosine similarity
// ranks passages sharing words with the query highest.
type keywordEmbedder struct {
	vocab []string
}

func (f keywordEmbedder) embed(text string) []float32 {
	lower := strings.ToLower(text)
	vec := make([]float32, len(f.vocab))
	for i, word := range f.vocab {
		vec[i] = float32(strings.Count(lower, word))
	}
	return vec
}

func (f keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = f.embed(text)
	}
	return out, nil
}

func (f keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return f.embed(text), nil
}

func TestUploadQueryDeleteLifecycle(t *testing.T) {
	ctx := context.Background()

	registry := newMemRegistry()
	storage := newMemObjectStorage()
	queue := &captureQueue{}
	index := memstore.New()
	embedder := keywordEmbedder{vocab: []string{"deadline", "april", "rate", "percent"}}

	ingest := NewIngestDocumentUseCase(registry, storage, index, queue, extFormats{})
	processor := NewProcessDocumentUseCase(
		registry,
		storedTextExtractor{storage: storage},
		pageChunker{},
		embedder,
		index,
		ProcessOptions{},
	)

	content := "The filing deadline is April 15.\n\nThe standard rate is 10 percent."
	doc, err := ingest.Upload(ctx, "guide.txt", domain.SourceUser, strings.NewReader(content))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(queue.published) != 1 || queue.published[0] != doc.ID {
		t.Fatalf("expected published document id, got %v", queue.published)
	}

	// The worker picks the id off the queue.
	if err := processor.ProcessByID(ctx, doc.ID); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}

	stored, err := registry.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.Status != domain.StatusReady || stored.ChunkCount != 2 {
		t.Fatalf("unexpected document state: %+v", stored)
	}
	if index.Len() != 2 {
		t.Fatalf("expected 2 indexed chunks, got %d", index.Len())
	}

	retriever := NewRetriever(embedder, index, RetrieverOptions{TopK: 2})
	passages, err := retriever.Retrieve(ctx, "When is the filing deadline?")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(passages) == 0 {
		t.Fatal("expected at least one passage")
	}
	if !strings.Contains(passages[0].Text, "deadline") {
		t.Fatalf("expected deadline passage first, got %q", passages[0].Text)
	}

	if err := ingest.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if index.Len() != 0 {
		t.Fatalf("expected empty index after delete, got %d", index.Len())
	}
	if _, err := storage.Open(ctx, doc.ID); err == nil {
		t.Fatal("expected payload removed from storage")
	}
	if _, err := registry.GetByID(ctx, doc.ID); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
}
