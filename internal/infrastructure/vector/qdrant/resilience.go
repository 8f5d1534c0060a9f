package qdrant

import (
	"context"
	"errors"
	"net"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
	"github.com/jamal-campbell/ai-tax-assistant/internal/infrastructure/resilience"
)

// classifyIndexError drives retry and breaker decisions for index calls.
func classifyIndexError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

// ResilientIndex retries idempotent reads through the executor. Writes pass
// straight through; upserts use deterministic point ids so the worker's own
// failure handling covers them.
type ResilientIndex struct {
	inner    *Client
	executor *resilience.Executor
}

func NewResilientIndex(inner *Client, executor *resilience.Executor) *ResilientIndex {
	return &ResilientIndex{inner: inner, executor: executor}
}

func (x *ResilientIndex) UpsertChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, vectors [][]float32) error {
	return x.inner.UpsertChunks(ctx, doc, chunks, vectors)
}

func (x *ResilientIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	return x.inner.DeleteByDocument(ctx, documentID)
}

func (x *ResilientIndex) Query(ctx context.Context, vector []float32, k int, filter domain.SearchFilter) ([]domain.RetrievedPassage, error) {
	var passages []domain.RetrievedPassage
	err := x.executor.Execute(ctx, "qdrant_query", func(ctx context.Context) error {
		var queryErr error
		passages, queryErr = x.inner.Query(ctx, vector, k, filter)
		return queryErr
	}, classifyIndexError)
	if err != nil {
		return nil, err
	}
	return passages, nil
}

func (x *ResilientIndex) DocumentChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := x.executor.Execute(ctx, "qdrant_scroll", func(ctx context.Context) error {
		var scrollErr error
		chunks, scrollErr = x.inner.DocumentChunks(ctx, documentID)
		return scrollErr
	}, classifyIndexError)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (x *ResilientIndex) Healthy(ctx context.Context) bool {
	return x.inner.Healthy(ctx)
}
