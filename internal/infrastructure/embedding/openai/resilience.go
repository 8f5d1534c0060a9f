package openai

import (
	"context"
	"errors"
	"net"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
	"github.com/jamal-campbell/ai-tax-assistant/internal/infrastructure/resilience"
)

// classifyEmbedError drives retry and breaker decisions for embeddings calls.
func classifyEmbedError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if domain.IsKind(err, domain.ErrEmbeddingUnavailable) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

// ResilientEmbedder runs embeddings calls through the retry/breaker executor.
type ResilientEmbedder struct {
	inner    *Client
	executor *resilience.Executor
}

func NewResilientEmbedder(inner *Client, executor *resilience.Executor) *ResilientEmbedder {
	return &ResilientEmbedder{inner: inner, executor: executor}
}

func (e *ResilientEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := e.executor.Execute(ctx, "openai_embed", func(ctx context.Context) error {
		var embedErr error
		vectors, embedErr = e.inner.Embed(ctx, texts)
		return embedErr
	}, classifyEmbedError)
	if err != nil {
		return nil, wrapEmbedError("embed texts", err)
	}
	return vectors, nil
}

func (e *ResilientEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := e.executor.Execute(ctx, "openai_embed", func(ctx context.Context) error {
		var embedErr error
		vector, embedErr = e.inner.EmbedQuery(ctx, text)
		return embedErr
	}, classifyEmbedError)
	if err != nil {
		return nil, wrapEmbedError("embed query", err)
	}
	return vector, nil
}

func wrapEmbedError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrEmbeddingUnavailable) {
		return err
	}
	if resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrEmbeddingUnavailable, operation, err)
	}
	return err
}
