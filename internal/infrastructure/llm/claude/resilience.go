package claude

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
	"github.com/jamal-campbell/ai-tax-assistant/internal/core/ports"
	"github.com/jamal-campbell/ai-tax-assistant/internal/infrastructure/resilience"
)

// ClassifyError drives retry and breaker decisions for Messages API calls.
// Rate limits and server errors are transient; validation errors are not.
func ClassifyError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if isRetryableHTTPStatus(statusErr.StatusCode) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

// WrapGenerationError maps transient generation failures to the temporary
// error kind so callers can report a retriable condition.
func WrapGenerationError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrGenerationFailed) {
		return err
	}

	class := ClassifyError(err)
	if class.Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return domain.WrapError(domain.ErrGenerationFailed, operation, err)
}

// ResilientGenerator runs one-shot generation through the retry/breaker
// executor. Streams are not retried; replaying a partially delivered answer
// would duplicate output the client already rendered.
type ResilientGenerator struct {
	inner    *Client
	executor *resilience.Executor
}

func NewResilientGenerator(inner *Client, executor *resilience.Executor) *ResilientGenerator {
	return &ResilientGenerator{inner: inner, executor: executor}
}

func (g *ResilientGenerator) Generate(ctx context.Context, req ports.GenerationRequest) (string, error) {
	var answer string
	err := g.executor.Execute(ctx, "claude_generate", func(ctx context.Context) error {
		var genErr error
		answer, genErr = g.inner.Generate(ctx, req)
		return genErr
	}, ClassifyError)
	if err != nil {
		return "", WrapGenerationError("generate answer", err)
	}
	return answer, nil
}

func (g *ResilientGenerator) Stream(ctx context.Context, req ports.GenerationRequest) (<-chan ports.GenerationDelta, error) {
	deltas, err := g.inner.Stream(ctx, req)
	if err != nil {
		return nil, WrapGenerationError("start answer stream", err)
	}
	return deltas, nil
}

func (g *ResilientGenerator) Healthy(ctx context.Context) bool {
	return g.inner.Healthy(ctx)
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
