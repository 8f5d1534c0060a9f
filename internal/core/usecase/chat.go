package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
	"github.com/jamal-campbell/ai-tax-assistant/internal/core/ports"
)

const (
	// streamBuffer bounds the event channel so a slow consumer applies
	// backpressure instead of growing memory.
	streamBuffer = 32
	// finalizeTimeout bounds partial-turn persistence after the request
	// context is gone.
	finalizeTimeout = 5 * time.Second
)

// PassageProvider is the retrieval stage seen by the orchestrator.
type PassageProvider interface {
	Retrieve(ctx context.Context, query string) ([]domain.RetrievedPassage, error)
}

// ChatUseCase runs one conversational turn: retrieve context, generate the
// answer, resolve citations, persist the turn. Turns within a session are
// serialized; the passage set is fixed at retrieval and never re-queried
// mid-turn.
type ChatUseCase struct {
	retriever PassageProvider
	generator ports.Generator
	sessions  ports.SessionStore
	gate      *sessionGate
	logger    *slog.Logger
}

func NewChatUseCase(
	retriever PassageProvider,
	generator ports.Generator,
	sessions ports.SessionStore,
	logger *slog.Logger,
) *ChatUseCase {
	return &ChatUseCase{
		retriever: retriever,
		generator: generator,
		sessions:  sessions,
		gate:      newSessionGate(),
		logger:    logger,
	}
}

func (uc *ChatUseCase) Answer(ctx context.Context, sessionID, query string) (*domain.ChatAnswer, error) {
	sessionID, query, err := uc.validate(sessionID, query)
	if err != nil {
		return nil, err
	}

	release, err := uc.gate.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	history := uc.loadHistory(ctx, sessionID)
	passages, err := uc.retriever.Retrieve(ctx, query)
	if err != nil {
		// A failed turn still enters history so the session stays consistent.
		uc.finalizePartial(sessionID, query, "", nil)
		return nil, err
	}

	answer, err := uc.generator.Generate(ctx, ports.GenerationRequest{
		Query:    query,
		Passages: passages,
		History:  history,
	})
	if err != nil {
		uc.finalizePartial(sessionID, query, "", passages)
		return nil, wrapGenerateErr(err)
	}

	cited := ResolveCitations(answer, passages)
	uc.persistTurn(ctx, sessionID, domain.Turn{
		Query:     query,
		Answer:    answer,
		Citations: CitationRefs(cited),
	})

	return &domain.ChatAnswer{
		Response:  answer,
		Sources:   cited,
		SessionID: sessionID,
	}, nil
}

// Stream delivers protocol events for one turn: a sources event first, then
// answer chunks, then exactly one terminal event. The channel closes after the
// terminal event.
func (uc *ChatUseCase) Stream(ctx context.Context, sessionID, query string) (string, <-chan domain.StreamEvent, error) {
	sessionID, query, err := uc.validate(sessionID, query)
	if err != nil {
		return "", nil, err
	}

	events := make(chan domain.StreamEvent, streamBuffer)
	go uc.runStream(ctx, sessionID, query, events)
	return sessionID, events, nil
}

func (uc *ChatUseCase) runStream(ctx context.Context, sessionID, query string, events chan<- domain.StreamEvent) {
	defer close(events)

	release, err := uc.gate.acquire(ctx, sessionID)
	if err != nil {
		uc.emit(ctx, events, errorEvent(err))
		return
	}
	defer release()

	history := uc.loadHistory(ctx, sessionID)
	passages, err := uc.retriever.Retrieve(ctx, query)
	if err != nil {
		// A failed turn still enters history so the session stays consistent.
		uc.finalizePartial(sessionID, query, "", nil)
		uc.emit(ctx, events, errorEvent(err))
		return
	}

	if !uc.emit(ctx, events, domain.StreamEvent{
		Type:      domain.EventSources,
		Sources:   passages,
		SessionID: sessionID,
	}) {
		return
	}

	deltas, err := uc.generator.Stream(ctx, ports.GenerationRequest{
		Query:    query,
		Passages: passages,
		History:  history,
	})
	if err != nil {
		uc.finalizePartial(sessionID, query, "", passages)
		uc.emit(ctx, events, errorEvent(wrapGenerateErr(err)))
		return
	}

	var answer strings.Builder
	for {
		select {
		case <-ctx.Done():
			// Consumer is gone. Keep what was generated as a partial turn.
			uc.finalizePartial(sessionID, query, answer.String(), passages)
			return
		case delta, ok := <-deltas:
			if !ok {
				uc.finalizeComplete(ctx, sessionID, query, answer.String(), passages, events)
				return
			}
			if delta.Err != nil {
				uc.finalizePartial(sessionID, query, answer.String(), passages)
				uc.emit(ctx, events, errorEvent(wrapGenerateErr(delta.Err)))
				return
			}
			answer.WriteString(delta.Text)
			if !uc.emit(ctx, events, domain.StreamEvent{Type: domain.EventChunk, Content: delta.Text}) {
				uc.finalizePartial(sessionID, query, answer.String(), passages)
				return
			}
		}
	}
}

func (uc *ChatUseCase) finalizeComplete(
	ctx context.Context,
	sessionID, query, answer string,
	passages []domain.RetrievedPassage,
	events chan<- domain.StreamEvent,
) {
	cited := ResolveCitations(answer, passages)
	uc.persistTurn(ctx, sessionID, domain.Turn{
		Query:     query,
		Answer:    answer,
		Citations: CitationRefs(cited),
	})
	uc.emit(ctx, events, domain.StreamEvent{Type: domain.EventDone})
}

// finalizePartial persists an interrupted turn under a detached short-deadline
// context, since the request context may already be cancelled.
func (uc *ChatUseCase) finalizePartial(sessionID, query, answer string, passages []domain.RetrievedPassage) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(context.Background()), finalizeTimeout)
	defer cancel()

	cited := ResolveCitations(answer, passages)
	uc.persistTurn(ctx, sessionID, domain.Turn{
		Query:      query,
		Answer:     answer,
		Citations:  CitationRefs(cited),
		Incomplete: true,
	})
}

// persistTurn records the turn; a session store failure degrades the request
// (answer already delivered or about to be) instead of failing it.
func (uc *ChatUseCase) persistTurn(ctx context.Context, sessionID string, turn domain.Turn) {
	if err := uc.sessions.AppendTurn(ctx, sessionID, turn); err != nil {
		uc.logger.Warn("session_persist_failed", "session_id", sessionID, "error", err)
	}
}

func (uc *ChatUseCase) loadHistory(ctx context.Context, sessionID string) []domain.Turn {
	history, err := uc.sessions.History(ctx, sessionID)
	if err != nil {
		uc.logger.Warn("session_history_unavailable", "session_id", sessionID, "error", err)
		return nil
	}
	return history
}

// emit delivers an event unless the consumer's context is done.
func (uc *ChatUseCase) emit(ctx context.Context, events chan<- domain.StreamEvent, event domain.StreamEvent) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func (uc *ChatUseCase) validate(sessionID, query string) (string, string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", "", domain.WrapError(domain.ErrInvalidInput, "chat", errors.New("empty query"))
	}
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.NewString()
	}
	return sessionID, query, nil
}

func errorEvent(err error) domain.StreamEvent {
	return domain.StreamEvent{Type: domain.EventError, Message: err.Error()}
}

func wrapGenerateErr(err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, domain.ErrGenerationFailed) {
		return err
	}
	return domain.WrapError(domain.ErrGenerationFailed, "generate answer", err)
}
