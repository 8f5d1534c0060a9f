package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
	"github.com/jamal-campbell/ai-tax-assistant/internal/core/ports"
)

type stubRetriever struct {
	passages []domain.RetrievedPassage
	err      error
}

func (s *stubRetriever) Retrieve(context.Context, string) ([]domain.RetrievedPassage, error) {
	return s.passages, s.err
}

type scriptedGenerator struct {
	answer string
	genErr error

	deltas    []ports.GenerationDelta
	streamErr error

	// proceed, when set, gates each Stream call; the call emits its deltas
	// only after one receive.
	proceed chan struct{}

	mu          sync.Mutex
	streamCalls int
}

func (g *scriptedGenerator) Generate(context.Context, ports.GenerationRequest) (string, error) {
	return g.answer, g.genErr
}

func (g *scriptedGenerator) Stream(ctx context.Context, _ ports.GenerationRequest) (<-chan ports.GenerationDelta, error) {
	if g.streamErr != nil {
		return nil, g.streamErr
	}
	g.mu.Lock()
	g.streamCalls++
	g.mu.Unlock()

	out := make(chan ports.GenerationDelta, len(g.deltas)+1)
	go func() {
		defer close(out)
		if g.proceed != nil {
			select {
			case <-g.proceed:
			case <-ctx.Done():
				return
			}
		}
		for _, delta := range g.deltas {
			out <- delta
		}
	}()
	return out, nil
}

func (g *scriptedGenerator) Healthy(context.Context) bool { return true }

type recordingSessions struct {
	mu        sync.Mutex
	turns     map[string][]domain.Turn
	appendErr error
}

func newRecordingSessions() *recordingSessions {
	return &recordingSessions{turns: make(map[string][]domain.Turn)}
}

func (s *recordingSessions) AppendTurn(_ context.Context, sessionID string, turn domain.Turn) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[sessionID] = append(s.turns[sessionID], turn)
	return nil
}

func (s *recordingSessions) History(_ context.Context, sessionID string) ([]domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Turn(nil), s.turns[sessionID]...), nil
}

func (s *recordingSessions) Exists(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.turns[sessionID]
	return ok, nil
}

func (s *recordingSessions) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, sessionID)
	return nil
}

func (s *recordingSessions) PurgeExpired(context.Context, time.Duration) (int, error) { return 0, nil }
func (s *recordingSessions) Healthy(context.Context) bool                             { return true }

func (s *recordingSessions) lastTurn(t *testing.T, sessionID string) domain.Turn {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns[sessionID]
	if len(turns) == 0 {
		t.Fatalf("no turns persisted for session %s", sessionID)
	}
	return turns[len(turns)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func twoPassages() []domain.RetrievedPassage {
	return []domain.RetrievedPassage{
		{DocumentID: "doc-1", Source: "pub501.pdf", ChunkIndex: 0, Text: "deadlines", Score: 0.9},
		{DocumentID: "doc-2", Source: "pub17.pdf", ChunkIndex: 4, Text: "extensions", Score: 0.8},
	}
}

func collectEvents(t *testing.T, events <-chan domain.StreamEvent) []domain.StreamEvent {
	t.Helper()
	out := make([]domain.StreamEvent, 0, 8)
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, event)
		case <-timeout:
			t.Fatalf("timed out waiting for stream to close; got %d events", len(out))
		}
	}
}

func TestStreamEmitsSourcesChunksThenDone(t *testing.T) {
	sessions := newRecordingSessions()
	uc := NewChatUseCase(
		&stubRetriever{passages: twoPassages()},
		&scriptedGenerator{deltas: []ports.GenerationDelta{{Text: "April "}, {Text: "15 [1]"}}},
		sessions,
		testLogger(),
	)

	sid, events, err := uc.Stream(context.Background(), "", "deadline?")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if sid == "" {
		t.Fatalf("empty session id")
	}

	got := collectEvents(t, events)
	if len(got) != 4 {
		t.Fatalf("got %d events, want 4", len(got))
	}
	if got[0].Type != domain.EventSources {
		t.Fatalf("first event = %s, want sources", got[0].Type)
	}
	if got[0].SessionID != sid {
		t.Fatalf("sources session id = %s, want %s", got[0].SessionID, sid)
	}
	if got[1].Type != domain.EventChunk || got[2].Type != domain.EventChunk {
		t.Fatalf("middle events = %s, %s", got[1].Type, got[2].Type)
	}
	if got[3].Type != domain.EventDone {
		t.Fatalf("terminal event = %s, want done", got[3].Type)
	}
	for _, event := range got[:3] {
		if event.Terminal() {
			t.Fatalf("non-final event %s is terminal", event.Type)
		}
	}

	turn := sessions.lastTurn(t, sid)
	if turn.Answer != "April 15 [1]" {
		t.Fatalf("persisted answer = %q", turn.Answer)
	}
	if turn.Incomplete {
		t.Fatalf("completed turn marked incomplete")
	}
	if len(turn.Citations) != 1 || turn.Citations[0].DocumentID != "doc-1" {
		t.Fatalf("citations = %+v", turn.Citations)
	}
}

func TestStreamEmptyCorpusStillSendsSources(t *testing.T) {
	uc := NewChatUseCase(
		&stubRetriever{},
		&scriptedGenerator{deltas: []ports.GenerationDelta{{Text: "I cannot find that."}}},
		newRecordingSessions(),
		testLogger(),
	)

	_, events, err := uc.Stream(context.Background(), "s-1", "anything")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	got := collectEvents(t, events)
	if got[0].Type != domain.EventSources {
		t.Fatalf("first event = %s", got[0].Type)
	}
	if len(got[0].Sources) != 0 {
		t.Fatalf("sources = %+v, want empty", got[0].Sources)
	}
	if got[len(got)-1].Type != domain.EventDone {
		t.Fatalf("terminal = %s", got[len(got)-1].Type)
	}
}

func TestStreamGeneratorFailureMidStreamPersistsPartialTurn(t *testing.T) {
	sessions := newRecordingSessions()
	uc := NewChatUseCase(
		&stubRetriever{passages: twoPassages()},
		&scriptedGenerator{deltas: []ports.GenerationDelta{
			{Text: "April "},
			{Text: "15"},
			{Err: errors.New("upstream timeout")},
		}},
		sessions,
		testLogger(),
	)

	_, events, err := uc.Stream(context.Background(), "s-1", "deadline?")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	got := collectEvents(t, events)

	last := got[len(got)-1]
	if last.Type != domain.EventError {
		t.Fatalf("terminal event = %s, want error", last.Type)
	}
	terminals := 0
	for _, event := range got {
		if event.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("terminal events = %d, want 1", terminals)
	}

	turn := sessions.lastTurn(t, "s-1")
	if turn.Answer != "April 15" {
		t.Fatalf("partial answer = %q", turn.Answer)
	}
	if !turn.Incomplete {
		t.Fatalf("partial turn not marked incomplete")
	}
}

func TestStreamRetrievalFailurePersistsFailedTurn(t *testing.T) {
	sessions := newRecordingSessions()
	uc := NewChatUseCase(
		&stubRetriever{err: domain.WrapError(domain.ErrRetrievalUnavailable, "query vector index", errors.New("conn refused"))},
		&scriptedGenerator{},
		sessions,
		testLogger(),
	)

	_, events, err := uc.Stream(context.Background(), "s-1", "deadline?")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	got := collectEvents(t, events)
	if len(got) != 1 || got[0].Type != domain.EventError {
		t.Fatalf("events = %+v, want single error", got)
	}

	turn := sessions.lastTurn(t, "s-1")
	if turn.Query != "deadline?" || turn.Answer != "" {
		t.Fatalf("failed turn = %+v", turn)
	}
	if !turn.Incomplete {
		t.Fatalf("failed turn not marked incomplete")
	}
}

func TestAnswerRetrievalFailurePersistsFailedTurn(t *testing.T) {
	sessions := newRecordingSessions()
	uc := NewChatUseCase(
		&stubRetriever{err: domain.WrapError(domain.ErrRetrievalUnavailable, "query vector index", errors.New("conn refused"))},
		&scriptedGenerator{},
		sessions,
		testLogger(),
	)

	_, err := uc.Answer(context.Background(), "s-1", "deadline?")
	if !domain.IsKind(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("error = %v, want ErrRetrievalUnavailable", err)
	}

	turn := sessions.lastTurn(t, "s-1")
	if turn.Answer != "" || !turn.Incomplete {
		t.Fatalf("failed turn = %+v", turn)
	}
}

func TestAnswerGeneratorFailurePersistsFailedTurn(t *testing.T) {
	sessions := newRecordingSessions()
	uc := NewChatUseCase(
		&stubRetriever{passages: twoPassages()},
		&scriptedGenerator{genErr: errors.New("model overloaded")},
		sessions,
		testLogger(),
	)

	_, err := uc.Answer(context.Background(), "s-1", "deadline?")
	if !domain.IsKind(err, domain.ErrGenerationFailed) {
		t.Fatalf("error = %v, want ErrGenerationFailed", err)
	}

	turn := sessions.lastTurn(t, "s-1")
	if turn.Answer != "" || !turn.Incomplete {
		t.Fatalf("failed turn = %+v", turn)
	}
}

func TestStreamRejectsEmptyQuery(t *testing.T) {
	uc := NewChatUseCase(&stubRetriever{}, &scriptedGenerator{}, newRecordingSessions(), testLogger())

	_, _, err := uc.Stream(context.Background(), "s-1", "   ")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
}

func TestAnswerResolvesCitedSources(t *testing.T) {
	sessions := newRecordingSessions()
	uc := NewChatUseCase(
		&stubRetriever{passages: twoPassages()},
		&scriptedGenerator{answer: "See [2] for extension rules."},
		sessions,
		testLogger(),
	)

	answer, err := uc.Answer(context.Background(), "s-1", "extensions?")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(answer.Sources) != 1 || answer.Sources[0].DocumentID != "doc-2" {
		t.Fatalf("sources = %+v, want only doc-2", answer.Sources)
	}
	turn := sessions.lastTurn(t, "s-1")
	if len(turn.Citations) != 1 || turn.Citations[0].ChunkIndex != 4 {
		t.Fatalf("citations = %+v", turn.Citations)
	}
}

func TestAnswerDeliveredWhenPersistFails(t *testing.T) {
	sessions := newRecordingSessions()
	sessions.appendErr = errors.New("store down")
	uc := NewChatUseCase(
		&stubRetriever{passages: twoPassages()},
		&scriptedGenerator{answer: "April 15 [1]"},
		sessions,
		testLogger(),
	)

	answer, err := uc.Answer(context.Background(), "s-1", "deadline?")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Response != "April 15 [1]" {
		t.Fatalf("Response = %q", answer.Response)
	}
}

func TestTurnsWithinSessionAreSerialized(t *testing.T) {
	proceed := make(chan struct{})
	gen := &scriptedGenerator{
		deltas:  []ports.GenerationDelta{{Text: "ok"}},
		proceed: proceed,
	}
	uc := NewChatUseCase(&stubRetriever{passages: twoPassages()}, gen, newRecordingSessions(), testLogger())

	_, first, err := uc.Stream(context.Background(), "s-1", "first")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	// Wait for the first turn to hold the session slot.
	if event := <-first; event.Type != domain.EventSources {
		t.Fatalf("first event of turn 1 = %s", event.Type)
	}

	_, second, err := uc.Stream(context.Background(), "s-1", "second")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	select {
	case event := <-second:
		t.Fatalf("turn 2 emitted %s while turn 1 in flight", event.Type)
	case <-time.After(50 * time.Millisecond):
	}

	proceed <- struct{}{} // let turn 1 finish
	collectEvents(t, first)

	proceed <- struct{}{} // then turn 2
	got := collectEvents(t, second)
	if got[0].Type != domain.EventSources || got[len(got)-1].Type != domain.EventDone {
		t.Fatalf("turn 2 events = %+v", got)
	}
}

func TestDistinctSessionsRunInParallel(t *testing.T) {
	proceed := make(chan struct{})
	gen := &scriptedGenerator{
		deltas:  []ports.GenerationDelta{{Text: "ok"}},
		proceed: proceed,
	}
	uc := NewChatUseCase(&stubRetriever{passages: twoPassages()}, gen, newRecordingSessions(), testLogger())

	_, first, err := uc.Stream(context.Background(), "s-1", "q")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if event := <-first; event.Type != domain.EventSources {
		t.Fatalf("first event = %s", event.Type)
	}

	// A different session must reach its sources event while s-1 is mid-turn.
	_, second, err := uc.Stream(context.Background(), "s-2", "q")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	select {
	case event := <-second:
		if event.Type != domain.EventSources {
			t.Fatalf("second session first event = %s", event.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("second session blocked behind first")
	}

	proceed <- struct{}{}
	collectEvents(t, first)
	proceed <- struct{}{}
	collectEvents(t, second)
}
