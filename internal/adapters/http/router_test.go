package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
	"github.com/jamal-campbell/ai-tax-assistant/internal/core/ports"
	"github.com/jamal-campbell/ai-tax-assistant/internal/observability/metrics"
)

type fakeIngestor struct {
	uploaded   *domain.Document
	uploadErr  error
	deleteErr  error
	gotSource  domain.SourceType
	deletedID  string
	uploadedAt time.Time
}

func (f *fakeIngestor) Upload(_ context.Context, filename string, sourceType domain.SourceType, body io.Reader) (*domain.Document, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	if _, err := io.ReadAll(body); err != nil {
		return nil, err
	}
	f.gotSource = sourceType
	doc := &domain.Document{
		ID:         "doc-1",
		Filename:   filename,
		SourceType: sourceType,
		Status:     domain.StatusUploaded,
		CreatedAt:  f.uploadedAt,
		UpdatedAt:  f.uploadedAt,
	}
	f.uploaded = doc
	return doc, nil
}

func (f *fakeIngestor) Delete(_ context.Context, documentID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedID = documentID
	return nil
}

type fakeReingestor struct {
	report domain.ReingestReport
	err    error
}

func (f *fakeReingestor) ReingestSystemDocuments(context.Context) (domain.ReingestReport, error) {
	return f.report, f.err
}

type fakeChat struct {
	answer    *domain.ChatAnswer
	answerErr error
	events    []domain.StreamEvent
	streamErr error
}

func (f *fakeChat) Answer(_ context.Context, sessionID, _ string) (*domain.ChatAnswer, error) {
	if f.answerErr != nil {
		return nil, f.answerErr
	}
	return f.answer, nil
}

func (f *fakeChat) Stream(_ context.Context, sessionID, _ string) (string, <-chan domain.StreamEvent, error) {
	if f.streamErr != nil {
		return "", nil, f.streamErr
	}
	ch := make(chan domain.StreamEvent, len(f.events))
	for _, event := range f.events {
		ch <- event
	}
	close(ch)
	return sessionID, ch, nil
}

type fakeRegistry struct {
	docs    []domain.Document
	doc     *domain.Document
	getErr  error
	listErr error
}

func (f *fakeRegistry) Create(context.Context, *domain.Document) error { return nil }

func (f *fakeRegistry) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.doc, nil
}

func (f *fakeRegistry) List(context.Context) ([]domain.Document, error) {
	return f.docs, f.listErr
}

func (f *fakeRegistry) UpdateStatus(context.Context, string, domain.DocumentStatus, string) error {
	return nil
}
func (f *fakeRegistry) SetChunkCount(context.Context, string, int) error { return nil }
func (f *fakeRegistry) Delete(context.Context, string) error             { return nil }

type fakeIndex struct {
	chunks  []domain.Chunk
	healthy bool
}

func (f *fakeIndex) UpsertChunks(context.Context, *domain.Document, []domain.Chunk, [][]float32) error {
	return nil
}
func (f *fakeIndex) DeleteByDocument(context.Context, string) error { return nil }
func (f *fakeIndex) Query(context.Context, []float32, int, domain.SearchFilter) ([]domain.RetrievedPassage, error) {
	return nil, nil
}
func (f *fakeIndex) DocumentChunks(context.Context, string) ([]domain.Chunk, error) {
	return f.chunks, nil
}
func (f *fakeIndex) Healthy(context.Context) bool { return f.healthy }

type fakeSessions struct {
	turns   []domain.Turn
	exists  bool
	healthy bool
	cleared []string
}

func (f *fakeSessions) AppendTurn(context.Context, string, domain.Turn) error { return nil }

func (f *fakeSessions) History(context.Context, string) ([]domain.Turn, error) {
	return f.turns, nil
}

func (f *fakeSessions) Exists(context.Context, string) (bool, error) { return f.exists, nil }

func (f *fakeSessions) Clear(_ context.Context, sessionID string) error {
	f.cleared = append(f.cleared, sessionID)
	return nil
}

func (f *fakeSessions) PurgeExpired(context.Context, time.Duration) (int, error) { return 0, nil }
func (f *fakeSessions) Healthy(context.Context) bool                             { return f.healthy }

type fakeGenerator struct {
	healthy bool
}

func (f *fakeGenerator) Generate(context.Context, ports.GenerationRequest) (string, error) {
	return "", nil
}

func (f *fakeGenerator) Stream(context.Context, ports.GenerationRequest) (<-chan ports.GenerationDelta, error) {
	return nil, nil
}

func (f *fakeGenerator) Healthy(context.Context) bool { return f.healthy }

type routerFakes struct {
	ingestor   *fakeIngestor
	reingestor *fakeReingestor
	chat       *fakeChat
	registry   *fakeRegistry
	index      *fakeIndex
	sessions   *fakeSessions
	generator  *fakeGenerator
}

func newRouterFakes() *routerFakes {
	return &routerFakes{
		ingestor:   &fakeIngestor{uploadedAt: time.Now().UTC()},
		reingestor: &fakeReingestor{},
		chat:       &fakeChat{},
		registry:   &fakeRegistry{},
		index:      &fakeIndex{healthy: true},
		sessions:   &fakeSessions{healthy: true},
		generator:  &fakeGenerator{healthy: true},
	}
}

func newTestHandler(f *routerFakes) http.Handler {
	return NewRouter(
		"api-test",
		f.ingestor,
		f.reingestor,
		f.chat,
		f.registry,
		f.index,
		f.sessions,
		f.generator,
		metrics.NewHTTPServerMetrics("api-test"),
		slog.New(slog.DiscardHandler),
	).Handler()
}

func TestPingEndpoint(t *testing.T) {
	handler := newTestHandler(newRouterFakes())

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestHealthReportsDegradedService(t *testing.T) {
	fakes := newRouterFakes()
	fakes.generator.healthy = false
	handler := newTestHandler(fakes)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	var body struct {
		Status   string          `json:"status"`
		Services map[string]bool `json:"services"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "degraded" {
		t.Fatalf("expected degraded, got %q", body.Status)
	}
	if body.Services["generator"] {
		t.Fatalf("expected generator unhealthy: %+v", body.Services)
	}
	if !body.Services["vector_index"] {
		t.Fatalf("expected vector_index healthy: %+v", body.Services)
	}
}

func TestChatReturnsAnswerWithSources(t *testing.T) {
	fakes := newRouterFakes()
	fakes.chat.answer = &domain.ChatAnswer{
		Response: "The deadline is April 15 [1].",
		Sources: []domain.RetrievedPassage{
			{DocumentID: "doc-1", Source: "guide.pdf", ChunkIndex: 0, Text: "April 15", Score: 0.9},
		},
		SessionID: "sess-1",
	}
	handler := newTestHandler(fakes)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"query":"When is the deadline?","session_id":"sess-1"}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	var body domain.ChatAnswer
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.SessionID != "sess-1" || len(body.Sources) != 1 {
		t.Fatalf("unexpected answer: %+v", body)
	}
}

func TestChatRejectsInvalidJSON(t *testing.T) {
	handler := newTestHandler(newRouterFakes())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not-json"))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestChatStreamWritesSSEFrames(t *testing.T) {
	fakes := newRouterFakes()
	fakes.chat.events = []domain.StreamEvent{
		{Type: domain.EventSources, Sources: []domain.RetrievedPassage{{DocumentID: "doc-1"}}, SessionID: "sess-1"},
		{Type: domain.EventChunk, Content: "April "},
		{Type: domain.EventChunk, Content: "15"},
		{Type: domain.EventDone},
	}
	handler := newTestHandler(fakes)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream",
		strings.NewReader(`{"query":"When?","session_id":"sess-1"}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	frames := strings.Split(strings.TrimSpace(res.Body.String()), "\n\n")
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d: %q", len(frames), res.Body.String())
	}
	for _, frame := range frames {
		if !strings.HasPrefix(frame, "data: ") {
			t.Fatalf("frame missing data prefix: %q", frame)
		}
	}

	var first struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[0], "data: ")), &first); err != nil {
		t.Fatalf("decode first frame: %v", err)
	}
	if first.Type != "sources" || first.SessionID != "sess-1" {
		t.Fatalf("unexpected first frame: %+v", first)
	}

	var last struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[3], "data: ")), &last); err != nil {
		t.Fatalf("decode last frame: %v", err)
	}
	if last.Type != "done" {
		t.Fatalf("expected done terminal, got %+v", last)
	}
}

func TestChatStreamValidationFailureMapsTo400(t *testing.T) {
	fakes := newRouterFakes()
	fakes.chat.streamErr = domain.WrapError(domain.ErrInvalidInput, "stream", io.ErrUnexpectedEOF)
	handler := newTestHandler(fakes)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"query":""}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestHistoryUnknownSessionReturns404(t *testing.T) {
	handler := newTestHandler(newRouterFakes())

	req := httptest.NewRequest(http.MethodGet, "/api/chat/history/missing", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestHistoryReturnsTurnsInOrder(t *testing.T) {
	fakes := newRouterFakes()
	fakes.sessions.exists = true
	fakes.sessions.turns = []domain.Turn{
		{Query: "first", Answer: "one"},
		{Query: "second", Answer: "two"},
	}
	handler := newTestHandler(fakes)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/history/sess-1", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	var body struct {
		SessionID string        `json:"session_id"`
		Turns     []domain.Turn `json:"turns"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.SessionID != "sess-1" || len(body.Turns) != 2 || body.Turns[0].Query != "first" {
		t.Fatalf("unexpected history: %+v", body)
	}
}

func TestClearHistoryIsIdempotent(t *testing.T) {
	fakes := newRouterFakes()
	handler := newTestHandler(fakes)

	for range 2 {
		req := httptest.NewRequest(http.MethodDelete, "/api/chat/history/sess-1", nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)

		if res.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", res.Code)
		}
	}
	if len(fakes.sessions.cleared) != 2 {
		t.Fatalf("expected 2 clear calls, got %d", len(fakes.sessions.cleared))
	}
}

func TestUploadDocumentDefaultsToUserSource(t *testing.T) {
	fakes := newRouterFakes()
	handler := newTestHandler(fakes)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "guide.pdf")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write([]byte("%PDF-1.4")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if fakes.ingestor.gotSource != domain.SourceUser {
		t.Fatalf("expected user source, got %q", fakes.ingestor.gotSource)
	}
}

func TestUploadRejectsMissingFileField(t *testing.T) {
	handler := newTestHandler(newRouterFakes())

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestDeleteUnknownDocumentReturns404(t *testing.T) {
	fakes := newRouterFakes()
	fakes.ingestor.deleteErr = domain.WrapError(domain.ErrDocumentNotFound, "delete", io.EOF)
	handler := newTestHandler(fakes)

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/missing", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestGetDocumentIncludesChunks(t *testing.T) {
	fakes := newRouterFakes()
	fakes.registry.doc = &domain.Document{ID: "doc-1", Filename: "guide.pdf", Status: domain.StatusReady}
	fakes.index.chunks = []domain.Chunk{
		{DocumentID: "doc-1", Index: 0, Page: 1, Text: "a"},
		{DocumentID: "doc-1", Index: 1, Page: 1, Text: "b"},
	}
	handler := newTestHandler(fakes)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/doc-1", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	var body struct {
		Document domain.Document `json:"document"`
		Chunks   []domain.Chunk  `json:"chunks"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Document.ID != "doc-1" || len(body.Chunks) != 2 || body.Chunks[1].Index != 1 {
		t.Fatalf("unexpected payload: %+v", body)
	}
}

func TestReingestReturnsReport(t *testing.T) {
	fakes := newRouterFakes()
	fakes.reingestor.report = domain.ReingestReport{
		DocumentsProcessed: 3,
		TotalChunks:        42,
	}
	handler := newTestHandler(fakes)

	req := httptest.NewRequest(http.MethodPost, "/api/documents/reingest", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	var report domain.ReingestReport
	if err := json.NewDecoder(res.Body).Decode(&report); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if report.DocumentsProcessed != 3 || report.TotalChunks != 42 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestListDocumentsAlwaysReturnsArray(t *testing.T) {
	handler := newTestHandler(newRouterFakes())

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"documents":[]`) {
		t.Fatalf("expected empty documents array: %s", res.Body.String())
	}
}
