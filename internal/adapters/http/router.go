package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
	"github.com/jamal-campbell/ai-tax-assistant/internal/core/ports"
	"github.com/jamal-campbell/ai-tax-assistant/internal/observability/metrics"
)

type Router struct {
	service string

	ingestor   ports.DocumentIngestor
	reingestor ports.CorpusReingestor
	chat       ports.ChatService
	registry   ports.DocumentRegistry
	index      ports.VectorIndex
	sessions   ports.SessionStore
	generator  ports.Generator

	metrics *metrics.HTTPServerMetrics
	logger  *slog.Logger
}

func NewRouter(
	service string,
	ingestor ports.DocumentIngestor,
	reingestor ports.CorpusReingestor,
	chat ports.ChatService,
	registry ports.DocumentRegistry,
	index ports.VectorIndex,
	sessions ports.SessionStore,
	generator ports.Generator,
	httpMetrics *metrics.HTTPServerMetrics,
	logger *slog.Logger,
) *Router {
	return &Router{
		service:    service,
		ingestor:   ingestor,
		reingestor: reingestor,
		chat:       chat,
		registry:   registry,
		index:      index,
		sessions:   sessions,
		generator:  generator,
		metrics:    httpMetrics,
		logger:     logger,
	}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return rt.metrics.Middleware(rt.service, next)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", rt.ping)
		r.Get("/health", rt.health)

		r.Post("/chat", rt.chatAnswer)
		r.Post("/chat/stream", rt.chatStream)
		r.Get("/chat/history/{session_id}", rt.getHistory)
		r.Delete("/chat/history/{session_id}", rt.clearHistory)

		r.Get("/documents", rt.listDocuments)
		r.Post("/documents/upload", rt.uploadDocument)
		r.Post("/documents/reingest", rt.reingestCorpus)
		r.Get("/documents/{document_id}", rt.getDocument)
		r.Delete("/documents/{document_id}", rt.deleteDocument)
	})

	r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())

	return r
}

func (rt *Router) ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	services := map[string]bool{
		"vector_index":  rt.index.Healthy(ctx),
		"session_store": rt.sessions.Healthy(ctx),
		"generator":     rt.generator.Healthy(ctx),
	}

	status := "healthy"
	for _, ok := range services {
		if !ok {
			status = "degraded"
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"services": services,
	})
}

type chatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

func (rt *Router) chatAnswer(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}

	start := time.Now()
	answer, err := rt.chat.Answer(r.Context(), req.SessionID, req.Query)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	rt.metrics.RecordRAGObservation(rt.service, "chat", len(answer.Sources), time.Since(start))
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) chatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}

	start := time.Now()
	_, events, err := rt.chat.Stream(r.Context(), req.SessionID, req.Query)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	sourceCount := 0
	for event := range events {
		if event.Type == domain.EventSources {
			sourceCount = len(event.Sources)
		}
		rt.metrics.RecordStreamEvent(rt.service, string(event.Type))

		if err := writeSSE(w, flusher, event); err != nil {
			// Client went away; the use case finalizes the turn on its own.
			rt.metrics.RecordTurnOutcome(rt.service, "disconnected")
			return
		}
		if event.Terminal() {
			rt.metrics.RecordTurnOutcome(rt.service, string(event.Type))
			rt.metrics.RecordRAGObservation(rt.service, "chat_stream", sourceCount, time.Since(start))
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event domain.StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return err
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}

func (rt *Router) getHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	exists, err := rt.sessions.Exists(r.Context(), sessionID)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if !exists {
		rt.writeError(w, r, domain.WrapError(domain.ErrSessionNotFound, "get history", errors.New("unknown session id")))
		return
	}

	turns, err := rt.sessions.History(r.Context(), sessionID)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if turns == nil {
		turns = []domain.Turn{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"turns":      turns,
	})
}

func (rt *Router) clearHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	if err := rt.sessions.Clear(r.Context(), sessionID); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"status":     "cleared",
	})
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := rt.registry.List(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	sourceType := domain.SourceType(strings.TrimSpace(r.FormValue("source_type")))
	if sourceType == "" {
		sourceType = domain.SourceUser
	}

	doc, err := rt.ingestor.Upload(r.Context(), fileHeader.Filename, sourceType, file)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) reingestCorpus(w http.ResponseWriter, r *http.Request) {
	report, err := rt.reingestor.ReingestSystemDocuments(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "document_id")

	doc, err := rt.registry.GetByID(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	chunks, err := rt.index.DocumentChunks(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if chunks == nil {
		chunks = []domain.Chunk{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"document": doc,
		"chunks":   chunks,
	})
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "document_id")

	if err := rt.ingestor.Delete(r.Context(), id); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"document_id": id,
		"status":      "deleted",
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
