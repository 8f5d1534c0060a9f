package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/jamal-campbell/ai-tax-assistant/internal/config"
	"github.com/jamal-campbell/ai-tax-assistant/internal/core/ports"
	"github.com/jamal-campbell/ai-tax-assistant/internal/core/usecase"
	"github.com/jamal-campbell/ai-tax-assistant/internal/infrastructure/chunking"
	"github.com/jamal-campbell/ai-tax-assistant/internal/infrastructure/corpus"
	"github.com/jamal-campbell/ai-tax-assistant/internal/infrastructure/embedding/openai"
	"github.com/jamal-campbell/ai-tax-assistant/internal/infrastructure/extractor"
	"github.com/jamal-campbell/ai-tax-assistant/internal/infrastructure/llm/claude"
	"github.com/jamal-campbell/ai-tax-assistant/internal/infrastructure/queue/nats"
	"github.com/jamal-campbell/ai-tax-assistant/internal/infrastructure/repository/postgres"
	"github.com/jamal-campbell/ai-tax-assistant/internal/infrastructure/resilience"
	sessionmemory "github.com/jamal-campbell/ai-tax-assistant/internal/infrastructure/session/memory"
	"github.com/jamal-campbell/ai-tax-assistant/internal/infrastructure/storage/localfs"
	"github.com/jamal-campbell/ai-tax-assistant/internal/infrastructure/vector/memstore"
	"github.com/jamal-campbell/ai-tax-assistant/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue     ports.MessageQueue
	Registry  ports.DocumentRegistry
	Sessions  ports.SessionStore
	Index     ports.VectorIndex
	Generator ports.Generator

	Ingestor   ports.DocumentIngestor
	Processor  ports.DocumentProcessor
	Reingestor ports.CorpusReingestor
	Chat       ports.ChatService

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	registry := postgres.NewDocumentRegistry(db)
	if err := registry.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure document schema: %w", err)
	}

	var sessions ports.SessionStore
	switch cfg.SessionBackend {
	case "memory":
		sessions = sessionmemory.New()
	default:
		repo := postgres.NewSessionRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure session schema: %w", err)
		}
		sessions = repo
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	embedder := openai.NewResilientEmbedder(
		openai.New(cfg.OpenAIBaseURL+"/v1", cfg.OpenAIAPIKey, cfg.OpenAIEmbedModel),
		executor,
	)
	generator := claude.NewResilientGenerator(
		claude.New(cfg.AnthropicBaseURL, cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.AnthropicMaxTokens),
		executor,
	)

	var index ports.VectorIndex
	switch cfg.VectorBackend {
	case "memory":
		index = memstore.New()
	default:
		index = qdrant.NewResilientIndex(qdrant.New(cfg.QdrantURL, cfg.QdrantCollection), executor)
	}

	chunker := chunking.NewSplitter(cfg.ChunkSize)
	formats := extractor.NewRegistry(storage)

	var limiter *rate.Limiter
	if cfg.EmbedRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.EmbedRPS), cfg.EmbedRPS)
	}

	processor := usecase.NewProcessDocumentUseCase(registry, formats, chunker, embedder, index, usecase.ProcessOptions{
		EmbedBatchSize: cfg.EmbedBatchSize,
		EmbedParallel:  cfg.EmbedParallel,
		EmbedLimiter:   limiter,
	})
	ingestor := usecase.NewIngestDocumentUseCase(registry, storage, index, queue, formats)
	reingestor := usecase.NewReingestCorpusUseCase(
		registry,
		storage,
		index,
		corpus.NewDir(cfg.SystemDocsDir),
		processor,
		formats,
		logger,
	)
	retriever := usecase.NewRetriever(embedder, index, usecase.RetrieverOptions{
		TopK:     cfg.RAGTopK,
		MinScore: cfg.RAGMinScore,
	})
	chat := usecase.NewChatUseCase(retriever, generator, sessions, logger)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue:     queue,
		Registry:  registry,
		Sessions:  sessions,
		Index:     index,
		Generator: generator,

		Ingestor:   ingestor,
		Processor:  processor,
		Reingestor: reingestor,
		Chat:       chat,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

// RunSessionSweeper purges idle sessions until the context is canceled.
func (a *App) RunSessionSweeper(ctx context.Context) {
	ttl := time.Duration(a.Config.SessionTTLMinutes) * time.Minute
	if ttl <= 0 {
		return
	}

	interval := ttl / 4
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := a.Sessions.PurgeExpired(ctx, ttl)
			if err != nil {
				a.Logger.Warn("session_purge_failed", "error", err)
				continue
			}
			if purged > 0 {
				a.Logger.Info("sessions_purged", "count", purged)
			}
		}
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
