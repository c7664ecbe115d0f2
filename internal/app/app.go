package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/markdave123-py/pdfchat/internal/config"
	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/core/answer"
	"github.com/markdave123-py/pdfchat/internal/core/chunker"
	db "github.com/markdave123-py/pdfchat/internal/core/database"
	"github.com/markdave123-py/pdfchat/internal/core/embedder"
	"github.com/markdave123-py/pdfchat/internal/core/ingestion_engine"
	"github.com/markdave123-py/pdfchat/internal/core/llm"
	objectclient "github.com/markdave123-py/pdfchat/internal/core/object-client"
	"github.com/markdave123-py/pdfchat/internal/core/progress"
	"github.com/markdave123-py/pdfchat/internal/core/retry"
	"github.com/markdave123-py/pdfchat/internal/core/vectorindex"
	"github.com/markdave123-py/pdfchat/internal/services"
)

type App struct {
	Config       *config.Config
	DBClient     *db.DatabaseClient
	ObjectClient core.ObjectClient
	Embedder     *embedder.Embedder
	Index        *vectorindex.Store
	Progress     *progress.Hub
	DocProcessor *ingestion_engine.DocumentIngestor
	Composer     *answer.Composer
	Documents    *services.DocumentService
	Chat         *services.ChatService
	Users        *services.UserService
	Server       *Server

	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient.Close)
	log.Println("Database initialized and ready.")

	a.ObjectClient, err = newObjectClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("Object client (%s) initialized and ready.", cfg.StorageBackend)

	embedProvider, llmProvider, err := a.newProviders(appCtx, cfg)
	if err != nil {
		return nil, err
	}

	a.Embedder = embedder.New(embedProvider, embedder.Config{
		Dim:         cfg.EmbedDim,
		BatchSize:   cfg.EmbedBatchSize,
		Concurrency: cfg.EmbedConcurrency,
		Timeout:     cfg.EmbedTimeout,
		BatchPause:  cfg.EmbedBatchPause,
		Retry: retry.Policy{
			Attempts:  cfg.EmbedRetries,
			BaseDelay: cfg.EmbedBackoffBase,
			MaxDelay:  cfg.EmbedBackoffMax,
			Jitter:    true,
		},
	})

	backend, err := a.newVectorBackend(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.Index = vectorindex.NewStore(backend, vectorindex.Config{
		CandidateMultiplier: cfg.CandidateMultiplier,
		RelativeCutoff:      cfg.RelativeCutoff,
	})
	log.Printf("Vector index (%s) initialized and ready.", cfg.VectorBackend)

	chunks, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	a.Progress = progress.NewHub(0)

	useReadability := false
	a.DocProcessor = ingestion_engine.NewDocumentIngestor(ingestion_engine.Deps{
		DB:        dbClient,
		Objects:   a.ObjectClient,
		Extractor: ingestion_engine.NewPDFExtractor(useReadability),
		Chunker:   chunks,
		Embedder:  a.Embedder,
		Index:     a.Index,
		Progress:  a.Progress,
	}, ingestion_engine.IngestConfig{
		BatchSize:        cfg.BatchSize,
		BatchRetries:     cfg.BatchRetries,
		BatchBackoff:     cfg.EmbedBackoffBase,
		MaxFailedBatches: cfg.MaxFailedBatches,
		BatchDelay:       cfg.IngestBatchDelay,
	})

	a.Composer = answer.NewComposer(a.Embedder, a.Index, llmProvider, answer.Config{
		TopK:              cfg.SearchTopK,
		ScoreThreshold:    cfg.ScoreThreshold,
		MinScoreCutoff:    cfg.MinScoreCutoff,
		FallbackMinScore:  cfg.FallbackMinScore,
		GenerationTimeout: cfg.GenTimeout,
		Retry: retry.Policy{
			Attempts:  cfg.GenRetries,
			BaseDelay: cfg.GenBackoffBase,
			MaxDelay:  cfg.GenBackoffMax,
		},
	})

	a.Users = services.NewUserService(dbClient)
	a.Documents = services.NewDocumentService(dbClient, a.ObjectClient, a.DocProcessor, a.Progress)
	a.Chat = services.NewChatService(dbClient, a.Composer)
	a.Server = NewServer(cfg, a.Users, a.Documents, a.Chat)

	return a, nil
}

// StartWorkers launches the background ingestion workers; they stop with ctx.
func (a *App) StartWorkers(ctx context.Context) {
	a.DocProcessor.Start(ctx, a.Config.IngestWorkers)
	log.Printf("Ingestion started with %d workers.", a.Config.IngestWorkers)
}

func newObjectClient(ctx context.Context, cfg *config.Config) (core.ObjectClient, error) {
	switch cfg.StorageBackend {
	case "s3":
		return objectclient.NewS3Client(ctx, cfg)
	case "local":
		return objectclient.NewLocalStore(cfg.UploadDir)
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

func (a *App) newProviders(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, core.LLMProvider, error) {
	var ollama *llm.OllamaClient
	if cfg.EmbedProvider == "ollama" || cfg.LLMProvider == "ollama" {
		ollama = llm.NewOllamaClient(cfg.OllamaBaseURL, cfg.EmbedModel, cfg.GenModel, &http.Client{})
	}

	var embedProvider core.EmbeddingProvider = ollama
	if cfg.EmbedProvider == "gemini" {
		geminiEmbedder, err := llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
		}
		a.closers = append(a.closers, geminiEmbedder.Close)
		embedProvider = geminiEmbedder
	}

	var llmProvider core.LLMProvider = ollama
	if cfg.LLMProvider == "gemini" {
		geminiLLM, err := llm.NewGeminiLLM(ctx, cfg.AIAPIKey, cfg.GenModel)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize the llm, %w", err)
		}
		a.closers = append(a.closers, geminiLLM.Close)
		llmProvider = geminiLLM
	}
	return embedProvider, llmProvider, nil
}

func (a *App) newVectorBackend(ctx context.Context, cfg *config.Config) (vectorindex.Backend, error) {
	switch cfg.VectorBackend {
	case "pgvector":
		return vectorindex.NewPgVectorBackend(ctx, a.DBClient.DB(), cfg.EmbedDim)
	case "chromem":
		return vectorindex.NewChromemBackend(cfg.ChromemPath)
	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q", cfg.VectorBackend)
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("App: close: %v", err)
		}
	}
	a.closers = nil
}
