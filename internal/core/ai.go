package core

import (
	"context"

	"github.com/markdave123-py/pdfchat/internal/models"
)

// EmbeddingProvider embeds a single text through a remote backend.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// Embedder turns a batch of texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex stores chunk vectors and answers filtered similarity queries.
type VectorIndex interface {
	Upsert(ctx context.Context, vectors [][]float32, chunks []models.Chunk) error
	Search(ctx context.Context, vector []float32, opts models.SearchOptions) ([]models.SearchResult, error)
}

// ProgressPublisher receives ingestion progress events.
type ProgressPublisher interface {
	Publish(ev models.Progress)
}

// Answerer composes a grounded reply to a question about one document.
type Answerer interface {
	Answer(ctx context.Context, query, documentID string) (models.ChatAnswer, error)
}
