// Package answer composes grounded replies from retrieved chunks.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/core/embedder"
	"github.com/markdave123-py/pdfchat/internal/core/retry"
	"github.com/markdave123-py/pdfchat/internal/models"
)

const (
	NotFoundResponse = "I couldn't find any relevant information in the document to answer your question. " +
		"Could you try rephrasing your question or being more specific?"
	RephraseResponse = "I found some potentially relevant information but am having trouble processing it. " +
		"Please try your question again, or try asking in a different way."
	ApologyResponse = "I apologize, but I encountered an error while generating a response. Please try again."

	previewLength = 100
)

// Config tunes retrieval and generation.
//
// TopK, ScoreThreshold, MinScoreCutoff: passed to the vector search.
// FallbackMinScore:  the top chunk is quoted on generation timeout only above this score.
// GenerationTimeout: deadline for a single generation attempt.
// Retry:             attempts and backoff for timed-out generation.
type Config struct {
	TopK              int
	ScoreThreshold    float64
	MinScoreCutoff    float64
	FallbackMinScore  float64
	GenerationTimeout time.Duration
	Retry             retry.Policy
}

type Composer struct {
	embedder core.Embedder
	index    core.VectorIndex
	llm      core.LLMProvider
	cfg      Config
}

func NewComposer(emb core.Embedder, index core.VectorIndex, llm core.LLMProvider, cfg Config) *Composer {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Composer{embedder: emb, index: index, llm: llm, cfg: cfg}
}

// Answer replies to query using only chunks of the document fileID. Only
// context cancellation and search failures are returned as errors; every
// generation problem degrades to a fixed or excerpt answer.
func (c *Composer) Answer(ctx context.Context, query, fileID string) (models.ChatAnswer, error) {
	vecs, err := c.embedder.Embed(ctx, []string{query})
	if err != nil {
		return models.ChatAnswer{}, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 || embedder.IsZero(vecs[0]) {
		log.Printf("answer: query embedding unavailable for file %s", fileID)
		return notFound(), nil
	}

	results, err := c.index.Search(ctx, vecs[0], models.SearchOptions{
		TopK:             c.cfg.TopK,
		SourceDocumentID: fileID,
		ScoreThreshold:   c.cfg.ScoreThreshold,
		MinScoreCutoff:   c.cfg.MinScoreCutoff,
	})
	if err != nil {
		return models.ChatAnswer{}, fmt.Errorf("search file %s: %w", fileID, err)
	}
	if len(results) == 0 {
		log.Printf("answer: no relevant chunks for file %s", fileID)
		return notFound(), nil
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Metadata.SimilarityScore > results[j].Metadata.SimilarityScore
	})
	top := results[0]
	sources := []models.Source{sourceOf(top)}

	response, err := c.generate(ctx, BuildPrompt(query, results), fileID)
	if err == nil {
		return models.ChatAnswer{Response: response, Sources: sources}, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return models.ChatAnswer{}, cerr
	}

	if isTimeout(err) {
		log.Printf("answer: generation timed out for file %s: %v", fileID, err)
		if top.Metadata.SimilarityScore > c.cfg.FallbackMinScore {
			return models.ChatAnswer{Response: excerpt(top), Sources: sources, Degraded: true}, nil
		}
		return models.ChatAnswer{Response: RephraseResponse, Sources: sources, Degraded: true}, nil
	}

	log.Printf("answer: generation failed for file %s: %v", fileID, err)
	return models.ChatAnswer{Response: ApologyResponse, Sources: sources, Degraded: true}, nil
}

func (c *Composer) generate(ctx context.Context, prompt, fileID string) (string, error) {
	policy := c.cfg.Retry
	policy.Retryable = isTimeout
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Printf("answer: generation attempt %d for file %s timed out, retrying in %s: %v", attempt, fileID, wait, err)
	}

	return retry.DoValue(ctx, policy, func(ctx context.Context, _ int) (string, error) {
		callCtx := ctx
		if c.cfg.GenerationTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.GenerationTimeout)
			defer cancel()
		}
		return c.llm.Generate(callCtx, "", prompt)
	})
}

// BuildPrompt places the chunks, best first, as "[Page N]: text" blocks in
// an instruction that keeps the model inside the given context.
func BuildPrompt(query string, results []models.SearchResult) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[Page %d]: %s", r.Metadata.PageNumber, r.Text)
	}

	var b strings.Builder
	b.WriteString("You are a helpful assistant answering questions about a document. ")
	b.WriteString("Use only the following context to answer the question. ")
	b.WriteString("If the answer is not in the context, say \"I cannot find information about that in the document.\"\n\n")
	b.WriteString("Context:\n")
	b.WriteString(strings.Join(blocks, "\n\n"))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer (be concise and specific):")
	return b.String()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func notFound() models.ChatAnswer {
	return models.ChatAnswer{Response: NotFoundResponse, Sources: []models.Source{}}
}

func excerpt(r models.SearchResult) string {
	return fmt.Sprintf("While I'm having trouble generating a complete response, I found relevant information on page %d. "+
		"Here's the relevant excerpt:\n\n%s", r.Metadata.PageNumber, r.Text)
}

func sourceOf(r models.SearchResult) models.Source {
	preview := r.Text
	if runes := []rune(preview); len(runes) > previewLength {
		preview = string(runes[:previewLength]) + "..."
	}
	return models.Source{
		PageNumber:       r.Metadata.PageNumber,
		SourceDocumentID: r.Metadata.SourceDocumentID,
		SimilarityScore:  r.Metadata.SimilarityScore,
		TextPreview:      preview,
	}
}

var _ core.Answerer = (*Composer)(nil)
