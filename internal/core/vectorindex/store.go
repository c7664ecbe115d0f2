// Package vectorindex stores chunk vectors with derived metadata and serves
// filtered similarity search with score-based post-filtering.
package vectorindex

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/core/textproc"
	"github.com/markdave123-py/pdfchat/internal/models"
)

// Backend is the raw vector index. Query returns up to n candidates that
// belong to sourceDocumentID, scored by cosine similarity, in any order.
type Backend interface {
	Upsert(ctx context.Context, records []models.IndexedRecord) error
	Query(ctx context.Context, vector []float32, n int, sourceDocumentID string) ([]models.SearchResult, error)
}

// Config holds the ranking knobs that are not per-query.
//
// CandidateMultiplier: how many more candidates than TopK to fetch before filtering.
// RelativeCutoff:      results must score at least this fraction of the best candidate.
type Config struct {
	CandidateMultiplier int
	RelativeCutoff      float64
}

type Store struct {
	backend Backend
	cfg     Config
}

var _ core.VectorIndex = (*Store)(nil)

// DefaultConfig fetches twice TopK and keeps results within 80% of the best.
func DefaultConfig() Config {
	return Config{CandidateMultiplier: 2, RelativeCutoff: 0.8}
}

// NewStore takes RelativeCutoff as given; zero turns the relative window off.
func NewStore(backend Backend, cfg Config) *Store {
	if cfg.CandidateMultiplier < 1 {
		cfg.CandidateMultiplier = 2
	}
	return &Store{backend: backend, cfg: cfg}
}

// Upsert pairs vectors with chunks by position and writes them as one batch.
func (s *Store) Upsert(ctx context.Context, vectors [][]float32, chunks []models.Chunk) error {
	if len(vectors) != len(chunks) {
		return fmt.Errorf("upsert: %d vectors for %d chunks", len(vectors), len(chunks))
	}
	if len(chunks) == 0 {
		return nil
	}

	records := make([]models.IndexedRecord, len(chunks))
	for i, ch := range chunks {
		docID := DocumentIDFromPath(ch.Metadata.FilePath)
		if docID == "" {
			docID = ch.Metadata.SourceDocumentID
		}
		records[i] = models.IndexedRecord{
			ID:     ch.Metadata.ChunkID,
			Vector: vectors[i],
			Metadata: models.IndexedMetadata{
				RawText:          ch.Text,
				NormalizedText:   textproc.Normalize(ch.Text),
				Keywords:         textproc.Keywords(ch.Text),
				SourceDocumentID: docID,
				FilePath:         ch.Metadata.FilePath,
				PageNumber:       ch.Metadata.PageNumber,
			},
		}
	}

	if err := s.backend.Upsert(ctx, records); err != nil {
		return fmt.Errorf("upsert %d records: %w", len(records), err)
	}
	return nil
}

// Search fetches TopK*CandidateMultiplier candidates and ranks them.
func (s *Store) Search(ctx context.Context, vector []float32, opts models.SearchOptions) ([]models.SearchResult, error) {
	if opts.TopK <= 0 {
		return nil, nil
	}
	cands, err := s.backend.Query(ctx, vector, opts.TopK*s.cfg.CandidateMultiplier, opts.SourceDocumentID)
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}
	return Rank(cands, opts, s.cfg.RelativeCutoff), nil
}

// DocumentIDFromPath extracts the document id from a storage key of the form
// "{user}/{docID}_{filename}".
func DocumentIDFromPath(p string) string {
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	idx := strings.Index(base, "_")
	if idx <= 0 {
		return ""
	}
	return base[:idx]
}
