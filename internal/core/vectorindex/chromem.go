package vectorindex

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"

	"github.com/markdave123-py/pdfchat/internal/models"
)

const chromemCollection = "pdf_chunks"

// ChromemBackend is an embedded vector index. Vectors are always supplied by
// the caller, so the collection never calls an embedding function.
type ChromemBackend struct {
	db   *chromem.DB
	coll *chromem.Collection
}

var _ Backend = (*ChromemBackend)(nil)

// NewChromemBackend opens a persistent index under dir, or an in-memory one
// when dir is empty.
func NewChromemBackend(dir string) (*ChromemBackend, error) {
	var (
		db  *chromem.DB
		err error
	)
	if dir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db at %s: %w", dir, err)
		}
	}

	coll, err := db.GetOrCreateCollection(chromemCollection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("chromem collection: %w", err)
	}
	return &ChromemBackend{db: db, coll: coll}, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("chromem: documents must carry their own embedding")
}

// Upsert adds the records; chromem replaces documents that share an id.
func (b *ChromemBackend) Upsert(ctx context.Context, records []models.IndexedRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		m := r.Metadata
		docs[i] = chromem.Document{
			ID:        r.ID,
			Embedding: r.Vector,
			Content:   m.RawText,
			Metadata: map[string]string{
				"file_id":        m.SourceDocumentID,
				"file_path":      m.FilePath,
				"page_number":    strconv.Itoa(m.PageNumber),
				"processed_text": m.NormalizedText,
				"keywords":       strings.Join(m.Keywords, " "),
			},
		}
	}
	return b.coll.AddDocuments(ctx, docs, runtime.NumCPU())
}

func (b *ChromemBackend) Query(ctx context.Context, vector []float32, n int, sourceDocumentID string) ([]models.SearchResult, error) {
	// chromem rejects nResults larger than the collection
	n = min(n, b.coll.Count())
	if n <= 0 {
		return nil, nil
	}

	var where map[string]string
	if sourceDocumentID != "" {
		where = map[string]string{"file_id": sourceDocumentID}
	}

	res, err := b.coll.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, err
	}

	out := make([]models.SearchResult, 0, len(res))
	for _, r := range res {
		page, _ := strconv.Atoi(r.Metadata["page_number"])
		out = append(out, models.SearchResult{
			Text:           r.Content,
			NormalizedText: r.Metadata["processed_text"],
			Metadata: models.ResultMetadata{
				SourceDocumentID: r.Metadata["file_id"],
				PageNumber:       page,
				SimilarityScore:  float64(r.Similarity),
			},
		})
	}
	return out, nil
}

// Count returns the number of stored records.
func (b *ChromemBackend) Count() int {
	return b.coll.Count()
}
