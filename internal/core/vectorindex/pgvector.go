package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/pdfchat/internal/models"
)

// PgVectorBackend keeps chunk vectors in a Postgres table with a pgvector
// column. The *sql.DB is expected to use the pgx stdlib driver.
type PgVectorBackend struct {
	db  *sql.DB
	dim int
}

var _ Backend = (*PgVectorBackend)(nil)

func NewPgVectorBackend(ctx context.Context, db *sql.DB, dim int) (*PgVectorBackend, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("pgvector: invalid dimension %d", dim)
	}
	b := &PgVectorBackend{db: db, dim: dim}
	if err := b.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *PgVectorBackend) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_vectors (
			id             TEXT PRIMARY KEY,
			file_id        TEXT NOT NULL,
			file_path      TEXT NOT NULL DEFAULT '',
			page_number    INTEGER NOT NULL DEFAULT 0,
			text           TEXT NOT NULL,
			processed_text TEXT NOT NULL DEFAULT '',
			keywords       TEXT NOT NULL DEFAULT '',
			embedding      vector(%d) NOT NULL
		)`, b.dim),
		`CREATE INDEX IF NOT EXISTS chunk_vectors_file_id_idx ON chunk_vectors (file_id)`,
	}
	for _, s := range stmts {
		if _, err := b.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("pgvector schema: %w", err)
		}
	}
	return nil
}

// Upsert writes all records in a single transaction. Existing ids are replaced.
func (b *PgVectorBackend) Upsert(ctx context.Context, records []models.IndexedRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO chunk_vectors
			(id, file_id, file_path, page_number, text, processed_text, keywords, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			file_id = EXCLUDED.file_id,
			file_path = EXCLUDED.file_path,
			page_number = EXCLUDED.page_number,
			text = EXCLUDED.text,
			processed_text = EXCLUDED.processed_text,
			keywords = EXCLUDED.keywords,
			embedding = EXCLUDED.embedding
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		m := r.Metadata
		if _, err := stmt.ExecContext(ctx,
			r.ID, m.SourceDocumentID, m.FilePath, m.PageNumber, m.RawText, m.NormalizedText,
			strings.Join(m.Keywords, " "), pgvector.NewVector(r.Vector),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert chunk %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Query ranks by cosine distance; the score is 1 - distance.
func (b *PgVectorBackend) Query(ctx context.Context, vector []float32, n int, sourceDocumentID string) ([]models.SearchResult, error) {
	const q = `
		SELECT file_id, page_number, text, processed_text, 1 - (embedding <=> $1) AS score
		FROM chunk_vectors
		WHERE file_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`
	rows, err := b.db.QueryContext(ctx, q, pgvector.NewVector(vector), sourceDocumentID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchResult
	for rows.Next() {
		var (
			r     models.SearchResult
			score sql.NullFloat64
		)
		if err := rows.Scan(&r.Metadata.SourceDocumentID, &r.Metadata.PageNumber, &r.Text, &r.NormalizedText, &score); err != nil {
			return nil, err
		}
		if !score.Valid {
			continue
		}
		r.Metadata.SimilarityScore = score.Float64
		out = append(out, r)
	}
	return out, rows.Err()
}
