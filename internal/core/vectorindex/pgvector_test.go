package vectorindex

import (
	"context"
	"database/sql"
	"math"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/pdfchat/internal/models"
)

// pgvectorDSNEnv points the pgvector tests at a Postgres with the vector
// extension available; they are skipped without it.
const pgvectorDSNEnv = "PDFCHAT_TEST_PGVECTOR_DSN"

func setupPgVector(t *testing.T) (*PgVectorBackend, string) {
	t.Helper()
	dsn := os.Getenv(pgvectorDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", pgvectorDSNEnv)
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	b, err := NewPgVectorBackend(ctx, db, 3)
	require.NoError(t, err)

	fileID := "doc-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), `DELETE FROM chunk_vectors WHERE file_id = $1`, fileID)
	})
	return b, fileID
}

func pgRecord(id, fileID, text string, page int, vec []float32) models.IndexedRecord {
	return models.IndexedRecord{
		ID:     id,
		Vector: vec,
		Metadata: models.IndexedMetadata{
			RawText: text, NormalizedText: text, Keywords: []string{text},
			SourceDocumentID: fileID, FilePath: "u1/" + fileID + "_a.pdf", PageNumber: page,
		},
	}
}

func TestNewPgVectorBackend_RejectsInvalidDimension(t *testing.T) {
	_, err := NewPgVectorBackend(context.Background(), nil, 0)
	assert.Error(t, err)
}

func TestPgVector_UpsertSameIDOverwrites(t *testing.T) {
	b, fileID := setupPgVector(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, b.Upsert(ctx, []models.IndexedRecord{pgRecord(id, fileID, "first", 1, []float32{1, 0, 0})}))
	require.NoError(t, b.Upsert(ctx, []models.IndexedRecord{pgRecord(id, fileID, "second", 2, []float32{0, 1, 0})}))

	got, err := b.Query(ctx, []float32{0, 1, 0}, 10, fileID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Text)
	assert.Equal(t, 2, got[0].Metadata.PageNumber)
	assert.InDelta(t, 1.0, got[0].Metadata.SimilarityScore, 1e-6)
}

func TestPgVector_QueryFiltersByFileAndOrders(t *testing.T) {
	b, fileID := setupPgVector(t)
	_, otherID := setupPgVector(t)
	ctx := context.Background()

	require.NoError(t, b.Upsert(ctx, []models.IndexedRecord{
		pgRecord(uuid.NewString(), fileID, "close", 1, []float32{1, 0.1, 0}),
		pgRecord(uuid.NewString(), fileID, "far", 2, []float32{0, 1, 0}),
		pgRecord(uuid.NewString(), otherID, "other document", 1, []float32{1, 0, 0}),
	}))

	got, err := b.Query(ctx, []float32{1, 0, 0}, 10, fileID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "close", got[0].Text)
	assert.Equal(t, "far", got[1].Text)
	for _, r := range got {
		assert.Equal(t, fileID, r.Metadata.SourceDocumentID)
	}
	assert.Greater(t, got[0].Metadata.SimilarityScore, got[1].Metadata.SimilarityScore)
}

func TestPgVector_ZeroVectorNeverRanks(t *testing.T) {
	b, fileID := setupPgVector(t)
	ctx := context.Background()

	require.NoError(t, b.Upsert(ctx, []models.IndexedRecord{
		pgRecord(uuid.NewString(), fileID, "substituted", 1, []float32{0, 0, 0}),
	}))

	cands, err := b.Query(ctx, []float32{1, 0, 0}, 10, fileID)
	require.NoError(t, err)
	for _, c := range cands {
		assert.True(t, math.IsNaN(c.Metadata.SimilarityScore))
	}

	got := Rank(cands, models.SearchOptions{TopK: 5}, 0.8)
	assert.Empty(t, got)
}
