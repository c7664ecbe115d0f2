package ingestion_engine

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/core/chunker"
)

var (
	// ErrNoContent means the PDF produced no text to index.
	ErrNoContent = errors.New("no text content could be extracted from the PDF")
	// ErrTooManyFailures means too many chunk batches failed after retries.
	ErrTooManyFailures = errors.New("too many failed batches")
	// ErrNothingIndexed means every batch failed.
	ErrNothingIndexed = errors.New("no segments were indexed")
	// ErrPanic wraps a panic recovered from a pipeline stage.
	ErrPanic = errors.New("ingestion stage panicked")
)

// IngestConfig tunes the pipeline.
//
// BatchSize:        chunks embedded and upserted together.
// BatchRetries:     attempts per batch before it counts as failed.
// BatchBackoff:     wait before the first batch retry; doubles after.
// MaxFailedBatches: abort once this many batches have failed.
// BatchDelay:       throttle between batches.
// TickEvery:        emit a counting tick every N batches.
type IngestConfig struct {
	BatchSize        int
	BatchRetries     int
	BatchBackoff     time.Duration
	MaxFailedBatches int
	BatchDelay       time.Duration
	TickEvery        int
}

// Job is one queued ingestion run. StoragePath is the object key of the
// uploaded file, "{userID}/{documentID}_{fileName}".
type Job struct {
	DocumentID  string
	UserID      string
	FileName    string
	StoragePath string
	ContentType string
}

// DocumentIngestor orchestrates the background ingestion pipeline:
//
// db:        persistence for the document record.
// obj:       object storage holding the uploaded file.
// extractor: page-wise text extraction.
// chunker:   page text -> overlapping chunks.
// embedder:  shared, concurrency-bounded embedder.
// index:     vector index adapter.
// progress:  receiver of progress events.
// jobs:      in-memory queue of documents to process.
type DocumentIngestor struct {
	db        core.DbClient
	obj       core.ObjectClient
	extractor core.PageExtractor
	chunker   *chunker.Chunker
	embedder  core.Embedder
	index     core.VectorIndex
	progress  core.ProgressPublisher
	cfg       IngestConfig
	throttle  *rate.Limiter
	jobs      chan Job
}

// Deps groups the collaborators of a DocumentIngestor.
type Deps struct {
	DB        core.DbClient
	Objects   core.ObjectClient
	Extractor core.PageExtractor
	Chunker   *chunker.Chunker
	Embedder  core.Embedder
	Index     core.VectorIndex
	Progress  core.ProgressPublisher
}
