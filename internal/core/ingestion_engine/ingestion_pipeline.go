package ingestion_engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/pdfchat/internal/core/retry"
	"github.com/markdave123-py/pdfchat/internal/models"
)

// Progress ranges of a run.
const (
	pctStart      = 10
	pctCountEnd   = 20
	pctEmbedEnd   = 90
	pctFinalizing = 90
)

// NewDocumentIngestor constructs the ingestor with a bounded job queue (64).
func NewDocumentIngestor(deps Deps, cfg IngestConfig) *DocumentIngestor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.BatchRetries <= 0 {
		cfg.BatchRetries = 3
	}
	if cfg.MaxFailedBatches <= 0 {
		cfg.MaxFailedBatches = 3
	}
	if cfg.TickEvery <= 0 {
		cfg.TickEvery = 5
	}
	limit := rate.Inf
	if cfg.BatchDelay > 0 {
		limit = rate.Every(cfg.BatchDelay)
	}
	return &DocumentIngestor{
		db:        deps.DB,
		obj:       deps.Objects,
		extractor: deps.Extractor,
		chunker:   deps.Chunker,
		embedder:  deps.Embedder,
		index:     deps.Index,
		progress:  deps.Progress,
		cfg:       cfg,
		throttle:  rate.NewLimiter(limit, 1),
		jobs:      make(chan Job, 64),
	}
}

// Start runs numWorkers goroutines reading from the jobs channel until ctx
// is done.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					log.Printf("DocumentIngestor: worker %d shutting down.", w)
					return
				case job := <-i.jobs:
					log.Printf("DocumentIngestor: processing document %s on worker %d", job.DocumentID, w)
					if err := i.ProcessOne(ctx, job); err != nil {
						log.Printf("DocumentIngestor: error processing document %s: %v", job.DocumentID, err)
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules a document for ingestion.
// If the queue is full, this call will block until space frees up.
func (i *DocumentIngestor) Enqueue(job Job) {
	i.jobs <- job
}

// ProcessOne drives one document from the stored file to a persisted
// record, reporting progress along the way. On failure the stored file is
// removed and no record is written.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, job Job) (err error) {
	started := time.Now()
	rep := newReporter(i.progress, job)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		if err == nil {
			return
		}
		log.Printf("DocumentIngestor: document %s failed after %s: %v", job.DocumentID, time.Since(started).Round(time.Millisecond), err)
		rep.fail(err)
		delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if derr := i.obj.Delete(delCtx, job.StoragePath); derr != nil {
			log.Printf("DocumentIngestor: cleanup of %s failed: %v", job.StoragePath, derr)
		}
	}()

	i.logState(job, "Queued")
	rep.emit(pctStart, "Starting PDF processing...")

	i.logState(job, "CountingChunks")
	rep.emit(pctStart+5, "Analyzing PDF structure...")
	total, err := i.countChunks(ctx, job, rep)
	if err != nil {
		return fmt.Errorf("count chunks: %w", err)
	}
	if total == 0 {
		return ErrNoContent
	}
	log.Printf("DocumentIngestor: document %s has %d segments", job.DocumentID, total)

	i.logState(job, "Embedding")
	rep.emit(pctCountEnd, fmt.Sprintf("Processing %d segments...", total))
	processed, err := i.embedAndIndex(ctx, job, total, rep)
	if err != nil {
		return err
	}
	if processed == 0 {
		return ErrNothingIndexed
	}

	i.logState(job, "Finalizing")
	rep.emit(pctFinalizing, "Finalizing processing...")
	doc := &models.Document{
		ID:          job.DocumentID,
		UserID:      job.UserID,
		FileName:    job.FileName,
		StoragePath: job.StoragePath,
		ContentType: job.ContentType,
		Processed:   true,
		ChunkCount:  processed,
		CreatedAt:   time.Now().UTC(),
	}
	if err := i.db.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("create document record: %w", err)
	}

	i.logState(job, "Complete")
	log.Printf("DocumentIngestor: document %s indexed %d/%d segments in %s",
		job.DocumentID, processed, total, time.Since(started).Round(time.Millisecond))
	rep.complete("/chat/" + job.DocumentID)
	return nil
}

func (i *DocumentIngestor) logState(job Job, state string) {
	log.Printf("DocumentIngestor: document %s -> %s", job.DocumentID, state)
}

// runPipeline wires extract -> chunk -> batch and hands every batch to
// consume. Any stage error cancels the rest.
func (i *DocumentIngestor) runPipeline(ctx context.Context, job Job, consume func(ctx context.Context, batch []models.Chunk) error) error {
	f, err := i.obj.Open(ctx, job.StoragePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", job.StoragePath, err)
	}
	defer f.Close()

	g, gctx := errgroup.WithContext(ctx)

	pages, err := i.extractor.ExtractPages(gctx, g, f, job.ContentType)
	if err != nil {
		return fmt.Errorf("extract pages: %w", err)
	}
	chunks := i.streamChunks(gctx, g, pages, job)
	batches := collectBatches(gctx, g, chunks, i.cfg.BatchSize)

	goSafe(g, func() error {
		for batch := range batches {
			if err := consume(gctx, batch); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// countChunks is the first pass: it only totals the chunks, ticking
// progress inside the counting range.
func (i *DocumentIngestor) countChunks(ctx context.Context, job Job, rep *reporter) (int, error) {
	total, batches := 0, 0
	err := i.runPipeline(ctx, job, func(_ context.Context, batch []models.Chunk) error {
		total += len(batch)
		batches++
		if batches%i.cfg.TickEvery == 0 {
			step := min(batches/i.cfg.TickEvery, pctCountEnd-pctStart)
			rep.emit(pctStart+step, fmt.Sprintf("Analyzing content... (%d segments found)", total))
		}
		return nil
	})
	return total, err
}

// embedAndIndex is the second pass: every batch is embedded and upserted,
// retried as a unit, and counted as failed once its retries run out.
func (i *DocumentIngestor) embedAndIndex(ctx context.Context, job Job, total int, rep *reporter) (int, error) {
	processed, failed := 0, 0
	policy := retry.Policy{
		Attempts:  i.cfg.BatchRetries,
		BaseDelay: i.cfg.BatchBackoff,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			log.Printf("DocumentIngestor: document %s batch attempt %d failed, retrying in %s: %v", job.DocumentID, attempt, wait, err)
		},
	}

	err := i.runPipeline(ctx, job, func(ctx context.Context, batch []models.Chunk) error {
		if err := i.throttle.Wait(ctx); err != nil {
			return err
		}

		texts := make([]string, len(batch))
		for k, ch := range batch {
			texts[k] = ch.Text
		}

		err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
			vecs, err := i.embedder.Embed(ctx, texts)
			if err != nil {
				return fmt.Errorf("embed: %w", err)
			}
			return i.index.Upsert(ctx, vecs, batch)
		})
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			failed++
			log.Printf("DocumentIngestor: document %s batch of %d failed (%d/%d): %v",
				job.DocumentID, len(batch), failed, i.cfg.MaxFailedBatches, err)
			if failed >= i.cfg.MaxFailedBatches {
				return fmt.Errorf("%w: %d batches could not be indexed", ErrTooManyFailures, failed)
			}
			return nil
		}

		processed += len(batch)
		pct := pctCountEnd + (pctEmbedEnd-pctCountEnd)*min(processed, total)/total
		rep.emit(pct, fmt.Sprintf("Processing segments: %d/%d", processed, total))
		return nil
	})
	return processed, err
}
