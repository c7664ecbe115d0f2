package ingestion_engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/pdfchat/internal/models"
)

// streamChunks splits every incoming page and forwards the chunks in page
// order, numbering them across the whole document.
func (i *DocumentIngestor) streamChunks(
	ctx context.Context,
	g *errgroup.Group,
	pages <-chan models.Page,
	job Job,
) <-chan models.Chunk {
	out := make(chan models.Chunk, 16)

	goSafe(g, func() error {
		defer close(out)

		next := 0
		for page := range pages {
			meta := models.ChunkMetadata{
				SourceDocumentID: job.DocumentID,
				FilePath:         job.StoragePath,
				ChunkIndex:       next,
			}
			for _, ch := range i.chunker.Chunk(page, meta) {
				select {
				case out <- ch:
				case <-ctx.Done():
					return ctx.Err()
				}
				next++
			}
		}
		return nil
	})

	return out
}

// collectBatches groups chunks into slices of at most size; the last batch
// may be shorter.
func collectBatches(
	ctx context.Context,
	g *errgroup.Group,
	chunks <-chan models.Chunk,
	size int,
) <-chan []models.Chunk {
	out := make(chan []models.Chunk, 2)
	if size <= 0 {
		size = 1
	}

	goSafe(g, func() error {
		defer close(out)

		batch := make([]models.Chunk, 0, size)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
			batch = make([]models.Chunk, 0, size)
			return nil
		}

		for ch := range chunks {
			batch = append(batch, ch)
			if len(batch) >= size {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})

	return out
}

// goSafe runs fn on g and turns a panic into the group's error, so a broken
// stage fails the run instead of the process.
func goSafe(g *errgroup.Group, fn func() error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}()
		return fn()
	})
}
