package ingestion_engine

import "context"

type Ingestor interface {
	Start(ctx context.Context, numWorkers int)
	Enqueue(job Job)
	ProcessOne(ctx context.Context, job Job) error
}

var _ Ingestor = (*DocumentIngestor)(nil)
