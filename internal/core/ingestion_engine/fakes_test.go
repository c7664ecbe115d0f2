package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

type memObjects struct {
	mu      sync.Mutex
	files   map[string][]byte
	deleted []string
}

func newMemObjects(keys ...string) *memObjects {
	m := &memObjects{files: map[string][]byte{}}
	for _, k := range keys {
		m.files[k] = []byte("%PDF-fake")
	}
	return m
}

func (m *memObjects) Save(_ context.Context, key string, r io.Reader, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = b
	return nil
}

func (m *memObjects) Open(_ context.Context, key string) (core.StoredFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return memFile{bytes.NewReader(b)}, nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memObjects) exists(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[key]
	return ok
}

// staticExtractor ignores the file and yields fixed pages.
type staticExtractor struct {
	pages []models.Page
	calls int
}

func (e *staticExtractor) ExtractPages(ctx context.Context, g *errgroup.Group, _ core.StoredFile, _ string) (<-chan models.Page, error) {
	e.calls++
	out := make(chan models.Page)
	g.Go(func() error {
		defer close(out)
		for _, p := range e.pages {
			select {
			case out <- p:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	return out, nil
}

type fakeEmbedder struct {
	mu     sync.Mutex
	fail   func(texts []string) bool
	panics bool
	calls  int
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.panics {
		panic("backend client bug")
	}
	if e.fail != nil && e.fail(texts) {
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeIndex struct {
	mu     sync.Mutex
	chunks []models.Chunk
}

func (x *fakeIndex) Upsert(_ context.Context, vectors [][]float32, chunks []models.Chunk) error {
	if len(vectors) != len(chunks) {
		return errors.New("length mismatch")
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.chunks = append(x.chunks, chunks...)
	return nil
}

func (x *fakeIndex) Search(context.Context, []float32, models.SearchOptions) ([]models.SearchResult, error) {
	return nil, nil
}

type recorder struct {
	mu     sync.Mutex
	events []models.Progress
}

func (r *recorder) Publish(ev models.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []models.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Progress(nil), r.events...)
}

// docStore implements only what ingestion touches.
type docStore struct {
	core.DbClient
	mu     sync.Mutex
	docs   map[string]*models.Document
	panics bool
}

func newDocStore() *docStore { return &docStore{docs: map[string]*models.Document{}} }

func (d *docStore) CreateDocument(_ context.Context, doc *models.Document) error {
	if d.panics {
		panic("driver bug")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs[doc.ID] = doc
	return nil
}

func (d *docStore) get(id string) *models.Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.docs[id]
}
