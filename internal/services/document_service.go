package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/core/ingestion_engine"
	"github.com/markdave123-py/pdfchat/internal/core/progress"
	"github.com/markdave123-py/pdfchat/internal/models"
)

var ErrNotPDF = errors.New("only PDF files are allowed")

const pdfContentType = "application/pdf"

type DocumentService struct {
	db       core.DbClient
	storage  core.ObjectClient
	ingestor ingestion_engine.Ingestor
	progress *progress.Hub
}

func NewDocumentService(db core.DbClient, storage core.ObjectClient, ing ingestion_engine.Ingestor, hub *progress.Hub) *DocumentService {
	return &DocumentService{db: db, storage: storage, ingestor: ing, progress: hub}
}

// Upload stores the file and queues it for ingestion. The document record
// only appears once ingestion indexed at least one chunk.
func (s *DocumentService) Upload(ctx context.Context, userID, filename string, r io.Reader) (string, error) {
	job, err := s.Store(ctx, userID, filename, r)
	if err != nil {
		return "", err
	}

	s.progress.Publish(models.Progress{
		DocumentID: job.DocumentID,
		UserID:     userID,
		Percent:    0,
		Status:     "Upload complete, waiting for processing...",
	})
	s.ingestor.Enqueue(job)
	log.Printf("DocumentService: queued document %s (%s) for user %s", job.DocumentID, job.FileName, userID)
	return job.DocumentID, nil
}

// Store saves the raw PDF and returns the ingestion job for it without
// scheduling anything.
func (s *DocumentService) Store(ctx context.Context, userID, filename string, r io.Reader) (ingestion_engine.Job, error) {
	clean := cleanFilename(filename)
	if !strings.EqualFold(filepath.Ext(clean), ".pdf") {
		return ingestion_engine.Job{}, ErrNotPDF
	}

	docID := uuid.NewString()
	key := ObjectKey(userID, docID, clean)
	if err := s.storage.Save(ctx, key, r, pdfContentType); err != nil {
		return ingestion_engine.Job{}, fmt.Errorf("save upload: %w", err)
	}
	return ingestion_engine.Job{
		DocumentID:  docID,
		UserID:      userID,
		FileName:    clean,
		StoragePath: key,
		ContentType: pdfContentType,
	}, nil
}

func (s *DocumentService) ListByUser(ctx context.Context, userID string) ([]models.Document, error) {
	return s.db.ListDocumentsByUser(ctx, userID)
}

// Get returns the document if userID owns it.
func (s *DocumentService) Get(ctx context.Context, userID, docID string) (*models.Document, error) {
	doc, err := s.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, core.ErrForbidden
	}
	return doc, nil
}

// OpenFile returns the stored PDF of an owned document. The caller closes it.
func (s *DocumentService) OpenFile(ctx context.Context, userID, docID string) (*models.Document, core.StoredFile, error) {
	doc, err := s.Get(ctx, userID, docID)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", doc.StoragePath, err)
	}
	return doc, f, nil
}

// Progress returns the last event of the (document, user) pair.
func (s *DocumentService) Progress(docID, userID string) (models.Progress, bool) {
	return s.progress.Latest(docID, userID)
}

// Subscribe follows progress of the (document, user) pair until the
// subscription is closed.
func (s *DocumentService) Subscribe(docID, userID string) *progress.Subscription {
	return s.progress.Subscribe(docID, userID)
}

// ObjectKey lays out stored uploads as "{userID}/{documentID}_{fileName}".
func ObjectKey(userID, docID, filename string) string {
	return fmt.Sprintf("%s/%s_%s", userID, docID, filename)
}

func cleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(name)
	return strings.ReplaceAll(name, " ", "_")
}
