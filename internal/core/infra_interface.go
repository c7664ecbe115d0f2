package core

import (
	"context"
	"errors"
	"io"

	"github.com/markdave123-py/pdfchat/internal/models"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrUserExists       = errors.New("user already exists")
	ErrForbidden        = errors.New("forbidden")
)

// DbClient defines all persistence operations the services need.
// It abstracts Postgres/SQLite so higher layers never depend on a specific DB.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error)

	CreateChatMessage(ctx context.Context, msg *models.ChatMessage) error
	GetChatMessage(ctx context.Context, id string) (*models.ChatMessage, error)
	ListChatMessages(ctx context.Context, documentID, userID string, limit int) ([]models.ChatMessage, error)
	DeleteChatMessages(ctx context.Context, documentID, userID string) error
	CastVote(ctx context.Context, vote *models.Vote) (*models.ChatMessage, error)

	Close() error
}

// StoredFile is random-access content of an uploaded file.
type StoredFile interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// ObjectClient stores raw uploads, on local disk or any object storage.
type ObjectClient interface {
	Save(ctx context.Context, key string, r io.Reader, contentType string) error
	Open(ctx context.Context, key string) (StoredFile, error)
	Delete(ctx context.Context, key string) error
}
