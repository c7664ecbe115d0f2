package core

import (
	"context"

	"github.com/markdave123-py/pdfchat/internal/models"
	"golang.org/x/sync/errgroup"
)

// PageExtractor streams the text of a stored document page by page.
type PageExtractor interface {
	// ExtractPages registers its producer on g and returns a channel that is
	// closed once every page has been sent. Pages without text are skipped.
	ExtractPages(ctx context.Context, g *errgroup.Group, f StoredFile, contentType string) (<-chan models.Page, error)
}
