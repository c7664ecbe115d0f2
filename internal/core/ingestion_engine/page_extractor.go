package ingestion_engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

// PDFExtractor implements core.PageExtractor. Pages are read one at a time
// with ledongthuc/pdf; documents that library cannot open are converted whole
// with docconv and split on form feeds.
type PDFExtractor struct {
	useReadability bool
}

var _ core.PageExtractor = (*PDFExtractor)(nil)

func NewPDFExtractor(useReadability bool) *PDFExtractor {
	return &PDFExtractor{useReadability: useReadability}
}

func (e *PDFExtractor) ExtractPages(ctx context.Context, g *errgroup.Group, f core.StoredFile, contentType string) (<-chan models.Page, error) {
	out := make(chan models.Page, 4)

	reader, err := openPDF(f)
	if err != nil {
		log.Printf("PDFExtractor: page reader unavailable, falling back to docconv: %v", err)
		goSafe(g, func() error {
			defer close(out)
			return e.convertWhole(ctx, f, contentType, out)
		})
		return out, nil
	}

	total := reader.NumPage()
	if total == 0 {
		close(out)
		return out, nil
	}

	goSafe(g, func() error {
		defer close(out)
		for n := 1; n <= total; n++ {
			text, err := pageText(reader, n)
			if err != nil {
				log.Printf("PDFExtractor: error processing page %d: %v", n, err)
				continue
			}
			if strings.TrimSpace(text) == "" {
				log.Printf("PDFExtractor: page %d is empty", n)
				continue
			}
			select {
			case out <- models.Page{Number: n, Text: text}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	return out, nil
}

func openPDF(f core.StoredFile) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("pdf reader panic: %v", p)
		}
	}()
	return pdf.NewReader(f, f.Size())
}

// pageText guards against the library panicking on malformed page content.
func pageText(r *pdf.Reader, n int) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("page %d: %v", n, p)
		}
	}()
	page := r.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func (e *PDFExtractor) convertWhole(ctx context.Context, f core.StoredFile, contentType string, out chan<- models.Page) error {
	if contentType == "" {
		contentType = "application/pdf"
	}
	res, err := docconv.Convert(io.NewSectionReader(f, 0, f.Size()), contentType, e.useReadability)
	if err != nil {
		return fmt.Errorf("docconv: extraction failed for content type %q: %w", contentType, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, text := range strings.Split(res.Body, "\f") {
		if strings.TrimSpace(text) == "" {
			continue
		}
		select {
		case out <- models.Page{Number: i + 1, Text: text}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
