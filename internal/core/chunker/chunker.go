// Package chunker splits page text into overlapping, boundary-aware segments.
package chunker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/markdave123-py/pdfchat/internal/models"
)

// ErrInvalidChunking is returned when size and overlap cannot make progress.
var ErrInvalidChunking = errors.New("invalid chunking configuration")

// boundaries are searched in priority order inside each window.
var boundaries = []string{". ", "\n", ", ", " "}

type Chunker struct {
	size    int
	overlap int
}

// New validates the window configuration. Overlap must be smaller than size.
func New(size, overlap int) (*Chunker, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func Validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidChunking, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrInvalidChunking, overlap)
	}
	if overlap >= size {
		return fmt.Errorf("%w: chunk overlap (%d) must be smaller than chunk size (%d)", ErrInvalidChunking, overlap, size)
	}
	return nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits the page text and tags every segment with meta, a fresh chunk
// id and a running index starting at meta.ChunkIndex.
func (c *Chunker) Chunk(page models.Page, meta models.ChunkMetadata) []models.Chunk {
	parts := split(page.Text, c.size, c.overlap)
	out := make([]models.Chunk, 0, len(parts))
	for i, text := range parts {
		m := meta
		m.PageNumber = page.Number
		m.ChunkID = uuid.NewString()
		m.ChunkIndex = meta.ChunkIndex + i
		out = append(out, models.Chunk{Text: text, Metadata: m})
	}
	return out
}

// Split cuts text into windows of at most size runes. Consecutive windows
// share overlap runes.
func Split(text string, size, overlap int) ([]string, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	return split(text, size, overlap), nil
}

func split(text string, size, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{strings.TrimSpace(text)}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		last := end >= len(runes)
		if last {
			end = len(runes)
		} else {
			end = cutPoint(runes, start, end)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if last {
			break
		}

		// a boundary closer to start than the overlap would rewind the window
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// cutPoint returns the end of the window [start, end), moved back to just
// after the highest-priority boundary found inside it.
func cutPoint(runes []rune, start, end int) int {
	window := string(runes[start:end])
	for _, b := range boundaries {
		idx := strings.LastIndex(window, b)
		if idx == -1 {
			continue
		}
		// idx is a byte offset
		return start + len([]rune(window[:idx])) + 1
	}
	return end
}
