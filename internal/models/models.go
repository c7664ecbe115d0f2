package models

import (
	"time"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Document is the persisted record of an ingested PDF. It only exists once at
// least one chunk of the file has been indexed.
type Document struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	FileName    string    `db:"file_name" json:"file_name"`
	StoragePath string    `db:"storage_path" json:"-"`
	ContentType string    `db:"content_type" json:"content_type"`
	Processed   bool      `db:"is_processed" json:"is_processed"`
	ChunkCount  int       `db:"chunk_count" json:"chunk_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Page is the extracted text of one PDF page. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// ChunkMetadata travels with a chunk from the chunker to the vector index.
type ChunkMetadata struct {
	SourceDocumentID string `json:"source_document_id"`
	FilePath         string `json:"file_path"`
	PageNumber       int    `json:"page_number"`
	ChunkID          string `json:"chunk_id"`
	ChunkIndex       int    `json:"chunk_index"`
}

// Chunk is one overlapping text segment of a page.
type Chunk struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// IndexedMetadata is what the vector index stores next to each vector.
type IndexedMetadata struct {
	RawText          string   `json:"text"`
	NormalizedText   string   `json:"processed_text"`
	Keywords         []string `json:"keywords"`
	SourceDocumentID string   `json:"file_id"`
	FilePath         string   `json:"file_path"`
	PageNumber       int      `json:"page_number"`
}

// IndexedRecord is keyed by the chunk id; re-upserting the same id replaces it.
type IndexedRecord struct {
	ID       string
	Vector   []float32
	Metadata IndexedMetadata
}

type ResultMetadata struct {
	SourceDocumentID string  `json:"file_id"`
	PageNumber       int     `json:"page_number"`
	SimilarityScore  float64 `json:"similarity_score"`
}

// SearchResult is one ranked hit of a similarity query.
type SearchResult struct {
	Text           string         `json:"text"`
	NormalizedText string         `json:"processed_text"`
	Metadata       ResultMetadata `json:"metadata"`
}

// SearchOptions controls candidate filtering for a similarity query.
type SearchOptions struct {
	TopK             int
	SourceDocumentID string
	ScoreThreshold   float64
	MinScoreCutoff   float64
}

// Progress is one ingestion progress event for a (document, user) pair.
type Progress struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
	Percent    int    `json:"progress"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Redirect   string `json:"redirect,omitempty"`
	Terminal   bool   `json:"terminal"`
}

// Source cites a retrieved chunk in an answer.
type Source struct {
	PageNumber       int     `json:"page_number"`
	SourceDocumentID string  `json:"file_id"`
	SimilarityScore  float64 `json:"similarity_score"`
	TextPreview      string  `json:"text_preview"`
}

// ChatAnswer is the composed reply to a question. Degraded is set when the
// response was not produced by the generation backend.
type ChatAnswer struct {
	Response string   `json:"response"`
	Sources  []Source `json:"sources"`
	Degraded bool     `json:"degraded"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	VoteUp   = "upvote"
	VoteDown = "downvote"
)

// ChatMessage represents an individual chat message (user or assistant).
type ChatMessage struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	UserID     string    `db:"user_id" json:"user_id"`
	Role       string    `db:"role" json:"role"`
	Content    string    `db:"content" json:"content"`
	Sources    []Source  `db:"sources" json:"sources"`
	Upvotes    int       `db:"upvotes" json:"upvotes"`
	Downvotes  int       `db:"downvotes" json:"downvotes"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Vote is unique per (user, message).
type Vote struct {
	UserID    string    `db:"user_id" json:"user_id"`
	MessageID string    `db:"message_id" json:"message_id"`
	VoteType  string    `db:"vote_type" json:"vote_type"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
