package models

import (
	"time"

	"github.com/google/uuid"
)

// Chunk is one embedded slice of a file. ChunkIndex is dense per file
// starting at 0, and (FileID, ChunkIndex) is unique. The embedding lives
// inline in the same row so chunk and vector commit or roll back together.
type Chunk struct {
	ID             uuid.UUID `db:"id" json:"id"`
	TenantID       uuid.UUID `db:"tenant_id" json:"tenant_id"`
	FileID         uuid.UUID `db:"file_id" json:"file_id"`
	ChunkIndex     int       `db:"chunk_index" json:"chunk_index"`
	Content        string    `db:"content" json:"content"`
	TokenCount     int       `db:"token_count" json:"token_count"`
	TextHash       string    `db:"text_hash" json:"text_hash"`
	Embedding      []float32 `db:"-" json:"-"`
	EmbeddingModel string    `db:"embedding_model" json:"embedding_model"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// SearchResult is one retrieval hit: chunk content plus provenance and the
// cosine similarity against the query vector, in [0, 1].
type SearchResult struct {
	ChunkID    uuid.UUID `db:"id" json:"chunk_id"`
	FileID     uuid.UUID `db:"file_id" json:"file_id"`
	FilePath   string    `db:"file_path" json:"file_path"`
	FileName   string    `db:"file_name" json:"filename"`
	ChunkIndex int       `db:"chunk_index" json:"chunk_index"`
	Content    string    `db:"content" json:"content"`
	TokenCount int       `db:"token_count" json:"token_count"`
	Similarity float64   `db:"similarity" json:"similarity"`
}
