// Package pipeline processes one planned file change end to end: extract,
// chunk, embed, then persist the file row and its chunk rows in a single
// transaction. It is the only place file and chunk writes are coupled.
package pipeline

import (
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/AITrekker/RAG-sub000/internal/chunker"
	"github.com/AITrekker/RAG-sub000/internal/database"
	"github.com/AITrekker/RAG-sub000/internal/extractor"
	"github.com/AITrekker/RAG-sub000/internal/models"
	"github.com/AITrekker/RAG-sub000/internal/observability"
	"github.com/AITrekker/RAG-sub000/internal/repository"
)

// Embedder is the batching encoder the processor drives; satisfied by
// embedding.Batcher.
type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Result carries per-file counters back to the sync executor.
type Result struct {
	ChunksCreated     int
	ChunksDeleted     int
	EmbeddingsCreated int
}

// FileProcessor applies one FileChange to the catalog.
type FileProcessor struct {
	db             *sqlx.DB
	files          *repository.FileRepository
	chunks         *repository.ChunkRepository
	extractor      *extractor.Extractor
	chunker        *chunker.Chunker
	embedder       Embedder
	embeddingModel string
	logger         observability.Logger
}

func NewFileProcessor(
	db *sqlx.DB,
	files *repository.FileRepository,
	chunks *repository.ChunkRepository,
	ex *extractor.Extractor,
	ch *chunker.Chunker,
	embedder Embedder,
	embeddingModel string,
	logger observability.Logger,
) *FileProcessor {
	return &FileProcessor{
		db:             db,
		files:          files,
		chunks:         chunks,
		extractor:      ex,
		chunker:        ch,
		embedder:       embedder,
		embeddingModel: embeddingModel,
		logger:         logger.WithPrefix("pipeline"),
	}
}

// Process applies change for tenantID. On failure the tuple transaction has
// rolled back and the file is marked failed in a follow-up write; the caller
// counts the failure and moves on to the next file.
func (p *FileProcessor) Process(ctx context.Context, tenantID uuid.UUID, change models.FileChange) (Result, error) {
	var res Result
	var err error

	switch change.Action {
	case models.ActionCreate:
		res, err = p.create(ctx, tenantID, change)
	case models.ActionUpdate:
		res, err = p.update(ctx, tenantID, change)
	case models.ActionDelete:
		res, err = p.delete(ctx, change)
	default:
		return Result{}, fmt.Errorf("unknown change action: %s", change.Action)
	}

	if err != nil && change.Action != models.ActionDelete {
		if markErr := p.files.MarkFailed(ctx, tenantID, change, err.Error()); markErr != nil {
			p.logger.Error("failed to record file failure", map[string]interface{}{
				"path":  change.Path,
				"error": markErr.Error(),
			})
		}
	}
	return res, err
}

// create inserts a brand-new file tuple. A path unknown to change detection
// may still own a tombstoned row (the file was deleted and later restored);
// that case is routed through the update path, which clears the tombstone and
// reuses the row, so the (tenant, path) uniqueness never trips.
func (p *FileProcessor) create(ctx context.Context, tenantID uuid.UUID, change models.FileChange) (Result, error) {
	existing, err := p.files.GetByPath(ctx, tenantID, change.Path)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		change.FileID = existing.ID
		return p.update(ctx, tenantID, change)
	}

	file := &models.File{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Path:        change.Path,
		Name:        path.Base(change.Path),
		SizeBytes:   change.SizeBytes,
		MimeType:    change.MimeType,
		ContentHash: change.NewHash,
		SyncStatus:  models.FileStatusProcessing,
	}

	chunks, err := p.buildChunks(ctx, file.ID, tenantID, change)
	if err != nil {
		return Result{}, err
	}

	err = database.Transaction(ctx, p.db, func(tx *sqlx.Tx) error {
		if err := p.files.Insert(ctx, tx, file); err != nil {
			return err
		}
		if err := p.chunks.InsertBatch(ctx, tx, chunks); err != nil {
			return err
		}
		return p.files.SetSynced(ctx, tx, file.ID, len(chunks))
	})
	if err != nil {
		return Result{}, &models.PersistenceError{Op: "create file tuple", Err: err}
	}

	return Result{ChunksCreated: len(chunks), EmbeddingsCreated: len(chunks)}, nil
}

func (p *FileProcessor) update(ctx context.Context, tenantID uuid.UUID, change models.FileChange) (Result, error) {
	file := &models.File{
		ID:          change.FileID,
		Name:        path.Base(change.Path),
		SizeBytes:   change.SizeBytes,
		MimeType:    change.MimeType,
		ContentHash: change.NewHash,
		SyncStatus:  models.FileStatusProcessing,
	}

	chunks, err := p.buildChunks(ctx, change.FileID, tenantID, change)
	if err != nil {
		return Result{}, err
	}

	var deleted int64
	err = database.Transaction(ctx, p.db, func(tx *sqlx.Tx) error {
		if err := p.files.UpdateContent(ctx, tx, file); err != nil {
			return err
		}
		deleted, err = p.chunks.DeleteForFile(ctx, tx, change.FileID)
		if err != nil {
			return err
		}
		if err := p.chunks.InsertBatch(ctx, tx, chunks); err != nil {
			return err
		}
		return p.files.SetSynced(ctx, tx, change.FileID, len(chunks))
	})
	if err != nil {
		return Result{}, &models.PersistenceError{Op: "update file tuple", Err: err}
	}

	return Result{ChunksCreated: len(chunks), ChunksDeleted: int(deleted), EmbeddingsCreated: len(chunks)}, nil
}

// delete tombstones the file and removes its chunks atomically, so a
// half-deleted file can never be retrieved.
func (p *FileProcessor) delete(ctx context.Context, change models.FileChange) (Result, error) {
	var deleted int64
	err := database.Transaction(ctx, p.db, func(tx *sqlx.Tx) error {
		var err error
		deleted, err = p.chunks.DeleteForFile(ctx, tx, change.FileID)
		if err != nil {
			return err
		}
		return p.files.SoftDelete(ctx, tx, change.FileID)
	})
	if err != nil {
		return Result{}, &models.PersistenceError{Op: "delete file tuple", Err: err}
	}
	return Result{ChunksDeleted: int(deleted)}, nil
}

// buildChunks runs extract → chunk → embed for the file on disk. Empty text
// is valid and yields no chunks.
func (p *FileProcessor) buildChunks(ctx context.Context, fileID, tenantID uuid.UUID, change models.FileChange) ([]models.Chunk, error) {
	text, err := p.extractor.Extract(change.AbsPath, change.MimeType)
	if err != nil {
		return nil, err
	}

	pieces := p.chunker.Split(text)
	if len(pieces) == 0 {
		return nil, nil
	}

	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Text
	}

	vectors, err := p.embedder.EmbedAll(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(pieces) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(pieces))
	}

	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.Chunk{
			ID:             uuid.New(),
			TenantID:       tenantID,
			FileID:         fileID,
			ChunkIndex:     piece.Index,
			Content:        piece.Text,
			TokenCount:     piece.TokenCount,
			TextHash:       piece.TextHash,
			Embedding:      vectors[i],
			EmbeddingModel: p.embeddingModel,
		}
	}
	return chunks, nil
}
