// Package retrieval answers tenant-scoped similarity queries over stored
// chunk embeddings, optionally composing an LLM answer from the top hits.
package retrieval

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/AITrekker/RAG-sub000/internal/config"
	"github.com/AITrekker/RAG-sub000/internal/embedding"
	"github.com/AITrekker/RAG-sub000/internal/models"
	"github.com/AITrekker/RAG-sub000/internal/observability"
	"github.com/AITrekker/RAG-sub000/internal/repository"
)

// Generator composes an answer from retrieved context; the LLM collaborator.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// AnswerResult is the full RAG response for one query.
type AnswerResult struct {
	Query            string                `json:"query"`
	Answer           *string               `json:"answer,omitempty"`
	Sources          []models.SearchResult `json:"sources"`
	Confidence       float64               `json:"confidence"`
	ProcessingTimeMS int64                 `json:"processing_time_ms"`
}

// Retriever runs the query path: embed (through the cache), vector search,
// optional answer synthesis. The tenant filter lives inside the repository's
// SQL; there is no way to search without it.
type Retriever struct {
	queries   *embedding.QueryCache
	chunks    *repository.ChunkRepository
	generator Generator
	cfg       config.RetrievalConfig
	logger    observability.Logger
	metrics   *observability.Metrics
}

func NewRetriever(
	queries *embedding.QueryCache,
	chunks *repository.ChunkRepository,
	generator Generator,
	cfg config.RetrievalConfig,
	logger observability.Logger,
	metrics *observability.Metrics,
) *Retriever {
	return &Retriever{
		queries:   queries,
		chunks:    chunks,
		generator: generator,
		cfg:       cfg,
		logger:    logger.WithPrefix("retrieval"),
		metrics:   metrics,
	}
}

// Search returns the tenant's top-k chunks for query, most similar first.
// Results below minSimilarity are dropped after the scan. topK is clamped to
// the configured bounds; zero means the default.
func (r *Retriever) Search(ctx context.Context, tenantID uuid.UUID, query string, topK int, minSimilarity float64) ([]models.SearchResult, error) {
	if query == "" {
		return nil, &models.ValidationError{Field: "query", Message: "must not be empty"}
	}
	topK = r.clampTopK(topK)

	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout())
	defer cancel()

	vec, err := r.queries.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := r.chunks.Search(ctx, tenantID, vec, topK)
	if err != nil {
		return nil, err
	}

	if minSimilarity > 0 {
		filtered := results[:0]
		for _, res := range results {
			if res.Similarity >= minSimilarity {
				filtered = append(filtered, res)
			}
		}
		results = filtered
	}
	return results, nil
}

// Answer runs Search and, when a generator is configured, synthesizes an
// answer from the sources. Confidence is the best source similarity; with no
// sources the answer is omitted regardless of generator.
func (r *Retriever) Answer(ctx context.Context, tenantID uuid.UUID, query string, topK int, minSimilarity float64) (*AnswerResult, error) {
	started := time.Now()

	sources, err := r.Search(ctx, tenantID, query, topK, minSimilarity)
	if err != nil {
		return nil, err
	}

	out := &AnswerResult{Query: query, Sources: sources}
	if len(sources) > 0 {
		out.Confidence = sources[0].Similarity
	}

	if r.generator != nil && len(sources) > 0 {
		answer, err := r.generator.Generate(ctx, buildPrompt(query, sources))
		if err != nil {
			// Retrieval succeeded; degrade to sources-only rather than fail.
			r.logger.Warn("answer generation failed", map[string]interface{}{
				"tenant_id": tenantID,
				"error":     err.Error(),
			})
		} else {
			out.Answer = &answer
		}
	}

	out.ProcessingTimeMS = time.Since(started).Milliseconds()
	if r.metrics != nil {
		r.metrics.QueryDuration.Observe(time.Since(started).Seconds())
	}
	return out, nil
}

func (r *Retriever) clampTopK(topK int) int {
	if topK <= 0 {
		return r.cfg.DefaultTopK
	}
	if topK > r.cfg.MaxTopK {
		return r.cfg.MaxTopK
	}
	return topK
}
