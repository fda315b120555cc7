package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/AITrekker/RAG-sub000/internal/models"
	"github.com/AITrekker/RAG-sub000/internal/observability"
)

// targetBatchChars is the character budget one batch aims for. Short chunks
// pack into big batches, long chunks into small ones, within [min, max].
const targetBatchChars = 64 * 1024

// BatcherConfig bounds batch sizing and concurrency.
type BatcherConfig struct {
	MinBatchSize int
	MaxBatchSize int
	Concurrency  int
}

// Batcher slices a text sequence into provider batches, dispatches them with
// bounded concurrency, and reassembles vectors in input order.
type Batcher struct {
	provider Provider
	cfg      BatcherConfig
	logger   observability.Logger
	metrics  *observability.Metrics
}

func NewBatcher(provider Provider, cfg BatcherConfig, logger observability.Logger, metrics *observability.Metrics) *Batcher {
	return &Batcher{
		provider: provider,
		cfg:      cfg,
		logger:   logger.WithPrefix("embedding.batcher"),
		metrics:  metrics,
	}
}

// Dimensions exposes the underlying provider's vector width.
func (b *Batcher) Dimensions() int { return b.provider.Dimensions() }

// EmbedAll encodes texts, returning one vector per input in the same order.
// A failed batch is retried once at half size; if the retry fails too, the
// whole call fails with an EmbeddingError covering the batch's offsets.
func (b *Batcher) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := b.adaptiveBatchSize(texts)
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		g.Go(func() error {
			vecs, err := b.embedBatch(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("chunks %d..%d: %w", start, end-1, err)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// embedBatch calls the provider once, and on a retryable failure splits the
// batch in half and tries each half exactly once after a short pause.
func (b *Batcher) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	started := time.Now()
	vecs, err := b.provider.Embed(ctx, texts)
	if b.metrics != nil {
		b.metrics.EmbeddingDuration.Observe(time.Since(started).Seconds())
	}
	if err == nil {
		if verr := b.validate(vecs, len(texts)); verr != nil {
			return nil, verr
		}
		b.countBatch("ok")
		return vecs, nil
	}

	if !models.IsRetryable(err) || len(texts) == 1 {
		b.countBatch("failed")
		return nil, err
	}

	b.logger.Warn("embedding batch failed, retrying at half size", map[string]interface{}{
		"batch_size": len(texts),
		"error":      err.Error(),
	})
	b.countBatch("retried")

	pause := backoff.NewExponentialBackOff()
	pause.InitialInterval = 500 * time.Millisecond
	select {
	case <-time.After(pause.NextBackOff()):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mid := len(texts) / 2
	first, err := b.retryOnce(ctx, texts[:mid])
	if err != nil {
		return nil, err
	}
	second, err := b.retryOnce(ctx, texts[mid:])
	if err != nil {
		return nil, err
	}
	return append(first, second...), nil
}

func (b *Batcher) retryOnce(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := b.provider.Embed(ctx, texts)
	if err != nil {
		b.countBatch("failed")
		return nil, err
	}
	if err := b.validate(vecs, len(texts)); err != nil {
		return nil, err
	}
	b.countBatch("ok")
	return vecs, nil
}

func (b *Batcher) validate(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), want)
	}
	dim := b.provider.Dimensions()
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("vector %d has %d dimensions, expected %d", i, len(v), dim)
		}
	}
	return nil
}

// adaptiveBatchSize sizes batches so the average batch stays near the
// character budget, clamped to the configured bounds.
func (b *Batcher) adaptiveBatchSize(texts []string) int {
	total := 0
	for _, t := range texts {
		total += len(t)
	}
	avg := total / len(texts)
	if avg < 1 {
		avg = 1
	}

	size := targetBatchChars / avg
	if size < b.cfg.MinBatchSize {
		size = b.cfg.MinBatchSize
	}
	if size > b.cfg.MaxBatchSize {
		size = b.cfg.MaxBatchSize
	}
	return size
}

func (b *Batcher) countBatch(outcome string) {
	if b.metrics != nil {
		b.metrics.EmbeddingBatchesTotal.WithLabelValues(outcome).Inc()
	}
}
