package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/AITrekker/RAG-sub000/internal/models"
	"github.com/AITrekker/RAG-sub000/internal/observability"
)

// Breaker wraps a Provider with a circuit breaker. When the provider is hard
// down, files fail fast instead of each one burning a full timeout, and the
// sync still runs to completion with every file counted failed.
type Breaker struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

func NewBreaker(inner Provider, logger observability.Logger) *Breaker {
	log := logger.WithPrefix("embedding.breaker")
	settings := gobreaker.Settings{
		Name:    inner.Name(),
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", map[string]interface{}{
				"provider": name,
				"from":     from.String(),
				"to":       to.String(),
			})
		},
	}
	return &Breaker{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings), logger: log}
}

func (b *Breaker) Name() string { return b.inner.Name() }

func (b *Breaker) Dimensions() int { return b.inner.Dimensions() }

func (b *Breaker) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Embed(ctx, texts)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &models.EmbeddingError{
				Provider:  b.inner.Name(),
				BatchSize: len(texts),
				Retryable: false,
				Err:       err,
			}
		}
		return nil, err
	}
	return result.([][]float32), nil
}

func (b *Breaker) HealthCheck(ctx context.Context) error {
	return b.inner.HealthCheck(ctx)
}
