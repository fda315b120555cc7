package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AITrekker/RAG-sub000/internal/models"
	"github.com/AITrekker/RAG-sub000/internal/observability"
)

func TestBreakerPassesThroughSuccess(t *testing.T) {
	b := NewBreaker(NewStaticProvider(8), observability.NewNoopLogger())

	vecs, err := b.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Len(t, vecs[0], 8)
	assert.Equal(t, "static", b.Name())
	assert.Equal(t, 8, b.Dimensions())
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	p := &fakeProvider{dimensions: 8, failAlways: true, retryable: true}
	b := NewBreaker(p, observability.NewNoopLogger())
	ctx := context.Background()

	// Drive the breaker past its failure-ratio threshold.
	for i := 0; i < 10; i++ {
		_, _ = b.Embed(ctx, []string{"x"})
	}

	callsBefore := len(p.calls)
	_, err := b.Embed(ctx, []string{"x"})
	require.Error(t, err)

	var ee *models.EmbeddingError
	require.ErrorAs(t, err, &ee)
	assert.False(t, ee.Retryable, "open breaker must fail fast, not retry")
	assert.Equal(t, callsBefore, len(p.calls), "open breaker must not reach the provider")
}
