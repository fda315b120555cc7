package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AITrekker/RAG-sub000/internal/observability"
)

type countingProvider struct {
	Provider
	calls int
}

func (p *countingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls++
	return p.Provider.Embed(ctx, texts)
}

func newTestCache(t *testing.T) (*QueryCache, *countingProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	provider := &countingProvider{Provider: NewStaticProvider(16)}
	cache := NewQueryCache(client, provider, "test-model", "rag:", 5*time.Minute,
		observability.NewNoopLogger(), nil)
	return cache, provider, mr
}

func TestEmbedQueryCachesSecondCall(t *testing.T) {
	cache, provider, _ := newTestCache(t)
	ctx := context.Background()

	first, err := cache.EmbedQuery(ctx, "hello world")
	require.NoError(t, err)
	second, err := cache.EmbedQuery(ctx, "hello world")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.calls, "second call must come from cache")
}

func TestEmbedQueryDistinctQueriesDistinctKeys(t *testing.T) {
	cache, provider, _ := newTestCache(t)
	ctx := context.Background()

	_, err := cache.EmbedQuery(ctx, "alpha")
	require.NoError(t, err)
	_, err = cache.EmbedQuery(ctx, "bravo")
	require.NoError(t, err)

	assert.Equal(t, 2, provider.calls)
}

func TestEmbedQueryExpiredEntryReembeds(t *testing.T) {
	cache, provider, mr := newTestCache(t)
	ctx := context.Background()

	_, err := cache.EmbedQuery(ctx, "hello")
	require.NoError(t, err)

	mr.FastForward(10 * time.Minute)

	_, err = cache.EmbedQuery(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestEmbedQueryRedisDownDegradesToProvider(t *testing.T) {
	cache, provider, mr := newTestCache(t)
	mr.Close()

	vec, err := cache.EmbedQuery(context.Background(), "still works")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
	assert.Equal(t, 1, provider.calls)
}

func TestEmbedQueryNilClientSkipsCache(t *testing.T) {
	provider := &countingProvider{Provider: NewStaticProvider(16)}
	cache := NewQueryCache(nil, provider, "m", "rag:", time.Minute,
		observability.NewNoopLogger(), nil)

	_, err := cache.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	_, err = cache.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestEmbedQueryCorruptEntryIgnored(t *testing.T) {
	cache, provider, mr := newTestCache(t)
	ctx := context.Background()

	_, err := cache.EmbedQuery(ctx, "q")
	require.NoError(t, err)

	// Overwrite the stored entry with junk.
	keys := mr.Keys()
	require.Len(t, keys, 1)
	require.NoError(t, mr.Set(keys[0], "not json"))

	_, err = cache.EmbedQuery(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}
