package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/AITrekker/RAG-sub000/internal/observability"
)

// QueryCache memoizes query embeddings in Redis. Only query text goes
// through here; corpus chunks are embedded once during sync and never
// benefit from caching. Cache failures degrade to provider calls.
type QueryCache struct {
	client    *redis.Client
	provider  Provider
	model     string
	keyPrefix string
	ttl       time.Duration
	logger    observability.Logger
	metrics   *observability.Metrics
}

// NewQueryCache wraps provider with a Redis-backed query cache. A nil client
// disables caching entirely.
func NewQueryCache(client *redis.Client, provider Provider, model, keyPrefix string, ttl time.Duration, logger observability.Logger, metrics *observability.Metrics) *QueryCache {
	return &QueryCache{
		client:    client,
		provider:  provider,
		model:     model,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger.WithPrefix("embedding.cache"),
		metrics:   metrics,
	}
}

// EmbedQuery returns the embedding for one query string, consulting the
// cache first.
func (c *QueryCache) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if c.client == nil {
		return c.embedDirect(ctx, query)
	}

	key := c.key(query)
	if vec, ok := c.get(ctx, key); ok {
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		return vec, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	vec, err := c.embedDirect(ctx, query)
	if err != nil {
		return nil, err
	}
	c.put(ctx, key, vec)
	return vec, nil
}

func (c *QueryCache) embedDirect(ctx context.Context, query string) ([]float32, error) {
	vecs, err := c.provider.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("provider returned %d vectors for one query", len(vecs))
	}
	return vecs[0], nil
}

func (c *QueryCache) key(query string) string {
	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("%sqemb:%s:%s", c.keyPrefix, c.model, hex.EncodeToString(sum[:]))
}

func (c *QueryCache) get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache read failed", map[string]interface{}{"error": err.Error()})
		}
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		c.logger.Warn("cache entry corrupt, ignoring", map[string]interface{}{"key": key})
		return nil, false
	}
	if len(vec) != c.provider.Dimensions() {
		// Stale entry from a different model dimension.
		return nil, false
	}
	return vec, true
}

func (c *QueryCache) put(ctx context.Context, key string, vec []float32) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", map[string]interface{}{"error": err.Error()})
	}
}
