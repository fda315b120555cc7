package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// StaticProvider is a deterministic, offline encoder: each token hashes into
// a handful of vector positions, and the sum is L2-normalized. Similar texts
// share tokens and therefore vector mass, which is enough signal for tests
// and local development without a model server.
type StaticProvider struct {
	dimensions int
}

func NewStaticProvider(dimensions int) *StaticProvider {
	return &StaticProvider{dimensions: dimensions}
}

func (p *StaticProvider) Name() string { return "static" }

func (p *StaticProvider) Dimensions() int { return p.dimensions }

func (p *StaticProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.encode(text)
	}
	return out, nil
}

func (p *StaticProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *StaticProvider) encode(text string) []float32 {
	vec := make([]float32, p.dimensions)
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		vec[0] = 1
		return vec
	}

	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		seed := h.Sum64()
		// Spread each token over three positions with alternating sign.
		for j := 0; j < 3; j++ {
			pos := int((seed >> (j * 16)) % uint64(p.dimensions))
			sign := float32(1)
			if (seed>>(j*16+8))&1 == 1 {
				sign = -1
			}
			vec[pos] += sign
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
