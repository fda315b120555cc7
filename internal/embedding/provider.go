// Package embedding turns text into fixed-dimension vectors. A Provider is
// the opaque encoder collaborator; the Batcher drives it with adaptive batch
// sizes and bounded concurrency, and the Breaker guards it against cascading
// provider failures.
package embedding

import "context"

// Provider encodes batches of texts into vectors. Implementations must
// preserve input order and return exactly one vector per input text, each of
// Dimensions() length.
type Provider interface {
	Name() string
	Dimensions() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	HealthCheck(ctx context.Context) error
}
