package embedding

import (
	"context"
	"fmt"

	"github.com/AITrekker/RAG-sub000/internal/config"
)

// NewProvider builds the configured embedding provider. Config validation
// has already checked provider-specific credentials.
func NewProvider(ctx context.Context, cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "static":
		return NewStaticProvider(cfg.Dimensions), nil
	case "openai":
		return NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.Model, cfg.Dimensions), nil
	case "bedrock":
		return NewBedrockProvider(ctx, cfg.Bedrock.Region, cfg.Bedrock.ModelID, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
