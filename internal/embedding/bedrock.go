package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/AITrekker/RAG-sub000/internal/models"
)

// BedrockClient is the slice of the Bedrock runtime API the provider needs,
// kept narrow so tests can fake it.
type BedrockClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider encodes through AWS Bedrock Titan text embeddings. Titan
// embeds one text per invocation, so a batch becomes sequential calls.
type BedrockProvider struct {
	client     BedrockClient
	modelID    string
	dimensions int
}

// NewBedrockProvider loads the default AWS credential chain for region.
func NewBedrockProvider(ctx context.Context, region, modelID string, dimensions int) (*BedrockProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewBedrockProviderWithClient(bedrockruntime.NewFromConfig(awsCfg), modelID, dimensions), nil
}

func NewBedrockProviderWithClient(client BedrockClient, modelID string, dimensions int) *BedrockProvider {
	return &BedrockProvider{client: client, modelID: modelID, dimensions: dimensions}
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Dimensions() int { return p.dimensions }

type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

func (p *BedrockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.embedOne(ctx, text)
		if err != nil {
			return nil, &models.EmbeddingError{Provider: p.Name(), BatchSize: len(texts), Retryable: true, Err: err}
		}
		out[i] = vec
	}
	return out, nil
}

func (p *BedrockProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		// Titan rejects empty input; a zero vector keeps slots aligned.
		return make([]float32, p.dimensions), nil
	}

	body, err := json.Marshal(titanEmbedRequest{InputText: text, Dimensions: p.dimensions})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal titan request: %w", err)
	}

	resp, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke bedrock model: %w", err)
	}

	var parsed titanEmbedResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode titan response: %w", err)
	}
	if len(parsed.Embedding) != p.dimensions {
		return nil, fmt.Errorf("titan returned %d dimensions, expected %d", len(parsed.Embedding), p.dimensions)
	}
	return parsed.Embedding, nil
}

func (p *BedrockProvider) HealthCheck(ctx context.Context) error {
	_, err := p.embedOne(ctx, "ping")
	return err
}
