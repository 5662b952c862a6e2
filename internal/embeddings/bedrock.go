package embeddings

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/noeticlabs/noeticd/internal/vectorstore"
)

// BedrockConfig configures the AWS Bedrock embedding provider.
type BedrockConfig struct {
	Region  string
	ModelID string // defaults to amazon.titan-embed-text-v2:0
}

// titanEmbedRequest is the request body Amazon Titan's embedding models
// expect, per the Bedrock runtime InvokeModel wire contract.
type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	EmbeddingsByType    struct{}  `json:"embeddingsByType,omitempty"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// BedrockProvider generates embeddings via AWS Bedrock's InvokeModel API.
// Bedrock has no batch embedding endpoint for Titan, so EmbedBatch issues
// one InvokeModel call per text.
type BedrockProvider struct {
	client    *bedrockruntime.Client
	modelID   string
	dimension int
}

// NewBedrockProvider builds a BedrockProvider, loading AWS credentials from
// the default credential chain (env vars, shared config, instance role).
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.ModelID == "" {
		cfg.ModelID = "amazon.titan-embed-text-v2:0"
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &BedrockProvider{
		client:    bedrockruntime.NewFromConfig(awsCfg),
		modelID:   cfg.ModelID,
		dimension: detectDimensionFromModel(cfg.ModelID),
	}, nil
}

// Embed generates a single embedding via one InvokeModel call.
func (p *BedrockProvider) Embed(ctx context.Context, text string, _ vectorstore.Hint) ([]float32, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text})
	if err != nil {
		return nil, err
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var resp titanEmbedResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding bedrock response: %v", ErrEmbeddingFailed, err)
	}
	return resp.Embedding, nil
}

// EmbedBatch embeds each text with a separate InvokeModel call, since
// Titan embedding models expose no batch endpoint.
func (p *BedrockProvider) EmbedBatch(ctx context.Context, texts []string, hint vectorstore.Hint) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.Embed(ctx, t, hint)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d of %d: %w", i+1, len(texts), err)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *BedrockProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op; the Bedrock client holds no resources to release.
func (p *BedrockProvider) Close() error {
	return nil
}
