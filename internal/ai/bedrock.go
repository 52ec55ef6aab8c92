package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// ---------------------------------------------------------------------------
// Default model IDs
// ---------------------------------------------------------------------------

const (
	defaultBedrockEmbedding = "amazon.titan-embed-text-v2:0"
	titanEmbedDimensions    = 1024
)

// ---------------------------------------------------------------------------
// bedrockEmbedder
// ---------------------------------------------------------------------------

// modelInvoker is the subset of *bedrockruntime.Client the embedder uses.
type modelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// bedrockEmbedder implements Embedder using InvokeModel with Titan Text
// Embeddings.
type bedrockEmbedder struct {
	client         modelInvoker
	embeddingModel string
	dimensions     int
	region         string
}

// newBedrockEmbedder initialises an AWS Bedrock embedder using the default
// credential chain.
func newBedrockEmbedder(ctx context.Context, cfg ProviderConfig) (*bedrockEmbedder, error) {
	awsCfg, err := awscfg.LoadDefaultConfig(ctx,
		awscfg.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("ai/bedrock: load aws config: %w", err)
	}
	return newBedrockEmbedderWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

func newBedrockEmbedderWithClient(client modelInvoker, cfg ProviderConfig) *bedrockEmbedder {
	model := cfg.EmbeddingModel
	if model == "" {
		model = defaultBedrockEmbedding
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = titanEmbedDimensions
	}
	return &bedrockEmbedder{
		client:         client,
		embeddingModel: model,
		dimensions:     dims,
		region:         cfg.Region,
	}
}

// Name implements Embedder.
func (b *bedrockEmbedder) Name() string { return "bedrock" }

// Model implements Embedder.
func (b *bedrockEmbedder) Model() string { return b.embeddingModel }

// Close implements Embedder.
func (b *bedrockEmbedder) Close() error { return nil }

// titanEmbedRequest is the JSON body for Titan Embedding V2.
type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize"`
}

// titanEmbedResponse is the JSON response from Titan Embedding V2.
type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Embed implements Embedder.
func (b *bedrockEmbedder) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	if model == "" {
		model = b.embeddingModel
	}

	body, err := json.Marshal(titanEmbedRequest{
		InputText:  text,
		Dimensions: b.dimensions,
		Normalize:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("ai/bedrock: marshal embed request: %w", err)
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("ai/bedrock: invoke model embed: %w", err)
	}

	var result titanEmbedResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("ai/bedrock: unmarshal embed response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ai/bedrock: empty embedding from %s", model)
	}
	return result.Embedding, nil
}
