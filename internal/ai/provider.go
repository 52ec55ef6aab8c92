package ai

import (
	"context"
	"fmt"
)

// ---------------------------------------------------------------------------
// Provider kinds
// ---------------------------------------------------------------------------

// ProviderKind identifies a supported embedding backend.
type ProviderKind string

const (
	ProviderBedrock ProviderKind = "bedrock"
	ProviderOllama  ProviderKind = "ollama"
)

// ---------------------------------------------------------------------------
// Embedder interface
// ---------------------------------------------------------------------------

// Embedder is the contract every embedding backend must satisfy.
type Embedder interface {
	// Embed produces a vector embedding for the given text. An empty model
	// selects the embedder's default.
	Embed(ctx context.Context, text string, model string) ([]float32, error)

	// Name returns a human-readable provider name, e.g. "bedrock" or "ollama".
	Name() string

	// Model returns the default embedding model id.
	Model() string

	// Close releases any resources held by the embedder.
	Close() error
}

// ---------------------------------------------------------------------------
// Provider configuration
// ---------------------------------------------------------------------------

// ProviderConfig holds all configuration accepted by NewEmbedder.
type ProviderConfig struct {
	Kind           ProviderKind `json:"kind" yaml:"provider"`
	Region         string       `json:"region,omitempty" yaml:"region"` // AWS region for Bedrock
	EmbeddingModel string       `json:"embedding_model,omitempty" yaml:"embedding_model"`
	Dimensions     int          `json:"dimensions,omitempty" yaml:"dimensions"`

	// Ollama-specific
	OllamaURL string `json:"ollama_url,omitempty" yaml:"ollama_url"` // e.g. "http://localhost:11434"
}

// Validate checks that required fields are set.
func (c ProviderConfig) Validate() error {
	switch c.Kind {
	case ProviderBedrock:
		if c.Region == "" {
			return fmt.Errorf("ai: bedrock provider requires region")
		}
	case ProviderOllama:
		if c.OllamaURL == "" {
			return fmt.Errorf("ai: ollama provider requires ollama_url")
		}
	default:
		return fmt.Errorf("ai: unknown provider kind %q", c.Kind)
	}
	if c.Dimensions < 0 {
		return fmt.Errorf("ai: dimensions must not be negative")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

// NewEmbedder creates a concrete Embedder from configuration.
func NewEmbedder(ctx context.Context, cfg ProviderConfig) (Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case ProviderBedrock:
		e, err := newBedrockEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return e, nil
	case ProviderOllama:
		return newOllamaEmbedder(cfg), nil
	default:
		return nil, fmt.Errorf("ai: unsupported provider %q", cfg.Kind)
	}
}
