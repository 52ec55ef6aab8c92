package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// ollamaEmbedder
// ---------------------------------------------------------------------------

const (
	defaultOllamaEmbedding = "nomic-embed-text"
	ollamaTimeout          = 120 * time.Second
)

// ollamaEmbedder implements Embedder by calling the local Ollama HTTP API.
type ollamaEmbedder struct {
	baseURL        string
	httpClient     *http.Client
	embeddingModel string
}

// newOllamaEmbedder creates an Ollama-backed embedder.
func newOllamaEmbedder(cfg ProviderConfig) *ollamaEmbedder {
	embModel := cfg.EmbeddingModel
	if embModel == "" {
		embModel = defaultOllamaEmbedding
	}
	return &ollamaEmbedder{
		baseURL: strings.TrimRight(cfg.OllamaURL, "/"),
		httpClient: &http.Client{
			Timeout: ollamaTimeout,
		},
		embeddingModel: embModel,
	}
}

// Name implements Embedder.
func (o *ollamaEmbedder) Name() string { return "ollama" }

// Model implements Embedder.
func (o *ollamaEmbedder) Model() string { return o.embeddingModel }

// Close implements Embedder.
func (o *ollamaEmbedder) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// ---------------------------------------------------------------------------
// Embed: POST /api/embeddings
// ---------------------------------------------------------------------------

// ollamaEmbedRequest is the body for POST /api/embeddings.
type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// ollamaEmbedResponse is the response from POST /api/embeddings.
type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"` // Ollama returns float64
}

// Embed implements Embedder.
func (o *ollamaEmbedder) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	if model == "" {
		model = o.embeddingModel
	}

	var resp ollamaEmbedResponse
	if err := o.doJSON(ctx, "/api/embeddings", ollamaEmbedRequest{
		Model:  model,
		Prompt: text,
	}, &resp); err != nil {
		return nil, fmt.Errorf("ai/ollama: embeddings: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("ai/ollama: empty embedding from %s", model)
	}

	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// ---------------------------------------------------------------------------
// HTTP helper
// ---------------------------------------------------------------------------

func (o *ollamaEmbedder) doJSON(ctx context.Context, path string, reqBody any, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(errBody))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
