package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr string
	}{
		{"bedrock ok", ProviderConfig{Kind: ProviderBedrock, Region: "us-east-1"}, ""},
		{"bedrock no region", ProviderConfig{Kind: ProviderBedrock}, "requires region"},
		{"ollama ok", ProviderConfig{Kind: ProviderOllama, OllamaURL: "http://localhost:11434"}, ""},
		{"ollama no url", ProviderConfig{Kind: ProviderOllama}, "requires ollama_url"},
		{"unknown", ProviderConfig{Kind: "openai"}, "unknown provider"},
		{"negative dims", ProviderConfig{Kind: ProviderOllama, OllamaURL: "x", Dimensions: -1}, "dimensions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewEmbedder_Ollama(t *testing.T) {
	e, err := NewEmbedder(context.Background(), ProviderConfig{Kind: ProviderOllama, OllamaURL: "http://localhost:11434/"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", e.Name())
	assert.Equal(t, defaultOllamaEmbedding, e.Model())
	assert.NoError(t, e.Close())
}

type fakeInvoker struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestBedrockEmbedder_Embed(t *testing.T) {
	inv := &fakeInvoker{body: `{"embedding":[0.25,-0.5],"inputTextTokenCount":3}`}
	b := newBedrockEmbedderWithClient(inv, ProviderConfig{Kind: ProviderBedrock, Region: "eu-west-1", Dimensions: 256})

	vec, err := b.Embed(context.Background(), "[vessel] Aurora", "")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5}, vec)
	assert.Equal(t, defaultBedrockEmbedding, aws.ToString(inv.input.ModelId))

	var req titanEmbedRequest
	require.NoError(t, json.Unmarshal(inv.input.Body, &req))
	assert.Equal(t, "[vessel] Aurora", req.InputText)
	assert.Equal(t, 256, req.Dimensions)
	assert.True(t, req.Normalize)

	inv.body = `{"embedding":[]}`
	_, err = b.Embed(context.Background(), "x", "")
	assert.ErrorContains(t, err, "empty embedding")

	inv.err = errors.New("throttled")
	_, err = b.Embed(context.Background(), "x", "custom-model")
	assert.ErrorContains(t, err, "throttled")
	assert.Equal(t, "custom-model", aws.ToString(inv.input.ModelId))
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Prompt == "boom" {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
			return
		}
		assert.Equal(t, defaultOllamaEmbedding, req.Model)
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float64{0.5, 1.5}})
	}))
	defer srv.Close()

	o := newOllamaEmbedder(ProviderConfig{Kind: ProviderOllama, OllamaURL: srv.URL + "/"})
	vec, err := o.Embed(context.Background(), "[port] Harbor 7", "")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 1.5}, vec)

	_, err = o.Embed(context.Background(), "boom", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
