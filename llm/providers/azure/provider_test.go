package azure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/litellm-go/litellm/llm"
	"github.com/litellm-go/litellm/llm/providers"
)

func TestAzureProvider_RequestURLAndAuthHeader(t *testing.T) {
	var capturedPath, capturedQuery, capturedAPIKeyHeader, capturedAuthHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		capturedQuery = r.URL.RawQuery
		capturedAPIKeyHeader = r.Header.Get("api-key")
		capturedAuthHeader = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
			ID:    "resp-1",
			Model: "gpt-4o",
			Choices: []providers.OpenAICompatChoice{{
				Index:        0,
				FinishReason: "stop",
				Message:      providers.OpenAICompatMessage{Role: "assistant", Content: "hi"},
			}},
		})
	}))
	defer server.Close()

	cfg := providers.AzureConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "azure-key", BaseURL: server.URL},
		Deployment:         "gpt-4o-deployment",
		APIVersion:         "2024-06-01",
	}
	provider := NewAzureProvider(cfg, zap.NewNop())

	resp, err := provider.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Choices[0].Message.Content)

	assert.Equal(t, "/openai/deployments/gpt-4o-deployment/chat/completions", capturedPath)
	assert.Equal(t, "api-version=2024-06-01", capturedQuery)
	assert.Equal(t, "azure-key", capturedAPIKeyHeader)
	assert.Empty(t, capturedAuthHeader)
}

func TestAzureProvider_DefaultsAPIVersion(t *testing.T) {
	cfg := providers.AzureConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "k", BaseURL: "https://example.openai.azure.com"},
		Deployment:         "dep",
	}
	provider := NewAzureProvider(cfg, zap.NewNop())
	assert.Equal(t, "azure", provider.Name())
	assert.Equal(t, "/openai/deployments/dep/chat/completions?api-version=2024-06-01", provider.Cfg.EndpointPath)
}
