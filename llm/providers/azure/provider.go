// Package azure implements the Azure OpenAI Service provider, reusing the
// OpenAI-compatible Chat Completions wire format but swapping the
// resource-based URL layout and api-key header that Azure requires in
// place of a plain OpenAI Bearer token.
package azure

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/litellm-go/litellm/llm/providers"
	"github.com/litellm-go/litellm/llm/providers/openaicompat"
	"go.uber.org/zap"
)

const defaultAPIVersion = "2024-06-01"

// AzureProvider adapts an Azure OpenAI deployment. The request/response
// JSON shape matches upstream OpenAI; only URL construction and auth
// differ, so both are supplied as openaicompat extension points rather
// than reimplementing Completion/Stream.
type AzureProvider struct {
	*openaicompat.Provider
}

// NewAzureProvider creates a provider bound to a single Azure deployment.
// cfg.BaseURL must be the resource endpoint
// ("https://<resource>.openai.azure.com"); cfg.Deployment names the model
// deployment to call.
func NewAzureProvider(cfg providers.AzureConfig, logger *zap.Logger) *AzureProvider {
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	endpointPath := fmt.Sprintf("/openai/deployments/%s/chat/completions?api-version=%s", cfg.Deployment, apiVersion)
	modelsPath := fmt.Sprintf("/openai/models?api-version=%s", apiVersion)

	p := openaicompat.New(openaicompat.Config{
		ProviderName:   "azure",
		APIKey:         cfg.APIKey,
		BaseURL:        base,
		DefaultModel:   cfg.Model,
		FallbackModel:  cfg.Deployment,
		Timeout:        cfg.Timeout,
		EndpointPath:   endpointPath,
		ModelsEndpoint: modelsPath,
	}, logger)

	p.SetBuildHeaders(func(req *http.Request, apiKey string) {
		req.Header.Set("api-key", apiKey)
		req.Header.Set("Content-Type", "application/json")
	})

	return &AzureProvider{Provider: p}
}

// Name identifies this adapter distinctly from plain "openai" deployments
// even though both speak the same wire format.
func (p *AzureProvider) Name() string { return "azure" }
