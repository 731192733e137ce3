package deepseek

import (
	"github.com/litellm-go/litellm/llm"
	"github.com/litellm-go/litellm/llm/providers"
	"github.com/litellm-go/litellm/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// DeepSeekProvider 实现 DeepSeek LLM 提供者.
// DeepSeek 使用 OpenAI 兼容的 API 格式.
type DeepSeekProvider struct {
	*openaicompat.Provider
}

// NewDeepSeekProvider 创建新的 DeepSeek 提供者实例.
func NewDeepSeekProvider(cfg providers.DeepSeekConfig, logger *zap.Logger) *DeepSeekProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepseek.com"
	}

	return &DeepSeekProvider{
		Provider: openaicompat.New(openaicompat.Config{
			ProviderName:  "deepseek",
			APIKey:        cfg.APIKey,
			BaseURL:       cfg.BaseURL,
			DefaultModel:  cfg.Model,
			FallbackModel: "deepseek-chat",
			Timeout:       cfg.Timeout,
			EndpointPath:  "/chat/completions",
			RequestHook:   deepseekRequestHook,
		}, logger),
	}
}

// deepseekRequestHook handles DeepSeek-specific request modifications.
// Selects the deepseek-reasoner model for thinking/extended reasoning modes
// when the request names no model; an explicit req.Model is kept.
func deepseekRequestHook(req *llm.ChatRequest, body *providers.OpenAICompatRequest) {
	if req.ReasoningMode == "thinking" || req.ReasoningMode == "extended" {
		if req.Model == "" {
			body.Model = "deepseek-reasoner"
		}
	}
}
