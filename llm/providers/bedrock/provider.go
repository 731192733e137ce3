// Package bedrock implements the AWS Bedrock provider for Anthropic
// Claude models hosted on Bedrock (the "anthropic.claude-*" model
// family), using the Messages-API-shaped InvokeModel body Bedrock
// expects for that family.
package bedrock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/litellm-go/litellm/internal/transport"
	"github.com/litellm-go/litellm/llm"
	"github.com/litellm-go/litellm/llm/providers"
	"github.com/litellm-go/litellm/types"
	"go.uber.org/zap"
)

const anthropicBedrockVersion = "bedrock-2023-05-31"

// BedrockProvider adapts AWS Bedrock's InvokeModel API for Claude models.
type BedrockProvider struct {
	region  string
	modelID string

	signer *signer
	client *http.Client
	logger *zap.Logger
}

// NewBedrockProvider creates a provider bound to a single Bedrock model ID
// (e.g. "anthropic.claude-3-5-sonnet-20241022-v2:0").
func NewBedrockProvider(cfg providers.BedrockConfig, logger *zap.Logger) *BedrockProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &BedrockProvider{
		region:  cfg.Region,
		modelID: cfg.Model,
		signer:  newSigner(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken, cfg.Region),
		client:  transport.Client(transport.Config{Timeout: timeout, MaxIdleConnsPerHost: 16}),
		logger:  logger,
	}
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) SupportsNativeFunctionCalling() bool { return true }

func (p *BedrockProvider) ListModels(ctx context.Context) ([]llm.Model, error) { return nil, nil }

func (p *BedrockProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	_, err := p.Completion(ctx, &llm.ChatRequest{
		Model:     p.modelID,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	return &llm.HealthStatus{Healthy: err == nil, Latency: time.Since(start)}, nil
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type invokeRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []bedrockMessage `json:"messages"`
	System           string           `json:"system,omitempty"`
	Temperature      float32          `json:"temperature,omitempty"`
}

type invokeResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *BedrockProvider) buildBody(req *llm.ChatRequest) (*invokeRequest, string) {
	body := &invokeRequest{
		AnthropicVersion: anthropicBedrockVersion,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = 4096
	}
	var system string
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			system = m.Content
			continue
		}
		body.Messages = append(body.Messages, bedrockMessage{Role: string(m.Role), Content: m.Content})
	}
	body.System = system

	model := req.Model
	if model == "" {
		model = p.modelID
	}
	return body, model
}

func (p *BedrockProvider) endpoint(modelID string, stream bool) string {
	action := "invoke"
	if stream {
		action = "invoke-with-response-stream"
	}
	return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/%s", p.region, modelID, action)
}

// Completion sends a synchronous InvokeModel request.
func (p *BedrockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body, model := p.buildBody(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &types.Error{Code: types.ErrInvalidRequest, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(model, false), bytes.NewReader(payload))
	if err != nil {
		return nil, &types.Error{Code: types.ErrInvalidRequest, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	p.signer.Sign(httpReq, payload, time.Now())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &types.Error{Code: types.ErrAPIConnection, Message: err.Error(), Retryable: true, Provider: "bedrock"}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, providers.MapHTTPError(resp.StatusCode, string(respBody), "bedrock")
	}

	var out invokeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), Provider: "bedrock"}
	}

	var text string
	for _, c := range out.Content {
		text += c.Text
	}

	return &llm.ChatResponse{
		ID:        out.ID,
		Provider:  "bedrock",
		Model:     out.Model,
		CreatedAt: time.Now(),
		Usage: llm.ChatUsage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		},
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: out.StopReason,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
		}},
	}, nil
}

// Stream emits the complete response as a single terminal chunk.
//
// TODO: decode Bedrock's vnd.amazon.eventstream framing for incremental
// deltas instead of buffering the full InvokeModel response.
func (p *BedrockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, err := p.Completion(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamChunk, 1)
	choice := resp.Choices[0]
	ch <- llm.StreamChunk{
		ID:           resp.ID,
		Provider:     "bedrock",
		Model:        resp.Model,
		Delta:        choice.Message,
		FinishReason: choice.FinishReason,
		Usage:        &resp.Usage,
	}
	close(ch)
	return ch, nil
}
